package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/logging"
)

// HTTPListener serves an HTTP entrypoint over TCP, with TLS when a cert
// resolver is set, and optionally HTTP/3 on the same UDP port.
type HTTPListener struct {
	id          string
	address     string
	server      *http.Server
	tlsCfg      *tls.Config
	http3Server *http3.Server
	udpConn     net.PacketConn
	release     func() bool

	mu    sync.Mutex
	bound string
}

type HTTPListenerConfig struct {
	ID      string
	Address string
	Handler http.Handler
	// TLS enables HTTPS; its GetCertificate comes from a cert resolver.
	TLS          *tls.Config
	EnableHTTP3  bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewHTTPListener validates cfg and prepares the servers without binding.
func NewHTTPListener(cfg HTTPListenerConfig) (*HTTPListener, error) {
	if cfg.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if cfg.EnableHTTP3 && cfg.TLS == nil {
		return nil, errors.New("http3 requires a cert resolver")
	}
	h := &HTTPListener{
		id:      cfg.ID,
		address: cfg.Address,
		tlsCfg:  cfg.TLS,
	}

	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 180 * time.Second
	}

	handler := cfg.Handler
	if cfg.EnableHTTP3 {
		h.http3Server = &http3.Server{
			Handler:   cfg.Handler,
			TLSConfig: http3.ConfigureTLSConfig(cfg.TLS),
		}
		// advertise h3 on TCP responses
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.http3Server.SetQUICHeaders(w.Header())
			cfg.Handler.ServeHTTP(w, r)
		})
	}

	// no read or write timeout unless configured
	h.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
		TLSConfig:         cfg.TLS,
		ErrorLog:          zap.NewStdLog(logging.Global().Named("http")),
	}
	return h, nil
}

func (h *HTTPListener) ID() string {
	return h.id
}

func (h *HTTPListener) Protocol() string {
	return ProtocolHTTP
}

// Addr returns the bound address once started.
func (h *HTTPListener) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bound != "" {
		return h.bound
	}
	return h.address
}

// TLS reports whether the listener terminates TLS.
func (h *HTTPListener) TLS() bool { return h.tlsCfg != nil }

// Start binds the TCP (and for HTTP/3, UDP) socket and serves in the
// background.
func (h *HTTPListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.address, err)
	}
	h.mu.Lock()
	h.bound = ln.Addr().String()
	h.mu.Unlock()

	if h.http3Server != nil {
		// same port as TCP, which matters when the address asked for :0
		udpConn, err := net.ListenPacket("udp", h.bound)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to listen UDP for HTTP/3 on %s: %w", h.bound, err)
		}
		h.udpConn = udpConn
		go func() {
			if err := h.http3Server.Serve(udpConn); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
				logging.Error("HTTP/3 listener failed", zap.String("listener", h.id), zap.Error(err))
			}
		}()
	}

	go func() {
		var err error
		if h.tlsCfg != nil {
			err = h.server.ServeTLS(ln, "", "")
		} else {
			err = h.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP listener failed", zap.String("listener", h.id), zap.Error(err))
		}
	}()

	h.release = context.AfterFunc(ctx, func() {
		h.server.Close()
		if h.http3Server != nil {
			h.http3Server.Close()
		}
	})
	return nil
}

// Stop stops the HTTP listener, waiting for in-flight requests until ctx
// ends. Hijacked connections (CONNECT tunnels) are not waited for.
func (h *HTTPListener) Stop(ctx context.Context) error {
	if h.release != nil {
		h.release()
	}
	if h.http3Server != nil {
		h.http3Server.Close()
	}
	if h.udpConn != nil {
		h.udpConn.Close()
	}
	err := h.server.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return h.server.Close()
	}
	return err
}

func (h *HTTPListener) Server() *http.Server {
	return h.server
}
