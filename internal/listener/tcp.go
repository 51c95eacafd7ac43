package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/logging"
)

// ConnHandler serves one accepted connection and closes it.
type ConnHandler interface {
	Handle(ctx context.Context, conn net.Conn) error
}

// TCPListener accepts connections for one TCP entrypoint.
type TCPListener struct {
	id          string
	address     string
	handler     ConnHandler
	listener    net.Listener
	activeConns atomic.Int64
	connWg      sync.WaitGroup
	cancel      context.CancelFunc
	closeOnce   sync.Once
}

type TCPListenerConfig struct {
	ID      string
	Address string
	Handler ConnHandler
}

// NewTCPListener hands every accepted connection to cfg.Handler.
func NewTCPListener(cfg TCPListenerConfig) (*TCPListener, error) {
	if cfg.Handler == nil {
		return nil, errors.New("handler is required")
	}
	return &TCPListener{
		id:      cfg.ID,
		address: cfg.Address,
		handler: cfg.Handler,
	}, nil
}

func (l *TCPListener) ID() string {
	return l.id
}

func (l *TCPListener) Protocol() string {
	return ProtocolTCP
}

// Addr returns the bound address once started.
func (l *TCPListener) Addr() string {
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return l.address
}

// Start binds the address and runs the accept loop in the background.
func (l *TCPListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.address, err)
	}
	l.listener = ln

	// cancelled by Stop; in-flight connections are closed through it
	ctx, l.cancel = context.WithCancel(ctx)
	go l.acceptLoop(ctx)
	return nil
}

func (l *TCPListener) acceptLoop(ctx context.Context) {
	var delay time.Duration
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			// temporary errors back off up to 1s
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			logging.Error("TCP listener accept error", zap.String("listener", l.id), zap.Error(err))
			time.Sleep(delay)
			continue
		}
		delay = 0

		l.activeConns.Add(1)
		l.connWg.Add(1)
		go l.handleConn(ctx, conn)
	}
}

func (l *TCPListener) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		l.activeConns.Add(-1)
		l.connWg.Done()
	}()
	if err := l.handler.Handle(ctx, conn); err != nil {
		logging.Debug("TCP connection ended with error", zap.String("listener", l.id), zap.Error(err))
	}
}

// Stop closes the listener and waits for active connections until ctx
// ends; connections still open then are closed.
func (l *TCPListener) Stop(ctx context.Context) error {
	if l.listener == nil {
		return nil
	}
	l.closeOnce.Do(func() {
		l.listener.Close()
	})

	done := make(chan struct{})
	go func() {
		l.connWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("TCP listener stop timed out",
			zap.String("listener", l.id),
			zap.Int64("active_connections", l.activeConns.Load()),
		)
	}
	l.cancel()
	return nil
}

// ActiveConnections counts connections still being handled.
func (l *TCPListener) ActiveConnections() int64 {
	return l.activeConns.Load()
}
