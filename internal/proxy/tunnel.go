package proxy

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/errors"
	"github.com/wudi/verkehr/internal/logging"
	"github.com/wudi/verkehr/internal/metrics"
	"github.com/wudi/verkehr/internal/proxy/tcp"
)

const (
	defaultTunnelDialTimeout = 10 * time.Second
	defaultTunnelIdleTimeout = 5 * time.Minute
)

var (
	errConnectDisabled = errors.New(http.StatusMethodNotAllowed, "CONNECT Not Allowed")
	errTunnelLimit     = errors.New(http.StatusServiceUnavailable, "Tunnel Limit Reached")
)

// TunnelError is an I/O failure on an established or establishing tunnel.
type TunnelError struct {
	Target string
	Op     string // dial, hijack, handshake, pipe
	Err    error
}

func (e *TunnelError) Error() string {
	return fmt.Sprintf("tunnel %s: %s: %v", e.Target, e.Op, e.Err)
}

func (e *TunnelError) Unwrap() error { return e.Err }

// Tunneler answers CONNECT requests by relaying raw bytes to the target.
type Tunneler struct {
	disabled     bool
	allowedHosts []string
	allowedPorts map[int]bool
	dialTimeout  time.Duration
	idleTimeout  time.Duration
	maxTunnels   int64

	active  atomic.Int64
	metrics *metrics.Collector
	dial    func(network, addr string, timeout time.Duration) (net.Conn, error)
}

func NewTunneler(opts *config.ConnectOptions, m *metrics.Collector) *Tunneler {
	t := &Tunneler{
		dialTimeout: defaultTunnelDialTimeout,
		idleTimeout: defaultTunnelIdleTimeout,
		metrics:     m,
		dial:        net.DialTimeout,
	}
	if opts == nil {
		return t
	}
	t.disabled = opts.Disabled
	for _, h := range opts.AllowedHosts {
		t.allowedHosts = append(t.allowedHosts, strings.ToLower(h))
	}
	if len(opts.AllowedPorts) > 0 {
		t.allowedPorts = make(map[int]bool, len(opts.AllowedPorts))
		for _, p := range opts.AllowedPorts {
			t.allowedPorts[p] = true
		}
	}
	if opts.DialTimeout > 0 {
		t.dialTimeout = opts.DialTimeout
	}
	if opts.IdleTimeout > 0 {
		t.idleTimeout = opts.IdleTimeout
	}
	t.maxTunnels = int64(opts.MaxTunnels)
	return t
}

// Active reports the number of open tunnels.
func (t *Tunneler) Active() int64 { return t.active.Load() }

func (t *Tunneler) allowed(host string, port int) bool {
	if t.allowedPorts != nil && !t.allowedPorts[port] {
		return false
	}
	if len(t.allowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, pattern := range t.allowedHosts {
		if ok, _ := path.Match(pattern, host); ok {
			return true
		}
	}
	return false
}

// ServeHTTP runs a tunnel through Accepted, Upgraded, Piping and Closed.
// Until the upgrade, failures are answered with an HTTP error; after it
// they can only be logged.
func (t *Tunneler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.disabled {
		errConnectDisabled.WriteJSON(w)
		return
	}
	target := r.Host
	if target == "" {
		target = r.URL.Host
	}
	host, portStr, err := net.SplitHostPort(target)
	port, perr := strconv.Atoi(portStr)
	if err != nil || perr != nil || host == "" || port <= 0 || port > 65535 {
		errors.ErrBadRequest.WithDetails("CONNECT target must be host:port").WriteJSON(w)
		return
	}
	if !t.allowed(host, port) {
		errors.ErrForbidden.WithDetails("CONNECT target not allowed").WriteJSON(w)
		return
	}
	if n := t.active.Add(1); t.maxTunnels > 0 && n > t.maxTunnels {
		t.active.Add(-1)
		errTunnelLimit.WriteJSON(w)
		return
	}
	t.metrics.TunnelOpened()
	defer func() {
		t.active.Add(-1)
		t.metrics.TunnelClosed()
	}()

	upstream, err := t.dial("tcp", target, t.dialTimeout)
	if err != nil {
		logging.Warn("tunnel dial failed", zap.Error(&TunnelError{Target: target, Op: "dial", Err: err}))
		errors.ErrBadGateway.WithDetails(err.Error()).WriteJSON(w)
		return
	}

	if r.ProtoMajor >= 2 {
		t.serveStream(w, r, target, upstream)
		return
	}

	client, brw, err := http.NewResponseController(w).Hijack()
	if err != nil {
		upstream.Close()
		logging.Error("tunnel hijack failed", zap.Error(&TunnelError{Target: target, Op: "hijack", Err: err}))
		errors.ErrInternalServer.WriteJSON(w)
		return
	}
	// hijacked connections keep the server's deadlines
	client.SetDeadline(time.Time{})

	if _, err := io.WriteString(client, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		client.Close()
		upstream.Close()
		logging.Warn("tunnel handshake failed", zap.Error(&TunnelError{Target: target, Op: "handshake", Err: err}))
		return
	}
	// bytes the client sent after the request line are still buffered
	if n := brw.Reader.Buffered(); n > 0 {
		pending, _ := brw.Reader.Peek(n)
		if _, err := upstream.Write(pending); err != nil {
			client.Close()
			upstream.Close()
			return
		}
	}

	if err := tcp.Pipe(client, upstream, t.idleTimeout); err != nil {
		if tcp.IsTimeout(err) {
			logging.Debug("tunnel idle, closed", zap.String("target", target))
			return
		}
		logging.Warn("tunnel closed with error", zap.Error(&TunnelError{Target: target, Op: "pipe", Err: err}))
	}
}

// serveStream relays an HTTP/2 or HTTP/3 CONNECT stream, which cannot be
// hijacked: the request body carries client bytes and the response body
// carries target bytes.
func (t *Tunneler) serveStream(w http.ResponseWriter, r *http.Request, target string, upstream net.Conn) {
	defer upstream.Close()
	rc := http.NewResponseController(w)
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logging.Warn("tunnel handshake failed", zap.Error(&TunnelError{Target: target, Op: "handshake", Err: err}))
		return
	}

	// ends when the stream is torn down after the handler returns
	go func() {
		io.Copy(upstream, r.Body)
		if cw, ok := upstream.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
	}()

	buf := make([]byte, 32*1024)
	for {
		upstream.SetReadDeadline(time.Now().Add(t.idleTimeout))
		n, err := upstream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			rc.Flush()
		}
		if err != nil {
			if err != io.EOF {
				logging.Debug("tunnel stream closed", zap.Error(&TunnelError{Target: target, Op: "pipe", Err: err}))
			}
			break
		}
	}
}
