// Package tcp forwards raw TCP connections selected by TCP routers.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/logging"
	"github.com/wudi/verkehr/internal/router"
	"github.com/wudi/verkehr/internal/rule"
)

// TableSource yields the routing table in effect.
type TableSource interface {
	Table() *router.Table
}

type Config struct {
	DialTimeout time.Duration
	IdleTimeout time.Duration
	// PeekTimeout bounds the wait for a ClientHello when a rule needs SNI.
	PeekTimeout time.Duration
}

var DefaultConfig = Config{
	DialTimeout: 10 * time.Second,
	IdleTimeout: 5 * time.Minute,
	PeekTimeout: 5 * time.Second,
}

// Forwarder routes connections accepted on one entrypoint.
type Forwarder struct {
	entrypoint string
	src        TableSource
	cfg        Config
}

func NewForwarder(entrypoint string, src TableSource, cfg Config) *Forwarder {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig.DialTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig.IdleTimeout
	}
	if cfg.PeekTimeout <= 0 {
		cfg.PeekTimeout = DefaultConfig.PeekTimeout
	}
	return &Forwarder{entrypoint: entrypoint, src: src, cfg: cfg}
}

// Handle serves one client connection and closes it.
func (f *Forwarder) Handle(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	tbl := f.src.Table()
	pc := NewPeekConn(conn)
	rc := &rule.Conn{ClientIP: AddrOf(conn.RemoteAddr())}

	if tbl.NeedsSNI(f.entrypoint) {
		conn.SetReadDeadline(time.Now().Add(f.cfg.PeekTimeout))
		sni, err := pc.ServerName()
		conn.SetReadDeadline(time.Time{})
		if err != nil && !errors.Is(err, ErrNotTLS) && !errors.Is(err, ErrNoSNI) {
			logging.Debug("client hello peek failed",
				zap.String("entrypoint", f.entrypoint),
				zap.Error(err),
			)
		}
		rc.SNI = sni
	}

	res, err := tbl.SelectTCP(f.entrypoint, rc)
	if err != nil {
		logging.Warn("no matching tcp router",
			zap.String("entrypoint", f.entrypoint),
			zap.String("sni", rc.SNI),
			zap.String("client", rc.ClientIP.String()),
		)
		return err
	}
	addr, ok := res.Service.FirstAddress()
	if !ok {
		logging.Warn("tcp router has no backend",
			zap.String("router", res.RouterName),
			zap.String("service", res.ServiceName),
		)
		return fmt.Errorf("tcp router %s: no backend", res.RouterName)
	}

	d := net.Dialer{Timeout: f.cfg.DialTimeout}
	backend, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		logging.Error("tcp backend dial failed", zap.String("backend", addr), zap.Error(err))
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	err = Pipe(pc, backend, f.cfg.IdleTimeout)
	switch {
	case err == nil:
	case IsTimeout(err):
		logging.Debug("tcp connection idle, closed",
			zap.String("router", res.RouterName),
			zap.String("backend", addr),
			zap.Duration("idle_timeout", f.cfg.IdleTimeout),
		)
		return nil
	default:
		logging.Warn("tcp pipe closed with error",
			zap.String("router", res.RouterName),
			zap.String("backend", addr),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// AddrOf extracts the IP of a TCP or UDP address.
func AddrOf(a net.Addr) netip.Addr {
	switch v := a.(type) {
	case *net.TCPAddr:
		return v.AddrPort().Addr().Unmap()
	case *net.UDPAddr:
		return v.AddrPort().Addr().Unmap()
	case nil:
		return netip.Addr{}
	}
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return netip.Addr{}
	}
	return ap.Addr().Unmap()
}
