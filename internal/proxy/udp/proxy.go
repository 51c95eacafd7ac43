// Package udp forwards datagrams for UDP routers. Each client address
// gets its own backend socket so replies can be routed back.
package udp

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/logging"
	"github.com/wudi/verkehr/internal/router"
)

type TableSource interface {
	Table() *router.Table
}

type Config struct {
	SessionTimeout time.Duration
	BufferSize     int
}

var DefaultConfig = Config{
	SessionTimeout: 30 * time.Second,
	BufferSize:     64 * 1024,
}

type Forwarder struct {
	entrypoint string
	src        TableSource
	cfg        Config
	sessions   *sessionTable
}

func NewForwarder(entrypoint string, src TableSource, cfg Config) *Forwarder {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultConfig.SessionTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig.BufferSize
	}
	return &Forwarder{
		entrypoint: entrypoint,
		src:        src,
		cfg:        cfg,
		sessions:   newSessionTable(cfg.SessionTimeout),
	}
}

// Serve reads datagrams from conn until ctx is done or conn is closed.
func (f *Forwarder) Serve(ctx context.Context, conn *net.UDPConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer f.sessions.closeAll()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	go f.expireLoop(ctx)

	buf := make([]byte, f.cfg.BufferSize)
	for {
		n, client, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		client = netip.AddrPortFrom(client.Addr().Unmap(), client.Port())

		s, ok := f.sessions.get(client)
		if !ok {
			if s, err = f.open(conn, client); err != nil {
				continue
			}
		}
		if _, err := s.backend.Write(buf[:n]); err != nil {
			logging.Debug("udp backend write failed", zap.String("router", s.router), zap.Error(err))
			f.sessions.remove(s)
		}
	}
}

func (f *Forwarder) open(conn *net.UDPConn, client netip.AddrPort) (*session, error) {
	res, err := f.src.Table().SelectUDP(f.entrypoint)
	if err != nil {
		logging.Warn("no udp router", zap.String("entrypoint", f.entrypoint))
		return nil, err
	}
	addr, ok := res.Service.FirstAddress()
	if !ok {
		logging.Warn("udp router has no backend", zap.String("router", res.RouterName))
		return nil, errors.New("no backend")
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		logging.Error("udp backend address invalid", zap.String("backend", addr), zap.Error(err))
		return nil, err
	}
	backend, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		logging.Error("udp backend dial failed", zap.String("backend", addr), zap.Error(err))
		return nil, err
	}

	s := &session{client: client, router: res.RouterName, backend: backend}
	f.sessions.add(s)
	go f.replies(conn, s)
	return s, nil
}

// replies relays backend datagrams to the session's client.
func (f *Forwarder) replies(conn *net.UDPConn, s *session) {
	defer f.sessions.remove(s)
	buf := make([]byte, f.cfg.BufferSize)
	for {
		n, err := s.backend.Read(buf)
		if err != nil {
			return
		}
		s.touch()
		if _, err := conn.WriteToUDPAddrPort(buf[:n], s.client); err != nil {
			return
		}
	}
}

func (f *Forwarder) expireLoop(ctx context.Context) {
	interval := f.cfg.SessionTimeout / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := f.sessions.expire(now); n > 0 {
				logging.Debug("udp sessions expired", zap.String("entrypoint", f.entrypoint), zap.Int("count", n))
			}
		}
	}
}

// Sessions reports the number of live sessions.
func (f *Forwarder) Sessions() int {
	return f.sessions.len()
}
