package listener

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/logging"
)

// PacketServer serves datagrams read from conn until ctx ends.
type PacketServer interface {
	Serve(ctx context.Context, conn *net.UDPConn) error
}

// UDPListener owns the socket of one UDP entrypoint.
type UDPListener struct {
	id      string
	address string
	server  PacketServer
	conn    *net.UDPConn
	cancel  context.CancelFunc
	done    chan struct{}
}

type UDPListenerConfig struct {
	ID      string
	Address string
	Server  PacketServer
}

// NewUDPListener binds nothing until Start.
func NewUDPListener(cfg UDPListenerConfig) (*UDPListener, error) {
	if cfg.Server == nil {
		return nil, errors.New("server is required")
	}
	return &UDPListener{
		id:      cfg.ID,
		address: cfg.Address,
		server:  cfg.Server,
	}, nil
}

func (l *UDPListener) ID() string {
	return l.id
}

func (l *UDPListener) Protocol() string {
	return ProtocolUDP
}

// Addr returns the bound address once started.
func (l *UDPListener) Addr() string {
	if l.conn != nil {
		return l.conn.LocalAddr().String()
	}
	return l.address
}

func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", l.address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP %s: %w", l.address, err)
	}
	l.conn = conn

	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		if err := l.server.Serve(ctx, conn); err != nil && ctx.Err() == nil {
			logging.Error("UDP listener serve error", zap.String("listener", l.id), zap.Error(err))
		}
	}()
	return nil
}

// Stop cancels Serve, closes the socket and waits for Serve to return.
func (l *UDPListener) Stop(ctx context.Context) error {
	if l.cancel == nil {
		return nil
	}
	l.cancel()
	l.conn.Close()

	select {
	case <-l.done:
	case <-ctx.Done():
		logging.Warn("UDP listener stop timed out", zap.String("listener", l.id))
	}
	return nil
}

// Conn is nil before Start.
func (l *UDPListener) Conn() *net.UDPConn {
	return l.conn
}
