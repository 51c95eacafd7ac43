package tcp

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

type closeWriter interface {
	CloseWrite() error
}

// idleConn pushes the deadline forward on every successful read or write.
type idleConn struct {
	net.Conn
	idle time.Duration
}

func (c *idleConn) Read(b []byte) (int, error) {
	if c.idle > 0 {
		c.Conn.SetDeadline(time.Now().Add(c.idle))
	}
	return c.Conn.Read(b)
}

func (c *idleConn) Write(b []byte) (int, error) {
	if c.idle > 0 {
		c.Conn.SetDeadline(time.Now().Add(c.idle))
	}
	return c.Conn.Write(b)
}

// Pipe copies bytes both ways between a and b until both directions are
// done. When one side reaches EOF the other side's write half is closed
// so the peer sees EOF too. Both connections are closed on return. The
// first error other than EOF or a closed connection is returned. idle,
// when positive, tears the pipe down after that long without traffic.
func Pipe(a, b net.Conn, idle time.Duration) error {
	errc := make(chan error, 2)
	cp := func(dst, src net.Conn) {
		_, err := io.Copy(&idleConn{Conn: dst, idle: idle}, &idleConn{Conn: src, idle: idle})
		if cw, ok := dst.(closeWriter); ok {
			cw.CloseWrite()
		} else {
			dst.Close()
		}
		errc <- err
	}
	go cp(b, a)
	go cp(a, b)

	err := <-errc
	if err != nil {
		// a failed direction aborts the other one
		a.Close()
		b.Close()
	}
	if err2 := <-errc; err == nil {
		err = err2
	}
	a.Close()
	b.Close()
	if isClosedErr(err) {
		return nil
	}
	return err
}

func isClosedErr(err error) bool {
	return err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

// IsTimeout reports whether err is an idle deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
