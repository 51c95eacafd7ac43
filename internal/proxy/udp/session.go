package udp

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// session is one client's dedicated backend socket.
type session struct {
	client  netip.AddrPort
	router  string
	backend *net.UDPConn
	last    atomic.Int64 // unix nanos of the last datagram either way
}

func (s *session) touch() {
	s.last.Store(time.Now().UnixNano())
}

func (s *session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.last.Load()))
}

// sessionTable tracks sessions by client address and expires idle ones.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[netip.AddrPort]*session
	timeout  time.Duration
}

func newSessionTable(timeout time.Duration) *sessionTable {
	return &sessionTable{sessions: make(map[netip.AddrPort]*session), timeout: timeout}
}

func (t *sessionTable) get(client netip.AddrPort) (*session, bool) {
	t.mu.Lock()
	s, ok := t.sessions[client]
	t.mu.Unlock()
	if ok {
		s.touch()
	}
	return s, ok
}

func (t *sessionTable) add(s *session) {
	s.touch()
	t.mu.Lock()
	if old, ok := t.sessions[s.client]; ok {
		old.backend.Close()
	}
	t.sessions[s.client] = s
	t.mu.Unlock()
}

// remove drops s if it is still the client's current session.
func (t *sessionTable) remove(s *session) {
	t.mu.Lock()
	if cur, ok := t.sessions[s.client]; ok && cur == s {
		delete(t.sessions, s.client)
	}
	t.mu.Unlock()
	s.backend.Close()
}

// expire closes sessions idle for longer than the timeout.
func (t *sessionTable) expire(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, s := range t.sessions {
		if s.idleSince(now) > t.timeout {
			s.backend.Close()
			delete(t.sessions, k)
			n++
		}
	}
	return n
}

func (t *sessionTable) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, s := range t.sessions {
		s.backend.Close()
		delete(t.sessions, k)
	}
}

func (t *sessionTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
