package router

import (
	"github.com/wudi/verkehr/internal/errors"
	"github.com/wudi/verkehr/internal/rule"
)

// Select returns the highest precedence router bound to entrypoint whose
// rule matches req, or errors.ErrRoutingNotFound.
func (t *Table) Select(entrypoint string, req *rule.Request) (*Resolution, error) {
	for _, res := range t.http[entrypoint] {
		if res.rule.MatchHTTP(req) {
			return res, nil
		}
	}
	return nil, errors.ErrRoutingNotFound
}

// SelectTCP is Select for TCP connections.
func (t *Table) SelectTCP(entrypoint string, conn *rule.Conn) (*TCPResolution, error) {
	for _, res := range t.tcp[entrypoint] {
		if res.rule.MatchTCP(conn) {
			return res, nil
		}
	}
	return nil, errors.ErrRoutingNotFound
}

// SelectUDP returns the UDP router of entrypoint with the highest
// priority. UDP routers carry no rule.
func (t *Table) SelectUDP(entrypoint string) (*UDPResolution, error) {
	if list := t.udp[entrypoint]; len(list) > 0 {
		return list[0], nil
	}
	return nil, errors.ErrRoutingNotFound
}

// NeedsSNI reports whether any TCP rule on entrypoint inspects the TLS
// server name, in which case the ClientHello must be peeked first.
func (t *Table) NeedsSNI(entrypoint string) bool {
	return t.sni[entrypoint]
}
