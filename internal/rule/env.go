package rule

import (
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// Request is the view of an HTTP request that rules can observe.
type Request struct {
	Method   string
	Host     string
	Path     string
	RawQuery string
	ClientIP netip.Addr

	query url.Values
}

func (r *Request) queryValues() url.Values {
	if r.query == nil {
		r.query, _ = url.ParseQuery(r.RawQuery)
	}
	return r.query
}

// Conn is the view of a TCP connection that rules can observe.
type Conn struct {
	SNI      string
	ClientIP netip.Addr
}

// StripPort removes a trailing :port from a host, keeping IPv6 brackets off.
func StripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}

type httpEnv struct {
	req  *Request
	lits *literals
}

func (e httpEnv) Host(host string) bool {
	return strings.EqualFold(StripPort(e.req.Host), host)
}

func (e httpEnv) HostRegexp(pattern string) bool {
	re, ok := e.lits.regexps[pattern]
	return ok && re.MatchString(strings.ToLower(StripPort(e.req.Host)))
}

func (e httpEnv) Path(path string) bool {
	return e.req.Path == path
}

func (e httpEnv) PathPrefix(prefix string) bool {
	return strings.HasPrefix(e.req.Path, prefix)
}

func (e httpEnv) PathRegexp(pattern string) bool {
	re, ok := e.lits.regexps[pattern]
	return ok && re.MatchString(e.req.Path)
}

func (e httpEnv) Method(method string) bool {
	return strings.EqualFold(e.req.Method, method)
}

func (e httpEnv) Query(key, value string) bool {
	for _, v := range e.req.queryValues()[key] {
		if v == value {
			return true
		}
	}
	return false
}

func (e httpEnv) ClientIP(cidr string) bool {
	return containsIP(e.lits, cidr, e.req.ClientIP)
}

type tcpEnv struct {
	conn *Conn
	lits *literals
}

func (e tcpEnv) HostSNI(name string) bool {
	return name == "*" || strings.EqualFold(e.conn.SNI, name)
}

func (e tcpEnv) HostSNIRegexp(pattern string) bool {
	re, ok := e.lits.regexps[pattern]
	return ok && e.conn.SNI != "" && re.MatchString(strings.ToLower(e.conn.SNI))
}

func (e tcpEnv) ClientIP(cidr string) bool {
	return containsIP(e.lits, cidr, e.conn.ClientIP)
}

func containsIP(lits *literals, cidr string, ip netip.Addr) bool {
	p, ok := lits.prefixes[cidr]
	return ok && ip.IsValid() && p.Contains(ip.Unmap())
}
