// Package rule compiles router rules such as
//
//	Host(`a.com`) && (PathPrefix(`/api`) || Method(`POST`))
//
// into predicates evaluated against a request or a TCP connection.
package rule

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/logging"
)

// Kind is the matcher flavour a rule was compiled for.
type Kind int

const (
	KindHTTP Kind = iota
	KindTCP
)

// ParseError is returned when a rule cannot be compiled.
type ParseError struct {
	Rule string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid rule %q: %v", e.Rule, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Rule is a compiled, immutable predicate.
type Rule struct {
	raw     string
	kind    Kind
	program *vm.Program
	args    *literals
}

// literals holds per-rule values prepared at compile time.
type literals struct {
	regexps  map[string]*regexp.Regexp
	prefixes map[string]netip.Prefix
	sni      bool // rule inspects the TLS server name
}

// Raw returns the rule as written.
func (r *Rule) Raw() string { return r.raw }

// Len is the length of the raw rule, used to break priority ties.
func (r *Rule) Len() int { return len(r.raw) }

// NeedsSNI reports whether matching depends on the TLS server name.
func (r *Rule) NeedsSNI() bool { return r.args.sni }

var (
	httpPrimitives = map[string]argKind{
		"Host":       argPlain,
		"HostRegexp": argRegexp,
		"Path":       argPlain,
		"PathPrefix": argPlain,
		"PathRegexp": argRegexp,
		"Method":     argPlain,
		"Query":      argPlain,
		"ClientIP":   argCIDR,
	}
	tcpPrimitives = map[string]argKind{
		"HostSNI":       argPlain,
		"HostSNIRegexp": argRegexp,
		"ClientIP":      argCIDR,
	}
)

type argKind int

const (
	argPlain argKind = iota
	argRegexp
	argCIDR
)

// CompileHTTP compiles a rule over HTTP request attributes.
func CompileHTTP(raw string) (*Rule, error) {
	return compile(raw, KindHTTP, httpPrimitives, httpEnv{})
}

// CompileTCP compiles a rule over TCP connection attributes.
func CompileTCP(raw string) (*Rule, error) {
	return compile(raw, KindTCP, tcpPrimitives, tcpEnv{})
}

func compile(raw string, kind Kind, primitives map[string]argKind, env any) (*Rule, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &ParseError{Rule: raw, Err: fmt.Errorf("empty rule")}
	}
	src, err := normalizeQuotes(raw)
	if err != nil {
		return nil, &ParseError{Rule: raw, Err: err}
	}

	tree, err := parser.Parse(src)
	if err != nil {
		return nil, &ParseError{Rule: raw, Err: err}
	}
	c := &collector{
		primitives: primitives,
		lits: &literals{
			regexps:  make(map[string]*regexp.Regexp),
			prefixes: make(map[string]netip.Prefix),
		},
	}
	ast.Walk(&tree.Node, c)
	if c.err != nil {
		return nil, &ParseError{Rule: raw, Err: c.err}
	}

	program, err := expr.Compile(src, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, &ParseError{Rule: raw, Err: err}
	}
	return &Rule{raw: raw, kind: kind, program: program, args: c.lits}, nil
}

// collector checks primitive arguments and precompiles regexps and CIDRs.
type collector struct {
	primitives map[string]argKind
	lits       *literals
	err        error
}

func (c *collector) Visit(node *ast.Node) {
	if c.err != nil {
		return
	}
	call, ok := (*node).(*ast.CallNode)
	if !ok {
		return
	}
	ident, ok := call.Callee.(*ast.IdentifierNode)
	if !ok {
		return
	}
	kind, known := c.primitives[ident.Value]
	if !known {
		c.err = fmt.Errorf("unknown matcher %s", ident.Value)
		return
	}
	for _, arg := range call.Arguments {
		s, ok := arg.(*ast.StringNode)
		if !ok {
			c.err = fmt.Errorf("%s: arguments must be string literals", ident.Value)
			return
		}
		switch kind {
		case argRegexp:
			re, err := regexp.Compile(s.Value)
			if err != nil {
				c.err = fmt.Errorf("%s: %w", ident.Value, err)
				return
			}
			c.lits.regexps[s.Value] = re
		case argCIDR:
			p, err := parsePrefix(s.Value)
			if err != nil {
				c.err = fmt.Errorf("%s: %w", ident.Value, err)
				return
			}
			c.lits.prefixes[s.Value] = p
		}
		if ident.Value == "HostSNIRegexp" || (ident.Value == "HostSNI" && s.Value != "*") {
			c.lits.sni = true
		}
	}
}

// parsePrefix accepts a CIDR or a bare address.
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// normalizeQuotes rewrites backtick literals as double-quoted strings.
func normalizeQuotes(raw string) (string, error) {
	if !strings.Contains(raw, "`") {
		return raw, nil
	}
	var b strings.Builder
	b.Grow(len(raw) + 8)
	for i := 0; i < len(raw); i++ {
		switch ch := raw[i]; ch {
		case '"', '\'':
			end := closingQuote(raw, i)
			if end < 0 {
				return "", fmt.Errorf("unterminated string at offset %d", i)
			}
			b.WriteString(raw[i : end+1])
			i = end
		case '`':
			end := strings.IndexByte(raw[i+1:], '`')
			if end < 0 {
				return "", fmt.Errorf("unterminated string at offset %d", i)
			}
			b.WriteString(fmt.Sprintf("%q", raw[i+1:i+1+end]))
			i += end + 1
		default:
			b.WriteByte(ch)
		}
	}
	return b.String(), nil
}

func closingQuote(s string, start int) int {
	q := s[start]
	for j := start + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j
		}
	}
	return -1
}

// MatchHTTP evaluates an HTTP rule. Evaluation errors count as no match.
func (r *Rule) MatchHTTP(req *Request) bool {
	if r.kind != KindHTTP {
		return false
	}
	return r.run(httpEnv{req: req, lits: r.args})
}

// MatchTCP evaluates a TCP rule. Evaluation errors count as no match.
func (r *Rule) MatchTCP(conn *Conn) bool {
	if r.kind != KindTCP {
		return false
	}
	return r.run(tcpEnv{conn: conn, lits: r.args})
}

func (r *Rule) run(env any) bool {
	out, err := expr.Run(r.program, env)
	if err != nil {
		logging.Error("rule evaluation error", zap.String("rule", r.raw), zap.Error(err))
		return false
	}
	matched, ok := out.(bool)
	return ok && matched
}
