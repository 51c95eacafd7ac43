// Package edge holds the http.Handler wrappers installed around every
// HTTP entrypoint, outside the per-router pipeline.
package edge

import "net/http"

// Wrapper decorates an http.Handler.
type Wrapper func(http.Handler) http.Handler

// Chain is an ordered list of wrappers; the first is outermost.
type Chain struct {
	wrappers []Wrapper
}

func NewChain(wrappers ...Wrapper) *Chain {
	return &Chain{wrappers: wrappers}
}

// Then wraps h with every wrapper of the chain.
func (c *Chain) Then(h http.Handler) http.Handler {
	for i := len(c.wrappers) - 1; i >= 0; i-- {
		h = c.wrappers[i](h)
	}
	return h
}

// Append returns a new chain with wrappers added at the end.
func (c *Chain) Append(wrappers ...Wrapper) *Chain {
	out := make([]Wrapper, 0, len(c.wrappers)+len(wrappers))
	out = append(out, c.wrappers...)
	out = append(out, wrappers...)
	return &Chain{wrappers: out}
}

// AppendIf appends w only when cond holds.
func (c *Chain) AppendIf(cond bool, w Wrapper) *Chain {
	if !cond {
		return c
	}
	return c.Append(w)
}

func (c *Chain) Len() int {
	return len(c.wrappers)
}
