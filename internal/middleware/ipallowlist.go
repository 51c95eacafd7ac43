package middleware

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/errors"
)

type ipAllowList struct {
	ranges []netip.Prefix
}

func newIPAllowList(cfg *config.IPAllowList) (*ipAllowList, error) {
	if len(cfg.SourceRange) == 0 {
		return nil, fmt.Errorf("sourceRange is required")
	}
	l := &ipAllowList{}
	for _, s := range cfg.SourceRange {
		var p netip.Prefix
		var err error
		if strings.Contains(s, "/") {
			p, err = netip.ParsePrefix(s)
			p = p.Masked()
		} else {
			var a netip.Addr
			a, err = netip.ParseAddr(s)
			a = a.Unmap()
			p = netip.PrefixFrom(a, a.BitLen())
		}
		if err != nil {
			return nil, fmt.Errorf("sourceRange %q: %w", s, err)
		}
		l.ranges = append(l.ranges, p)
	}
	return l, nil
}

func (l *ipAllowList) incoming(rc *Context) Outcome {
	ip := rc.ClientIP.Unmap()
	for _, p := range l.ranges {
		if p.Contains(ip) {
			return Continue()
		}
	}
	return Respond(ErrorResponse(errors.ErrForbidden))
}
