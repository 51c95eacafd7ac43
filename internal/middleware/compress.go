package middleware

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/wudi/verkehr/internal/config"
)

const defaultMinCompressSize = 1024

type compress struct {
	disabled  bool // direction explicitly incoming
	minSize   int
	excluded  []string
	encodings []string
}

func newCompress(cfg *config.Compress) (*compress, error) {
	c := &compress{
		disabled: cfg.Direction == config.DirectionIncoming,
		minSize:  cfg.MinResponseBodyBytes,
	}
	if c.minSize <= 0 {
		c.minSize = defaultMinCompressSize
	}
	for _, ct := range cfg.ExcludedContentTypes {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, fmt.Errorf("excluded content type %q: %w", ct, err)
		}
		c.excluded = append(c.excluded, mt)
	}
	for _, enc := range cfg.Encodings {
		switch enc = strings.ToLower(enc); enc {
		case "gzip", "br":
			c.encodings = append(c.encodings, enc)
		default:
			return nil, fmt.Errorf("unsupported encoding %q", enc)
		}
	}
	if len(c.encodings) == 0 {
		c.encodings = []string{"gzip"}
	}
	return c, nil
}

func (c *compress) outgoing(req *http.Request, resp *Response) Outcome {
	if c.disabled || len(resp.Body) < c.minSize {
		return Continue()
	}
	if resp.Header.Get("Content-Encoding") != "" || c.isExcluded(resp.Header.Get("Content-Type")) {
		return Continue()
	}
	enc := c.negotiate(req.Header.Get("Accept-Encoding"))
	if enc == "" {
		return Continue()
	}

	var buf bytes.Buffer
	var w io.WriteCloser
	switch enc {
	case "br":
		w = brotli.NewWriter(&buf)
	default:
		w = gzip.NewWriter(&buf)
	}
	if _, err := w.Write(resp.Body); err != nil {
		return Continue()
	}
	if err := w.Close(); err != nil {
		return Continue()
	}

	resp.Body = buf.Bytes()
	resp.Header.Set("Content-Encoding", enc)
	resp.Header.Del("Content-Length")
	resp.Header.Add("Vary", "Accept-Encoding")
	return Continue()
}

func (c *compress) isExcluded(contentType string) bool {
	if contentType == "" || len(c.excluded) == 0 {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, ex := range c.excluded {
		if mt == ex {
			return true
		}
	}
	return false
}

// negotiate picks the first configured encoding the client accepts.
func (c *compress) negotiate(acceptEncoding string) string {
	if acceptEncoding == "" {
		return ""
	}
	accepted := make(map[string]bool)
	wildcard := false
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		q := 1.0
		if v, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				q = f
			}
		}
		if name == "*" {
			wildcard = q > 0
			continue
		}
		accepted[name] = q > 0
	}
	for _, enc := range c.encodings {
		ok, listed := accepted[enc]
		if ok || (!listed && wildcard) {
			return enc
		}
	}
	return ""
}
