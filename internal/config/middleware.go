package config

import "time"

// Direction selects the pipeline phase a direction-aware middleware runs in.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Middleware is a tagged union: exactly one variant must be set.
type Middleware struct {
	AddPrefix      *AddPrefix      `yaml:"addPrefix,omitempty" json:"addPrefix,omitempty"`
	BasicAuth      *BasicAuth      `yaml:"basicAuth,omitempty" json:"basicAuth,omitempty"`
	Compress       *Compress       `yaml:"compress,omitempty" json:"compress,omitempty"`
	Cors           *Cors           `yaml:"cors,omitempty" json:"cors,omitempty"`
	Headers        *Headers        `yaml:"headers,omitempty" json:"headers,omitempty"`
	RedirectScheme *RedirectScheme `yaml:"redirectScheme,omitempty" json:"redirectScheme,omitempty"`
	RateLimit      *RateLimit      `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	Retry          *Retry          `yaml:"retry,omitempty" json:"retry,omitempty"`
	StripPrefix    *StripPrefix    `yaml:"stripPrefix,omitempty" json:"stripPrefix,omitempty"`
	ForwardAuth    *ForwardAuth    `yaml:"forwardAuth,omitempty" json:"forwardAuth,omitempty"`
	IPAllowList    *IPAllowList    `yaml:"ipAllowList,omitempty" json:"ipAllowList,omitempty"`
}

// Variants lists the configured variant names in declaration order.
func (m *Middleware) Variants() []string {
	var set []string
	add := func(ok bool, name string) {
		if ok {
			set = append(set, name)
		}
	}
	add(m.AddPrefix != nil, "addPrefix")
	add(m.BasicAuth != nil, "basicAuth")
	add(m.Compress != nil, "compress")
	add(m.Cors != nil, "cors")
	add(m.Headers != nil, "headers")
	add(m.RedirectScheme != nil, "redirectScheme")
	add(m.RateLimit != nil, "rateLimit")
	add(m.Retry != nil, "retry")
	add(m.StripPrefix != nil, "stripPrefix")
	add(m.ForwardAuth != nil, "forwardAuth")
	add(m.IPAllowList != nil, "ipAllowList")
	return set
}

type AddPrefix struct {
	Prefix string `yaml:"prefix" json:"prefix"`
}

type StripPrefix struct {
	Prefixes []string `yaml:"prefixes" json:"prefixes"`
}

// BasicAuth users are "name:hash" entries; bcrypt, {SHA} and $apr1$ hashes are accepted.
type BasicAuth struct {
	Users []string `yaml:"users" json:"users"`
	// Header overrides the credential header, Authorization by default.
	Header       string `yaml:"header,omitempty" json:"header,omitempty"`
	HeaderField  string `yaml:"headerField,omitempty" json:"headerField,omitempty"`
	RemoveHeader bool   `yaml:"removeHeader,omitempty" json:"removeHeader,omitempty"`
	Realm        string `yaml:"realm,omitempty" json:"realm,omitempty"`
}

type Compress struct {
	Direction            Direction `yaml:"direction,omitempty" json:"direction,omitempty"`
	ExcludedContentTypes []string  `yaml:"excludedContentTypes,omitempty" json:"excludedContentTypes,omitempty"`
	MinResponseBodyBytes int       `yaml:"minResponseBodyBytes,omitempty" json:"minResponseBodyBytes,omitempty"`
	// Encodings in preference order; gzip when empty.
	Encodings []string `yaml:"encodings,omitempty" json:"encodings,omitempty"`
}

type Cors struct {
	Origin  string `yaml:"origin" json:"origin"`
	Methods string `yaml:"methods" json:"methods"`
	Headers string `yaml:"headers" json:"headers"`
	Age     string `yaml:"age" json:"age"`
}

// Headers sets headers on the request (incoming) or the response
// (outgoing). An empty value removes the header.
type Headers struct {
	Direction     Direction         `yaml:"direction,omitempty" json:"direction,omitempty"`
	CustomHeaders map[string]string `yaml:"customHeaders,omitempty" json:"customHeaders,omitempty"`
}

type RedirectScheme struct {
	Scheme    string `yaml:"scheme" json:"scheme"`
	Port      string `yaml:"port,omitempty" json:"port,omitempty"`
	Permanent bool   `yaml:"permanent,omitempty" json:"permanent,omitempty"`
}

type RateLimit struct {
	Average int64         `yaml:"average" json:"average"`
	Period  time.Duration `yaml:"period,omitempty" json:"period,omitempty"`
	Burst   int64         `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// Retry is accepted as configuration only; no retries are performed.
type Retry struct {
	Attempts        int           `yaml:"attempts" json:"attempts"`
	InitialInterval time.Duration `yaml:"initialInterval,omitempty" json:"initialInterval,omitempty"`
}

type ForwardAuth struct {
	Address             string        `yaml:"address" json:"address"`
	TrustForwardHeader  bool          `yaml:"trustForwardHeader,omitempty" json:"trustForwardHeader,omitempty"`
	AuthResponseHeaders []string      `yaml:"authResponseHeaders,omitempty" json:"authResponseHeaders,omitempty"`
	AuthRequestHeaders  []string      `yaml:"authRequestHeaders,omitempty" json:"authRequestHeaders,omitempty"`
	Timeout             time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

type IPAllowList struct {
	SourceRange []string `yaml:"sourceRange" json:"sourceRange"`
}
