package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ProxyError is an error that is rendered to the client as a JSON body.
type ProxyError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	underlying error
}

func (e *ProxyError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *ProxyError) Unwrap() error {
	return e.underlying
}

// Is reports whether target is the same kind of error, so that derived
// copies made by WithDetails or Wrap still match their singleton.
func (e *ProxyError) Is(target error) bool {
	t, ok := target.(*ProxyError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// Body returns the JSON document written for this error.
func (e *ProxyError) Body() []byte {
	if pre, ok := preSerialized[e]; ok {
		return pre
	}
	b, _ := json.Marshal(e)
	return append(b, '\n')
}

// WriteJSON writes the error as the complete response.
func (e *ProxyError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	w.Write(e.Body())
}

var (
	// ErrRoutingNotFound means no router on the entrypoint matched the request.
	ErrRoutingNotFound = &ProxyError{
		Code:    http.StatusNotFound,
		Message: "Routing Not Found",
	}

	// ErrNoBackendResolvable means the router has no usable server and no redirect fallback.
	ErrNoBackendResolvable = &ProxyError{
		Code:    http.StatusInternalServerError,
		Message: "No Backend Resolvable",
	}

	ErrBadGateway = &ProxyError{
		Code:    http.StatusBadGateway,
		Message: "Bad Gateway",
	}

	ErrGatewayTimeout = &ProxyError{
		Code:    http.StatusGatewayTimeout,
		Message: "Gateway Timeout",
	}

	ErrUnauthorized = &ProxyError{
		Code:    http.StatusUnauthorized,
		Message: "Unauthorized",
	}

	ErrForbidden = &ProxyError{
		Code:    http.StatusForbidden,
		Message: "Forbidden",
	}

	ErrTooManyRequests = &ProxyError{
		Code:    http.StatusTooManyRequests,
		Message: "Too Many Requests",
	}

	ErrBadRequest = &ProxyError{
		Code:    http.StatusBadRequest,
		Message: "Bad Request",
	}

	ErrInternalServer = &ProxyError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}
)

var preSerialized map[*ProxyError][]byte

func init() {
	bases := []*ProxyError{
		ErrRoutingNotFound, ErrNoBackendResolvable, ErrBadGateway,
		ErrGatewayTimeout, ErrUnauthorized, ErrForbidden,
		ErrTooManyRequests, ErrBadRequest, ErrInternalServer,
	}
	preSerialized = make(map[*ProxyError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		preSerialized[e] = append(b, '\n')
	}
}

func New(code int, message string) *ProxyError {
	return &ProxyError{Code: code, Message: message}
}

// Wrap attaches a cause to a new error.
func Wrap(err error, code int, message string) *ProxyError {
	return &ProxyError{Code: code, Message: message, underlying: err}
}

// WithDetails returns a copy carrying details.
func (e *ProxyError) WithDetails(details string) *ProxyError {
	c := *e
	c.Details = details
	return &c
}

// WithRequestID returns a copy carrying the request id.
func (e *ProxyError) WithRequestID(requestID string) *ProxyError {
	c := *e
	c.RequestID = requestID
	return &c
}

// WithCause returns a copy that unwraps to err.
func (e *ProxyError) WithCause(err error) *ProxyError {
	c := *e
	c.underlying = err
	return &c
}

// AsProxyError extracts a *ProxyError from err's chain.
func AsProxyError(err error) (*ProxyError, bool) {
	for err != nil {
		if pe, ok := err.(*ProxyError); ok {
			return pe, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
