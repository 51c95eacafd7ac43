package middleware

import "time"

// retry is a configuration surface only. Both phases continue; requests
// are never re-sent.
type retry struct {
	attempts        int
	initialInterval time.Duration
}

// RetryPolicy reports the configured policy of a Retry middleware.
func (m *Middleware) RetryPolicy() (attempts int, initialInterval time.Duration, ok bool) {
	if m.kind != KindRetry {
		return 0, 0, false
	}
	return m.retry.attempts, m.retry.initialInterval, true
}
