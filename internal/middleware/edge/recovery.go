package edge

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/errors"
	"github.com/wudi/verkehr/internal/logging"
)

// Recovery turns a handler panic into a 500 for that request only.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recovery() Wrapper {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				perr := errors.ErrInternalServer.WithDetails(fmt.Sprintf("panic: %v", rec))
				if id := RequestIDFrom(r.Context()); id != "" {
					perr = perr.WithRequestID(id)
				}
				perr.WriteJSON(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
