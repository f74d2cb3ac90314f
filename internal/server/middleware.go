package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/greymarch/greymarch-server/internal/session"
)

// sessionHeader carries the session ID on authenticated requests.
const sessionHeader = "X-Session-ID"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// ChainMiddleware applies middlewares so the first listed runs outermost.
func ChainMiddleware(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// RecoverMiddleware turns handler panics into 500 responses.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in handler",
						zap.String("path", r.URL.Path),
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()),
					)
					writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware logs one line per request.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}

// publicPaths need no session: account bootstrap, health, and the WS
// upgrade, which validates its session itself.
var publicPaths = map[string]bool{
	"/healthz":                    true,
	"/api/register":               true,
	"/api/login":                  true,
	"/api/admin/login":            true,
	"/api/password-reset/request": true,
	"/api/password-reset/confirm": true,
	"/ws":                         true,
}

type contextKey string

const sessionContextKey contextKey = "session"

// SessionMiddleware validates the session header on protected paths and
// stores the session in the request context.
func SessionMiddleware(sessions session.Manager) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			sessionID := r.Header.Get(sessionHeader)
			if sessionID == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody("session required"))
				return
			}

			sess, ok := sessions.GetSession(sessionID)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody("session not found"))
				return
			}
			sess.UpdateActivity()

			ctx := context.WithValue(r.Context(), sessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// sessionFromContext returns the session placed by SessionMiddleware.
func sessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*session.Session)
	return sess, ok
}
