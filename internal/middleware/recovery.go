package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
)

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 500レスポンスを返すミドルウェアを生成する。
// Sentryが初期化されている場合はpanicを送信する。未初期化の場合、送信は何もしない。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}

					attrs := []any{
						slog.Any("panic", rec),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("stack", string(debug.Stack())),
					}
					if clientID, ok := ClientIDFromContext(r.Context()); ok {
						attrs = append(attrs, slog.String("client_id", clientID))
					}
					slog.Error("panic recovered", attrs...)

					hub := sentry.CurrentHub().Clone()
					hub.Scope().SetRequest(r)
					if eventID := hub.RecoverWithContext(r.Context(), rec); eventID != nil {
						hub.Flush(2 * time.Second)
					}

					WriteInternalServerError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
