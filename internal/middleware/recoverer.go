package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"fuelalert/internal/httpx"
)

// Recoverer перехватывает панику в обработчике, пишет лог со стеком
// и возвращает 500 в формате application/problem+json.
func Recoverer(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					reqid := GetRequestID(r)
					log.WithFields(logrus.Fields{
						"reqid":  reqid,
						"uri":    r.RequestURI,
						"method": r.Method,
					}).Errorf("panic: %v\nstack:\n%s", rec, debug.Stack())
					httpx.WriteProblem(w, r, http.StatusInternalServerError,
						"Internal Server Error",
						"unexpected server error (see logs by request_id)", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
