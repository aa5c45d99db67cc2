// Package httpx пишет JSON-ответы и ошибки RFC 7807 (problem+json).
package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"fuelalert/internal/apperr"
)

// Problem представляет ответ об ошибке в стиле RFC 7807.
type Problem struct {
	Type      string `json:"type,omitempty"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Extra     any    `json:"extra,omitempty"` // произвольные поля (map/struct)
}

type ctxKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(ctxKey{}).(string)
	return s
}

func WriteProblem(w http.ResponseWriter, r *http.Request, status int, title, detail string, extra any) {
	p := Problem{Title: title, Status: status, Detail: detail, Extra: extra}
	if r != nil {
		p.Instance = r.URL.Path
		p.RequestID = RequestID(r.Context())
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Status: HTTP-код для класса ошибки.
func Status(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindDuplicateEmail:
		return http.StatusConflict
	case apperr.KindInvalidCredentials, apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError пишет problem по классу ошибки. Причина уходит только в лог.
func WriteError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	kind := apperr.KindOf(err)
	status := Status(kind)
	if log != nil {
		entry := log.WithFields(logrus.Fields{
			"reqid": RequestID(r.Context()),
			"kind":  kind.String(),
			"path":  r.URL.Path,
		})
		if status >= http.StatusInternalServerError {
			entry.WithError(err).Error("request failed")
		} else {
			entry.WithError(err).Debug("request rejected")
		}
	}
	WriteProblem(w, r, status, http.StatusText(status), apperr.Message(err), nil)
}

// DecodeJSON читает тело запроса в v; лишние поля игнорируются.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return apperr.Validation("request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.KindValidation, "malformed JSON body", err)
	}
	return nil
}
