// Package auth содержит две независимые стратегии аутентификации: bearer-токен
// пользователя и API-ключ устройства. Стратегия выбирается на маршруте,
// запасного пути между ними нет.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"fuelalert/internal/apperr"
	"fuelalert/internal/httpx"
	"fuelalert/internal/models"
)

const APIKeyHeader = "X-API-Key"

// Principal: результат аутентификации; заполнено ровно одно поле.
type Principal struct {
	User   *models.User
	Device *models.Device
}

type Strategy interface {
	Authenticate(r *http.Request) (Principal, error)
	// Scheme: значение WWW-Authenticate при отказе.
	Scheme() string
}

type UserResolver interface {
	UserByToken(ctx context.Context, raw string) (*models.User, error)
}

type DeviceResolver interface {
	AuthenticateDevice(ctx context.Context, apiKey string) (*models.Device, error)
}

type BearerStrategy struct{ Users UserResolver }

func (b BearerStrategy) Scheme() string { return "Bearer" }

func (b BearerStrategy) Authenticate(r *http.Request) (Principal, error) {
	h := r.Header.Get("Authorization")
	scheme, raw, ok := strings.Cut(h, " ")
	if h == "" || !ok || !strings.EqualFold(scheme, "Bearer") {
		return Principal{}, apperr.Unauthorized("missing bearer token")
	}
	u, err := b.Users.UserByToken(r.Context(), strings.TrimSpace(raw))
	if err != nil {
		return Principal{}, err
	}
	return Principal{User: u}, nil
}

type APIKeyStrategy struct{ Devices DeviceResolver }

func (a APIKeyStrategy) Scheme() string { return "ApiKey" }

func (a APIKeyStrategy) Authenticate(r *http.Request) (Principal, error) {
	d, err := a.Devices.AuthenticateDevice(r.Context(), r.Header.Get(APIKeyHeader))
	if err != nil {
		return Principal{}, err
	}
	return Principal{Device: d}, nil
}

type ctxKey struct{}

// Require пропускает запрос дальше только с принципалом от strategy.
func Require(strategy Strategy, log logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := strategy.Authenticate(r)
			if err != nil {
				if apperr.KindOf(err) == apperr.KindUnauthorized {
					w.Header().Set("WWW-Authenticate", strategy.Scheme())
				}
				httpx.WriteError(w, r, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, p)))
		})
	}
}

func principal(ctx context.Context) Principal {
	p, _ := ctx.Value(ctxKey{}).(Principal)
	return p
}

// UserFrom: пользователь, проверенный BearerStrategy; nil на других маршрутах.
func UserFrom(ctx context.Context) *models.User { return principal(ctx).User }

// DeviceFrom: устройство, проверенное APIKeyStrategy.
func DeviceFrom(ctx context.Context) *models.Device { return principal(ctx).Device }
