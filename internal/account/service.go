// Package account регистрирует пользователей с устройством и проверяет
// оба вида учётных данных: пароль пользователя и API-ключ устройства.
package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fuelalert/internal/apperr"
	"fuelalert/internal/models"
	"fuelalert/internal/repo"
	"fuelalert/internal/secrets"
	"fuelalert/internal/token"
	"fuelalert/internal/validate"
)

const dummyPassword = "fuelalert-timing-equaliser"

type Service struct {
	users   *repo.UserStore
	devices *repo.DeviceStore
	hasher  *secrets.Service
	tokens  *token.Service
	log     logrus.FieldLogger

	dummyHash string
}

func New(users *repo.UserStore, devices *repo.DeviceStore, hasher *secrets.Service, tokens *token.Service, log logrus.FieldLogger) (*Service, error) {
	// хеш-заглушка, чтобы неизвестный email стоил столько же, сколько неверный пароль
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}
	return &Service{users: users, devices: devices, hasher: hasher, tokens: tokens, log: log, dummyHash: dummy}, nil
}

type credentials struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"min=8,max=72"`
}

// Token: ответ на успешный вход.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Register создаёт пользователя и его устройство атомарно.
func (s *Service) Register(ctx context.Context, email, password string) (*models.User, *models.Device, error) {
	in := credentials{Email: normalizeEmail(email), Password: password}
	if err := validate.Struct(in); err != nil {
		return nil, nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindInternal, "internal error", err)
	}
	key, err := secrets.NewAPIKey()
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindInternal, "internal error", err)
	}

	u, d, err := s.users.CreateWithDevice(ctx, repo.NewAccount{
		Email:        in.Email,
		PasswordHash: hash,
		APIKey:       key,
		DeviceName:   models.DefaultDeviceName,
	})
	switch {
	case errors.Is(err, repo.ErrEmailTaken):
		return nil, nil, apperr.New(apperr.KindDuplicateEmail, "email already registered")
	case err != nil:
		return nil, nil, apperr.Store(err)
	}
	s.log.WithFields(logrus.Fields{"user_id": u.ID, "device": d.Code}).Info("account registered")
	return u, d, nil
}

// AuthenticateUser проверяет пароль. Неизвестный email и неверный пароль
// неразличимы ни по ответу, ни по времени.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*models.User, error) {
	invalid := apperr.New(apperr.KindInvalidCredentials, "invalid email or password")

	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, apperr.Store(err)
	}
	digest := s.dummyHash
	if u != nil {
		digest = u.PasswordHash
	}
	ok, verr := s.hasher.Verify(password, digest)
	if verr != nil {
		s.log.WithError(verr).Warn("stored password digest is malformed")
	}
	if u == nil || !ok {
		return nil, invalid
	}
	return u, nil
}

// Login: AuthenticateUser + выпуск токена с subject = email.
func (s *Service) Login(ctx context.Context, email, password string) (*Token, error) {
	u, err := s.AuthenticateUser(ctx, email, password)
	if err != nil {
		return nil, err
	}
	raw, exp, err := s.tokens.Issue(u.Email)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "internal error", err)
	}
	return &Token{AccessToken: raw, TokenType: "bearer", ExpiresAt: exp.UTC()}, nil
}

// UserByToken: пользователь по bearer-токену.
func (s *Service) UserByToken(ctx context.Context, raw string) (*models.User, error) {
	if raw == "" {
		return nil, apperr.Unauthorized("missing bearer token")
	}
	sub, err := s.tokens.Verify(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "invalid or expired token", err)
	}
	u, err := s.users.GetByEmail(ctx, sub)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil, apperr.Unauthorized("invalid or expired token")
	case err != nil:
		return nil, apperr.Store(err)
	}
	return u, nil
}

// AuthenticateDevice: устройство по API-ключу, только точное совпадение.
func (s *Service) AuthenticateDevice(ctx context.Context, apiKey string) (*models.Device, error) {
	if apiKey == "" {
		return nil, apperr.Unauthorized("missing API key")
	}
	d, err := s.devices.ByAPIKey(ctx, apiKey)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil, apperr.Unauthorized("invalid API key")
	case err != nil:
		return nil, apperr.Store(err)
	}
	return d, nil
}
