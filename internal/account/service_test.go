package account

import (
	"context"
	"testing"
	"time"

	"fuelalert/internal/apperr"
	"fuelalert/internal/db/dbtest"
	"fuelalert/internal/logs"
	"fuelalert/internal/models"
	"fuelalert/internal/repo"
	"fuelalert/internal/secrets"
	"fuelalert/internal/token"
)

func newService(t *testing.T) (*Service, *token.Service) {
	t.Helper()
	gdb := dbtest.Open(t)
	tokens := token.New("test-secret", "fuelalert", time.Hour)
	hasher := secrets.New(secrets.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1})
	s, err := New(repo.NewUserStore(gdb), repo.NewDeviceStore(gdb), hasher, tokens, logs.Discard())
	if err != nil {
		t.Fatal(err)
	}
	return s, tokens
}

func TestRegister(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	u, d, err := s.Register(ctx, "  A@X.com ", "password123")
	if err != nil {
		t.Fatal(err)
	}
	if u.Email != "a@x.com" {
		t.Errorf("email = %q, want normalised", u.Email)
	}
	if u.PasswordHash == "password123" || u.PasswordHash == "" {
		t.Errorf("password stored as %q", u.PasswordHash)
	}
	if d.Name != models.DefaultDeviceName || d.Code != models.DeviceCode(u.ID) || len(d.APIKey) != 32 {
		t.Errorf("device = %+v", d)
	}

	if _, _, err := s.Register(ctx, "a@x.com", "password456"); !apperr.Is(err, apperr.KindDuplicateEmail) {
		t.Errorf("duplicate err = %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newService(t)
	cases := map[string][2]string{
		"bad email":     {"not-an-email", "password123"},
		"empty email":   {"", "password123"},
		"short pass":    {"a@x.com", "1234567"},
		"long password": {"a@x.com", string(make([]byte, 73))},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := s.Register(context.Background(), in[0], in[1]); !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
}

func TestAuthenticateUserAndLogin(t *testing.T) {
	s, tokens := newService(t)
	ctx := context.Background()
	if _, _, err := s.Register(ctx, "a@x.com", "password123"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AuthenticateUser(ctx, "a@x.com", "wrong-pass"); !apperr.Is(err, apperr.KindInvalidCredentials) {
		t.Errorf("wrong password err = %v", err)
	}
	_, errUnknown := s.AuthenticateUser(ctx, "b@x.com", "password123")
	if !apperr.Is(errUnknown, apperr.KindInvalidCredentials) {
		t.Errorf("unknown email err = %v", errUnknown)
	}
	if apperr.Message(errUnknown) != "invalid email or password" {
		t.Errorf("unknown email message = %q", apperr.Message(errUnknown))
	}

	tok, err := s.Login(ctx, "A@x.com", "password123")
	if err != nil {
		t.Fatal(err)
	}
	if tok.TokenType != "bearer" || tok.AccessToken == "" {
		t.Fatalf("token = %+v", tok)
	}
	sub, err := tokens.Verify(tok.AccessToken)
	if err != nil || sub != "a@x.com" {
		t.Fatalf("subject = %q, %v", sub, err)
	}

	u, err := s.UserByToken(ctx, tok.AccessToken)
	if err != nil || u.Email != "a@x.com" {
		t.Fatalf("UserByToken = %v, %v", u, err)
	}
}

func TestUserByTokenRejects(t *testing.T) {
	s, tokens := newService(t)
	ctx := context.Background()

	if _, err := s.UserByToken(ctx, ""); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("empty token err = %v", err)
	}
	if _, err := s.UserByToken(ctx, "garbage"); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("garbage token err = %v", err)
	}
	// валидная подпись, но такого пользователя нет
	raw, _, _ := tokens.Issue("ghost@x.com")
	if _, err := s.UserByToken(ctx, raw); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Errorf("unknown subject err = %v", err)
	}
}

func TestAuthenticateDevice(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	_, d, err := s.Register(ctx, "a@x.com", "password123")
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.AuthenticateDevice(ctx, d.APIKey)
	if err != nil || got.Code != d.Code {
		t.Fatalf("AuthenticateDevice = %v, %v", got, err)
	}

	_, err = s.AuthenticateDevice(ctx, "")
	if !apperr.Is(err, apperr.KindUnauthorized) || apperr.Message(err) != "missing API key" {
		t.Errorf("missing key err = %v", err)
	}
	_, err = s.AuthenticateDevice(ctx, d.APIKey[:31])
	if !apperr.Is(err, apperr.KindUnauthorized) || apperr.Message(err) != "invalid API key" {
		t.Errorf("invalid key err = %v", err)
	}
}
