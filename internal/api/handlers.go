// Package api содержит HTTP-обработчики сервиса.
package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/sirupsen/logrus"

	"fuelalert/internal/account"
	"fuelalert/internal/apperr"
	"fuelalert/internal/auth"
	"fuelalert/internal/httpx"
	"fuelalert/internal/ingest"
	"fuelalert/internal/query"
)

const maxBody = 1 << 20

type Handler struct {
	accounts *account.Service
	ingest   *ingest.Service
	query    *query.Service
	log      logrus.FieldLogger
}

func New(accounts *account.Service, ing *ingest.Service, q *query.Service, log logrus.FieldLogger) *Handler {
	return &Handler{accounts: accounts, ingest: ing, query: q, log: log}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"` // синоним email для OAuth2-клиентов
	Password string `json:"password"`
}

func (c credentialsRequest) login() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Username
}

type userView struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
}

type registerResponse struct {
	User   userView `json:"user"`
	Device struct {
		DeviceID string `json:"device_id"`
		APIKey   string `json:"api_key"`
	} `json:"device"`
}

// POST /auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	u, d, err := h.accounts.Register(r.Context(), in.login(), in.Password)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	var out registerResponse
	out.User = userView{ID: u.ID, Email: u.Email}
	out.Device.DeviceID = d.Code
	// ключ показывается один раз, при регистрации
	out.Device.APIKey = d.APIKey
	httpx.WriteJSON(w, http.StatusCreated, out)
}

// POST /auth/login, JSON {email,password} или форма username/password.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			httpx.WriteError(w, r, h.log, apperr.Wrap(apperr.KindValidation, "malformed form body", err))
			return
		}
		in.Username, in.Password = r.PostFormValue("username"), r.PostFormValue("password")
	} else if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	tok, err := h.accounts.Login(r.Context(), in.login(), in.Password)
	if err != nil {
		if apperr.Is(err, apperr.KindInvalidCredentials) {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tok)
}

// GET /auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFrom(r.Context())
	httpx.WriteJSON(w, http.StatusOK, userView{ID: u.ID, Email: u.Email})
}

// POST /fuel-alert
func (h *Handler) FuelAlert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		httpx.WriteError(w, r, h.log, apperr.Wrap(apperr.KindValidation, "unreadable body", err))
		return
	}
	var sig ingest.Signal
	if err := json.Unmarshal(body, &sig); err != nil {
		httpx.WriteError(w, r, h.log, apperr.Wrap(apperr.KindValidation, "malformed JSON body", err))
		return
	}
	sig.Raw = body

	res, err := h.ingest.Ingest(r.Context(), auth.DeviceFrom(r.Context()), sig)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// GET /device/stations
func (h *Handler) Stations(w http.ResponseWriter, r *http.Request) {
	out, err := h.query.LatestStations(r.Context(), auth.UserFrom(r.Context()))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// GET /device/me
func (h *Handler) DeviceMe(w http.ResponseWriter, r *http.Request) {
	out, err := h.query.MyDevice(r.Context(), auth.UserFrom(r.Context()))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// GET /device/latest
func (h *Handler) DeviceLatest(w http.ResponseWriter, r *http.Request) {
	out, err := h.query.LatestSignal(r.Context(), auth.UserFrom(r.Context()))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}
