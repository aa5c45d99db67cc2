package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"fuelalert/internal/db"
	"fuelalert/internal/db/dbtest"
)

func TestHealthRoutes(t *testing.T) {
	gdb := dbtest.Open(t)
	broker := errors.New("mqtt disconnected")
	r := mux.NewRouter()
	RegisterRoutes(r, map[string]Check{
		"database": func(ctx context.Context) error { return db.Ping(ctx, gdb) },
		"mqtt":     func(context.Context) error { return broker },
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", w.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Checks["database"] != "ok" || body.Checks["mqtt"] != "mqtt disconnected" {
		t.Errorf("checks = %v", body.Checks)
	}

	broker = nil
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("readyz after recovery = %d", w.Code)
	}
}
