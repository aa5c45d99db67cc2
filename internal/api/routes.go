package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"fuelalert/internal/auth"
)

const Prefix = "/api/v1"

// RegisterRoutes вешает все маршруты дважды: под /api/v1 и от корня.
func RegisterRoutes(r *mux.Router, h *Handler) {
	bearer := auth.Require(auth.BearerStrategy{Users: h.accounts}, h.log)
	apiKey := auth.Require(auth.APIKeyStrategy{Devices: h.accounts}, h.log)

	v1 := r.PathPrefix(Prefix).Subrouter()
	for _, sub := range []*mux.Router{v1, r} {
		sub.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)
		sub.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
		sub.Handle("/auth/me", bearer(http.HandlerFunc(h.Me))).Methods(http.MethodGet)
		sub.Handle("/fuel-alert", apiKey(http.HandlerFunc(h.FuelAlert))).Methods(http.MethodPost)
		sub.Handle("/device/stations", bearer(http.HandlerFunc(h.Stations))).Methods(http.MethodGet)
		sub.Handle("/device/me", bearer(http.HandlerFunc(h.DeviceMe))).Methods(http.MethodGet)
		sub.Handle("/device/latest", bearer(http.HandlerFunc(h.DeviceLatest))).Methods(http.MethodGet)
	}
}
