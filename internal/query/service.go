// Package query отдаёт владельцу данные его устройства.
package query

import (
	"context"
	"errors"
	"time"

	"fuelalert/internal/apperr"
	"fuelalert/internal/models"
	"fuelalert/internal/repo"
)

type Service struct {
	devices *repo.DeviceStore
	signals *repo.SignalStore
	targets *repo.TargetStore
}

func New(devices *repo.DeviceStore, signals *repo.SignalStore, targets *repo.TargetStore) *Service {
	return &Service{devices: devices, signals: signals, targets: targets}
}

type Stations struct {
	Status  string                `json:"status"`
	Targets []models.CachedTarget `json:"response"`
}

type DeviceInfo struct {
	DeviceID string  `json:"device_id"`
	Name     string  `json:"name"`
	Model    *string `json:"model"`
}

type LatestSignal struct {
	DeviceID string    `json:"device_id"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	SoC      float64   `json:"soc"`
	Time     time.Time `json:"time"`
}

func (s *Service) device(ctx context.Context, u *models.User) (*models.Device, error) {
	if u == nil {
		return nil, apperr.Unauthorized("missing bearer token")
	}
	d, err := s.devices.ByUserID(ctx, u.ID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil, apperr.NotFound("device not found")
	case err != nil:
		return nil, apperr.Store(err)
	}
	return d, nil
}

// LatestStations: текущее поколение кэша; «не было» и «вычищено» неразличимы.
func (s *Service) LatestStations(ctx context.Context, u *models.User) (*Stations, error) {
	d, err := s.device(ctx, u)
	if err != nil {
		return nil, err
	}
	rows, err := s.targets.Latest(ctx, d.Code)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil, apperr.NotFound("no cached stations found")
	case err != nil:
		return nil, apperr.Store(err)
	}
	return &Stations{Status: "success", Targets: rows}, nil
}

func (s *Service) MyDevice(ctx context.Context, u *models.User) (*DeviceInfo, error) {
	d, err := s.device(ctx, u)
	if err != nil {
		return nil, err
	}
	return &DeviceInfo{DeviceID: d.Code, Name: d.Name, Model: d.Model}, nil
}

func (s *Service) LatestSignal(ctx context.Context, u *models.User) (*LatestSignal, error) {
	d, err := s.device(ctx, u)
	if err != nil {
		return nil, err
	}
	rec, err := s.signals.Latest(ctx, d.Code)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil, apperr.NotFound("no signal data found")
	case err != nil:
		return nil, apperr.Store(err)
	}
	return &LatestSignal{DeviceID: d.Code, Lat: rec.Lat, Lon: rec.Lon, SoC: rec.SoC, Time: rec.Time.UTC()}, nil
}
