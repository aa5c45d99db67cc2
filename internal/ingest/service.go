// Package ingest принимает сигнал устройства, пишет его в журнал, ищет
// ближайшие заправки и заменяет кэш устройства новым поколением.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"fuelalert/internal/apperr"
	"fuelalert/internal/events"
	"fuelalert/internal/models"
	"fuelalert/internal/places"
	"fuelalert/internal/repo"
	"fuelalert/internal/validate"
)

const StatusSuccess = "success"

// Signal: тело от устройства. Указатели отличают «нет поля» от нуля.
type Signal struct {
	Lat  *float64   `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon  *float64   `json:"lon" validate:"required,gte=-180,lte=180"`
	SoC  *float64   `json:"soc" validate:"required,gte=0,lte=100"`
	Time *Timestamp `json:"time" validate:"required"`

	Raw json.RawMessage `json:"-" validate:"-"`
}

type Result struct {
	Status  string                `json:"status"`
	Targets []models.CachedTarget `json:"response"`
}

type Options struct {
	Limit   int
	Timeout time.Duration
}

type Service struct {
	signals *repo.SignalStore
	targets *repo.TargetStore
	finder  places.Finder
	events  events.Publisher
	opts    Options
	now     func() time.Time
	log     logrus.FieldLogger
}

func New(signals *repo.SignalStore, targets *repo.TargetStore, finder places.Finder, pub events.Publisher, opts Options, log logrus.FieldLogger) *Service {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{signals: signals, targets: targets, finder: finder, events: pub, opts: opts, now: time.Now, log: log}
}

// WithClock подменяет часы (тесты).
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

// Ingest: валидация → запись сигнала → поиск → замена кэша.
// Ошибка поиска оставляет сигнал записанным, а кэш нетронутым.
func (s *Service) Ingest(ctx context.Context, device *models.Device, sig Signal) (*Result, error) {
	if device == nil {
		return nil, apperr.Unauthorized("missing API key")
	}
	if err := validate.Struct(sig); err != nil {
		return nil, err
	}
	log := s.log.WithField("device", device.Code)

	rec := &models.SignalRecord{
		DeviceCode: device.Code,
		Lat:        *sig.Lat,
		Lon:        *sig.Lon,
		SoC:        *sig.SoC,
		Time:       sig.Time.Time.UTC(),
		ReceivedAt: s.now().UTC(),
	}
	if json.Valid(sig.Raw) {
		rec.Payload = datatypes.JSON(sig.Raw)
	}
	if err := s.signals.Insert(ctx, rec); err != nil {
		return nil, apperr.Store(err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	found, err := s.finder.NearbyFuelStations(lookupCtx, rec.Lat, rec.Lon, s.opts.Limit)
	cancel()
	if err != nil {
		log.WithError(err).Warn("places lookup failed, cache kept")
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "places lookup failed", err)
	}

	targets := Transform(found)
	cachedAt := s.now().UTC()
	if err := s.targets.Replace(ctx, device.Code, targets, cachedAt); err != nil {
		return nil, apperr.Store(err)
	}
	log.WithFields(logrus.Fields{"soc": rec.SoC, "stations": len(targets)}).Info("signal ingested")

	ev := events.SignalIngested{
		DeviceID:   device.Code,
		Lat:        rec.Lat,
		Lon:        rec.Lon,
		SoC:        rec.SoC,
		Time:       rec.Time,
		Stations:   len(targets),
		CachedAt:   cachedAt,
		ReceivedAt: rec.ReceivedAt,
	}
	if err := s.events.PublishSignalIngested(ctx, ev); err != nil {
		log.WithError(err).Warn("publish signal.ingested failed")
	}

	return &Result{Status: StatusSuccess, Targets: targets}, nil
}

// Transform отбрасывает места без имени или координат; пустой адрес → "Address N/A".
func Transform(found []places.Place) []models.CachedTarget {
	out := make([]models.CachedTarget, 0, len(found))
	for _, p := range found {
		if p.Name == "" || !p.HasPoint {
			continue
		}
		vicinity := p.Address
		if vicinity == "" {
			vicinity = models.VicinityUnknown
		}
		out = append(out, models.CachedTarget{Name: p.Name, Lat: p.Lat, Lon: p.Lon, Vicinity: vicinity})
	}
	return out
}
