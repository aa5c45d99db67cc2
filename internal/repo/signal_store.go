package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"fuelalert/internal/models"
)

type SignalStore struct{ db *gorm.DB }

func NewSignalStore(db *gorm.DB) *SignalStore { return &SignalStore{db: db} }

func (s *SignalStore) Insert(ctx context.Context, rec *models.SignalRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

// Latest: последний сигнал по времени устройства.
func (s *SignalStore) Latest(ctx context.Context, deviceCode string) (*models.SignalRecord, error) {
	var rec models.SignalRecord
	err := s.db.WithContext(ctx).
		Where("device_code = ?", deviceCode).
		Order("signal_time desc, id desc").
		Limit(1).
		Take(&rec).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// PurgeBefore удаляет сигналы, полученные строго раньше cutoff.
func (s *SignalStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("received_at < ?", cutoff.UTC()).Delete(&models.SignalRecord{})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}
