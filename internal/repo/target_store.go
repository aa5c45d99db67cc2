package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"fuelalert/internal/models"
)

type TargetStore struct{ db *gorm.DB }

func NewTargetStore(db *gorm.DB) *TargetStore { return &TargetStore{db: db} }

// Replace заменяет весь кэш устройства одним поколением.
// delete+insert в одной транзакции: читатель видит либо старый набор, либо новый.
func (s *TargetStore) Replace(ctx context.Context, deviceCode string, targets []models.CachedTarget, cachedAt time.Time) error {
	cachedAt = cachedAt.UTC()
	rows := make([]models.CachedTarget, len(targets))
	for i, t := range targets {
		t.ID = 0
		t.DeviceCode = deviceCode
		t.CachedAt = cachedAt
		rows[i] = t
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_code = ?", deviceCode).Delete(&models.CachedTarget{}).Error; err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert cache: %w", err)
		}
		return nil
	})
}

// Latest: текущее поколение; пустой кэш (никогда не было или вычищен) → ErrNotFound.
func (s *TargetStore) Latest(ctx context.Context, deviceCode string) ([]models.CachedTarget, error) {
	var rows []models.CachedTarget
	err := s.db.WithContext(ctx).
		Where("device_code = ?", deviceCode).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows, nil
}

// PurgeBefore удаляет записи кэша старше cutoff.
func (s *TargetStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("cached_at < ?", cutoff.UTC()).Delete(&models.CachedTarget{})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}
