package repo

import (
	"context"

	"gorm.io/gorm"

	"fuelalert/internal/models"
)

type DeviceStore struct{ db *gorm.DB }

func NewDeviceStore(db *gorm.DB) *DeviceStore { return &DeviceStore{db: db} }

// ByAPIKey: точное совпадение по уникальному индексу api_key.
func (s *DeviceStore) ByAPIKey(ctx context.Context, key string) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).Where("api_key = ?", key).First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// ByUserID: обратный поиск устройства владельца.
func (s *DeviceStore) ByUserID(ctx context.Context, userID uint) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *DeviceStore) ByCode(ctx context.Context, code string) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}
