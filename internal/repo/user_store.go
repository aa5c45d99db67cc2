package repo

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"fuelalert/internal/models"
)

type UserStore struct{ db *gorm.DB }

func NewUserStore(db *gorm.DB) *UserStore { return &UserStore{db: db} }

// NewAccount: данные для атомарной регистрации пользователя с устройством.
type NewAccount struct {
	Email        string
	PasswordHash string
	APIKey       string
	DeviceName   string
}

// CreateWithDevice создаёт User и его Device в одной транзакции.
// Код устройства выводится из id пользователя, поэтому сначала вставляется User.
func (s *UserStore) CreateWithDevice(ctx context.Context, in NewAccount) (*models.User, *models.Device, error) {
	var (
		u models.User
		d models.Device
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("email = ?", in.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrEmailTaken
		}

		u = models.User{Email: in.Email, PasswordHash: in.PasswordHash}
		if err := tx.Create(&u).Error; err != nil {
			if isDuplicate(err) {
				return ErrEmailTaken
			}
			return fmt.Errorf("create user: %w", err)
		}

		d = models.Device{
			Code:   models.DeviceCode(u.ID),
			APIKey: in.APIKey,
			UserID: u.ID,
			Name:   in.DeviceName,
		}
		if err := tx.Create(&d).Error; err != nil {
			return fmt.Errorf("create device: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &u, &d, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *UserStore) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}
