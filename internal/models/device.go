package models

import (
	"fmt"
	"time"
)

const DefaultDeviceName = "My Device"

// Device: полевое устройство пользователя (1:1 с User).
// APIKey: единственный секрет для запросов от устройства.
type Device struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Code   string  `gorm:"uniqueIndex;size:32;not null" json:"device_id"`
	APIKey string  `gorm:"uniqueIndex;size:64;not null" json:"-"`
	UserID uint    `gorm:"uniqueIndex;not null" json:"-"`
	User   *User   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Name   string  `gorm:"size:255" json:"name"`
	Model  *string `gorm:"size:255" json:"model"`
}

func (Device) TableName() string { return "devices" }

// DeviceCode: человекочитаемый код устройства из id владельца: DEV_0007.
func DeviceCode(userID uint) string {
	return fmt.Sprintf("DEV_%04d", userID)
}
