package models

import "time"

// VicinityUnknown: подстановка, когда у места нет адреса.
const VicinityUnknown = "Address N/A"

// CachedTarget: одна заправка из последнего поиска для устройства.
// Все строки одного устройства имеют одинаковый CachedAt (одно поколение).
type CachedTarget struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	DeviceCode string    `gorm:"size:32;not null;index" json:"-"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	Lat        float64   `gorm:"not null" json:"lat"`
	Lon        float64   `gorm:"not null" json:"lon"`
	Vicinity   string    `gorm:"size:512" json:"vicinity"`
	CachedAt   time.Time `gorm:"not null;index" json:"-"`
}

func (CachedTarget) TableName() string { return "cached_targets" }
