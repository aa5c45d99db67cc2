package models

import (
	"time"

	"gorm.io/datatypes"
)

// SignalRecord: одна телеметрия устройства. Только вставка; удаляет лишь retention.
type SignalRecord struct {
	ID         uint           `gorm:"primaryKey" json:"-"`
	DeviceCode string         `gorm:"size:32;not null;index:idx_signal_device_time,priority:1" json:"device_id"`
	Lat        float64        `gorm:"not null" json:"lat"`
	Lon        float64        `gorm:"not null" json:"lon"`
	SoC        float64        `gorm:"column:soc;not null" json:"soc"`
	Time       time.Time      `gorm:"column:signal_time;not null;index:idx_signal_device_time,priority:2" json:"time"`
	ReceivedAt time.Time      `gorm:"not null;index" json:"received_at"`
	Payload    datatypes.JSON `json:"-"` // сырое тело от устройства
}

func (SignalRecord) TableName() string { return "signal_records" }
