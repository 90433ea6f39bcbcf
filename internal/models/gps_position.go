package models

import (
	"time"
)

// GPSPosition неизменяемая запись истории перемещений. Только добавление.
type GPSPosition struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DriverID   string    `json:"driverId" gorm:"not null;type:varchar(128)"`
	MissionID  string    `json:"missionId" gorm:"not null;type:varchar(36);index"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	CapturedAt time.Time `json:"capturedAt" gorm:"not null"`       // время с устройства
	RecordedAt time.Time `json:"recordedAt" gorm:"autoCreateTime"` // время записи на сервере
}

func (GPSPosition) TableName() string {
	return "gps_positions"
}

func (p *GPSPosition) Validate() error {
	if p.MissionID == "" {
		return &DecodeError{Entity: "gps_position", ID: p.ID, Field: "missionId", Reason: "нет ссылки на миссию"}
	}
	return validateCoordinates("gps_position", p.ID, "position", p.Lat, p.Lng)
}
