package models

import (
	"time"
)

type TransportStatus string

const (
	TransportStatusScheduled  TransportStatus = "scheduled"   // Запланирована
	TransportStatusInProgress TransportStatus = "in_progress" // Водитель начал миссию
	TransportStatusCompleted  TransportStatus = "completed"   // Завершена
	TransportStatusCancelled  TransportStatus = "cancelled"   // Отменена родителем
)

func (s TransportStatus) Valid() bool {
	switch s {
	case TransportStatusScheduled, TransportStatusInProgress, TransportStatusCompleted, TransportStatusCancelled:
		return true
	}
	return false
}

// Startable по перевозке можно начать миссию
func (s TransportStatus) Startable() bool {
	return s == TransportStatusScheduled || s == TransportStatusInProgress
}

// StartableTransportStatuses статусы, из которых перевозка переходит в in_progress
var StartableTransportStatuses = []TransportStatus{TransportStatusScheduled, TransportStatusInProgress}

type TransportDirection string

const (
	DirectionOutbound  TransportDirection = "outbound"   // Туда
	DirectionReturn    TransportDirection = "return"     // Обратно
	DirectionRoundTrip TransportDirection = "round_trip" // Туда и обратно
)

func (d TransportDirection) Valid() bool {
	switch d {
	case DirectionOutbound, DirectionReturn, DirectionRoundTrip:
		return true
	}
	return false
}

// Place адрес с координатами
type Place struct {
	Address string  `json:"address" gorm:"type:text"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// Coordinates возвращает координаты точки
func (p Place) Coordinates() Coordinates {
	return Coordinates{Lat: p.Lat, Lng: p.Lng}
}

// ScheduledTransport запланированная перевозка ребенка
type ScheduledTransport struct {
	ID             string             `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ParentID       string             `json:"parentId" gorm:"index;not null;type:varchar(128)"`
	DriverID       string             `json:"driverId" gorm:"index;not null;type:varchar(128)"`
	ChildID        string             `json:"childId" gorm:"type:varchar(128)"`
	ChildName      string             `json:"childName" gorm:"type:varchar(255)"`
	ScheduledAt    time.Time          `json:"scheduledAt" gorm:"not null"`
	Direction      TransportDirection `json:"direction" gorm:"type:varchar(20);not null"`
	Origin         Place              `json:"origin" gorm:"embedded;embeddedPrefix:origin_"`
	Destination    Place              `json:"destination" gorm:"embedded;embeddedPrefix:destination_"`
	DistanceMeters float64            `json:"distanceMeters"`
	Status         TransportStatus    `json:"status" gorm:"type:varchar(20);default:'scheduled'"`
	CreatedAt      time.Time          `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt      time.Time          `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (ScheduledTransport) TableName() string {
	return "scheduled_transports"
}

// Validate проверяет документ перевозки после чтения из хранилища
func (t *ScheduledTransport) Validate() error {
	if t.ID == "" {
		return &DecodeError{Entity: "scheduled_transport", Field: "id", Reason: "пустой идентификатор"}
	}
	if !t.Status.Valid() {
		return &DecodeError{Entity: "scheduled_transport", ID: t.ID, Field: "status", Reason: "неизвестный статус " + string(t.Status)}
	}
	if !t.Direction.Valid() {
		return &DecodeError{Entity: "scheduled_transport", ID: t.ID, Field: "direction", Reason: "неизвестное направление " + string(t.Direction)}
	}
	if err := validateCoordinates("scheduled_transport", t.ID, "origin", t.Origin.Lat, t.Origin.Lng); err != nil {
		return err
	}
	return validateCoordinates("scheduled_transport", t.ID, "destination", t.Destination.Lat, t.Destination.Lng)
}

// Involves пользователь является родителем или водителем перевозки
func (t *ScheduledTransport) Involves(userID string) bool {
	return userID != "" && (t.ParentID == userID || t.DriverID == userID)
}
