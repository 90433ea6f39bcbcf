package models

import (
	"time"

	"gorm.io/gorm"
)

type MissionStatus string

const (
	MissionStatusStarted    MissionStatus = "started"     // Миссия создана, позиций еще нет
	MissionStatusInProgress MissionStatus = "in_progress" // Получена первая позиция
	MissionStatusCompleted  MissionStatus = "completed"   // Терминальный статус
)

func (s MissionStatus) Valid() bool {
	switch s {
	case MissionStatusStarted, MissionStatusInProgress, MissionStatusCompleted:
		return true
	}
	return false
}

// Open миссия еще не завершена
func (s MissionStatus) Open() bool {
	return s == MissionStatusStarted || s == MissionStatusInProgress
}

// CanMoveTo статус миссии может двигаться только вперед
func (s MissionStatus) CanMoveTo(next MissionStatus) bool {
	return missionStatusRank(next) > missionStatusRank(s)
}

func missionStatusRank(s MissionStatus) int {
	switch s {
	case MissionStatusStarted:
		return 1
	case MissionStatusInProgress:
		return 2
	case MissionStatusCompleted:
		return 3
	}
	return 0
}

// OpenMissionStatuses статусы, по которым родитель видит живую миссию
var OpenMissionStatuses = []MissionStatus{MissionStatusStarted, MissionStatusInProgress}

// Coordinates пара широта/долгота в градусах
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Position текущее положение водителя в миссии
type Position struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// ActiveMission живая проекция перевозки, пока водитель в пути
type ActiveMission struct {
	ID               string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	DriverID         string        `json:"driverId" gorm:"not null;type:varchar(128);index:idx_active_missions_driver_status,priority:1"`
	TransportID      string        `json:"transportId" gorm:"not null;type:varchar(36);index"`
	ChildName        string        `json:"childName" gorm:"type:varchar(255)"`
	Origin           Place         `json:"origin" gorm:"embedded;embeddedPrefix:origin_"`
	Destination      Place         `json:"destination" gorm:"embedded;embeddedPrefix:destination_"`
	Status           MissionStatus `json:"status" gorm:"type:varchar(20);not null;index:idx_active_missions_driver_status,priority:2"`
	StartTime        time.Time     `json:"startTime" gorm:"not null"`
	EstimatedArrival *time.Time    `json:"estimatedArrival,omitempty"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`
	CurrentPosition  *Position     `json:"currentPosition,omitempty" gorm:"embedded;embeddedPrefix:position_"`
	UpdatedAt        time.Time     `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (ActiveMission) TableName() string {
	return "active_missions"
}

// AfterFind колонки позиции без значения означают, что позиции еще нет
func (m *ActiveMission) AfterFind(tx *gorm.DB) error {
	if m.CurrentPosition != nil && m.CurrentPosition.Timestamp.IsZero() {
		m.CurrentPosition = nil
	}
	return nil
}

// Validate проверяет документ миссии после чтения из хранилища
func (m *ActiveMission) Validate() error {
	if m.ID == "" {
		return &DecodeError{Entity: "active_mission", Field: "id", Reason: "пустой идентификатор"}
	}
	if m.TransportID == "" {
		return &DecodeError{Entity: "active_mission", ID: m.ID, Field: "transportId", Reason: "нет ссылки на перевозку"}
	}
	if !m.Status.Valid() {
		return &DecodeError{Entity: "active_mission", ID: m.ID, Field: "status", Reason: "неизвестный статус " + string(m.Status)}
	}
	if m.Status == MissionStatusCompleted && m.CompletedAt == nil {
		return &DecodeError{Entity: "active_mission", ID: m.ID, Field: "completedAt", Reason: "у завершенной миссии нет времени завершения"}
	}
	if m.CurrentPosition != nil {
		return validateCoordinates("active_mission", m.ID, "currentPosition", m.CurrentPosition.Lat, m.CurrentPosition.Lng)
	}
	return nil
}

// Clone копия миссии для отдачи наружу без общих указателей
func (m *ActiveMission) Clone() *ActiveMission {
	if m == nil {
		return nil
	}
	c := *m
	if m.EstimatedArrival != nil {
		t := *m.EstimatedArrival
		c.EstimatedArrival = &t
	}
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		c.CompletedAt = &t
	}
	if m.CurrentPosition != nil {
		p := *m.CurrentPosition
		c.CurrentPosition = &p
	}
	return &c
}
