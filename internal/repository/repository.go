// Package repository описывает хранилище перевозок, миссий и истории GPS.
package repository

import (
	"context"
	"errors"
	"time"

	"kidride-backend/internal/models"
)

var (
	ErrNotFound = errors.New("документ не найден")
	// ErrMissionAlreadyActive для перевозки уже есть незавершенная миссия
	ErrMissionAlreadyActive = errors.New("для перевозки уже есть активная миссия")
	// ErrMissionCompleted миссия завершена, изменения запрещены
	ErrMissionCompleted = errors.New("миссия уже завершена")
	// ErrStalePosition позиция старше уже сохраненной
	ErrStalePosition = errors.New("позиция устарела")
	// ErrTransportNotStartable перевозка завершена или отменена
	ErrTransportNotStartable = errors.New("перевозку нельзя начать в текущем статусе")
	// ErrTransportNotCancellable перевозка уже начата или закрыта
	ErrTransportNotCancellable = errors.New("отменить можно только запланированную перевозку")
	// ErrTransportStatusConflict статус перевозки изменился до условного обновления
	ErrTransportStatusConflict = errors.New("статус перевозки изменился")
)

type TransportRepository interface {
	Create(ctx context.Context, t *models.ScheduledTransport) error
	Get(ctx context.Context, id string) (*models.ScheduledTransport, error)
	ListByParent(ctx context.Context, parentID string) ([]models.ScheduledTransport, error)
	ListByDriver(ctx context.Context, driverID string) ([]models.ScheduledTransport, error)
	UpdateStatus(ctx context.Context, id string, status models.TransportStatus) error
	// UpdateStatusIf меняет статус, только если текущий входит в from. Иначе ErrTransportStatusConflict.
	UpdateStatusIf(ctx context.Context, id string, to models.TransportStatus, from ...models.TransportStatus) error
	// Cancel отменяет запланированную перевозку без открытой миссии. Иначе ErrTransportNotCancellable.
	Cancel(ctx context.Context, id string) (*models.ScheduledTransport, error)
}

type MissionRepository interface {
	// Create атомарно проверяет, что перевозку можно начать и у нее нет незавершенной миссии,
	// и создает новую. Ошибки: ErrNotFound, ErrTransportNotStartable, ErrMissionAlreadyActive.
	Create(ctx context.Context, m *models.ActiveMission) error
	Get(ctx context.Context, id string) (*models.ActiveMission, error)
	// FindOpenByTransport возвращает незавершенную миссию перевозки или ErrNotFound
	FindOpenByTransport(ctx context.Context, transportID string) (*models.ActiveMission, error)
	ListByDriver(ctx context.Context, driverID string, statuses ...models.MissionStatus) ([]models.ActiveMission, error)
	// UpdatePosition перезаписывает текущую позицию, если она не старше сохраненной,
	// и переводит started в in_progress (promoted). Ошибки: ErrNotFound, ErrMissionCompleted, ErrStalePosition.
	UpdatePosition(ctx context.Context, id string, pos models.Position) (mission *models.ActiveMission, promoted bool, err error)
	// Complete переводит миссию в completed. Ошибки: ErrNotFound, ErrMissionCompleted.
	Complete(ctx context.Context, id string, at time.Time) (*models.ActiveMission, error)
}

type PositionRepository interface {
	Append(ctx context.Context, p *models.GPSPosition) error
	ListByMission(ctx context.Context, missionID string) ([]models.GPSPosition, error)
}

// Store набор репозиториев одного хранилища
type Store struct {
	Transports TransportRepository
	Missions   MissionRepository
	Positions  PositionRepository
}
