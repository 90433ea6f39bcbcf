package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kidride-backend/internal/models"
)

// openMissionIndexSQL частичный уникальный индекс: не больше одной незавершенной миссии на перевозку
const openMissionIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS ux_active_missions_open_transport
ON active_missions (transport_id) WHERE status <> 'completed'`

// Migrate создает таблицы и индексы
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.ScheduledTransport{},
		&models.ActiveMission{},
		&models.GPSPosition{},
	); err != nil {
		return fmt.Errorf("ошибка миграции: %w", err)
	}
	if err := db.Exec(openMissionIndexSQL).Error; err != nil {
		return fmt.Errorf("ошибка создания индекса активных миссий: %w", err)
	}
	return nil
}

// NewGormStore хранилище поверх PostgreSQL
func NewGormStore(db *gorm.DB) *Store {
	return &Store{
		Transports: &gormTransportRepository{db: db},
		Missions:   &gormMissionRepository{db: db},
		Positions:  &gormPositionRepository{db: db},
	}
}

type gormTransportRepository struct {
	db *gorm.DB
}

func (r *gormTransportRepository) Create(ctx context.Context, t *models.ScheduledTransport) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TransportStatusScheduled
	}
	if err := t.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *gormTransportRepository) Get(ctx context.Context, id string) (*models.ScheduledTransport, error) {
	var t models.ScheduledTransport
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormTransportRepository) ListByParent(ctx context.Context, parentID string) ([]models.ScheduledTransport, error) {
	return r.list(ctx, "parent_id = ?", parentID)
}

func (r *gormTransportRepository) ListByDriver(ctx context.Context, driverID string) ([]models.ScheduledTransport, error) {
	return r.list(ctx, "driver_id = ?", driverID)
}

func (r *gormTransportRepository) list(ctx context.Context, query string, arg string) ([]models.ScheduledTransport, error) {
	var transports []models.ScheduledTransport
	if err := r.db.WithContext(ctx).Where(query, arg).Order("scheduled_at ASC").Find(&transports).Error; err != nil {
		return nil, err
	}
	for i := range transports {
		if err := transports[i].Validate(); err != nil {
			return nil, err
		}
	}
	return transports, nil
}

func (r *gormTransportRepository) UpdateStatus(ctx context.Context, id string, status models.TransportStatus) error {
	res := r.db.WithContext(ctx).Model(&models.ScheduledTransport{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormTransportRepository) UpdateStatusIf(ctx context.Context, id string, to models.TransportStatus, from ...models.TransportStatus) error {
	res := r.db.WithContext(ctx).Model(&models.ScheduledTransport{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrTransportStatusConflict
	}
	return nil
}

func (r *gormTransportRepository) Cancel(ctx context.Context, id string) (*models.ScheduledTransport, error) {
	var t models.ScheduledTransport
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Та же блокировка строки, что и при создании миссии
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if t.Status != models.TransportStatusScheduled {
			return ErrTransportNotCancellable
		}

		var open int64
		if err := tx.Model(&models.ActiveMission{}).
			Where("transport_id = ? AND status IN ?", id, models.OpenMissionStatuses).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ErrTransportNotCancellable
		}
		t.Status = models.TransportStatusCancelled
		return tx.Model(&t).Update("status", t.Status).Error
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type gormMissionRepository struct {
	db *gorm.DB
}

func (r *gormMissionRepository) Create(ctx context.Context, m *models.ActiveMission) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := m.Validate(); err != nil {
		return err
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Блокируем строку перевозки, чтобы параллельные старты и отмена шли по очереди
		var transport models.ScheduledTransport
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "status").
			First(&transport, "id = ?", m.TransportID).Error; err != nil {
			return translate(err)
		}
		if !transport.Status.Startable() {
			return ErrTransportNotStartable
		}

		var open int64
		if err := tx.Model(&models.ActiveMission{}).
			Where("transport_id = ? AND status IN ?", m.TransportID, models.OpenMissionStatuses).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ErrMissionAlreadyActive
		}
		return tx.Create(m).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrMissionAlreadyActive
	}
	return err
}

func (r *gormMissionRepository) Get(ctx context.Context, id string) (*models.ActiveMission, error) {
	var m models.ActiveMission
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormMissionRepository) FindOpenByTransport(ctx context.Context, transportID string) (*models.ActiveMission, error) {
	var m models.ActiveMission
	err := r.db.WithContext(ctx).
		Where("transport_id = ? AND status IN ?", transportID, models.OpenMissionStatuses).
		Order("start_time DESC").
		First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormMissionRepository) ListByDriver(ctx context.Context, driverID string, statuses ...models.MissionStatus) ([]models.ActiveMission, error) {
	q := r.db.WithContext(ctx).Where("driver_id = ?", driverID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var missions []models.ActiveMission
	if err := q.Order("start_time DESC").Find(&missions).Error; err != nil {
		return nil, err
	}
	for i := range missions {
		if err := missions[i].Validate(); err != nil {
			return nil, err
		}
	}
	return missions, nil
}

func (r *gormMissionRepository) UpdatePosition(ctx context.Context, id string, pos models.Position) (*models.ActiveMission, bool, error) {
	var (
		m        models.ActiveMission
		promoted bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if err := m.Validate(); err != nil {
			return err
		}
		if !m.Status.Open() {
			return ErrMissionCompleted
		}
		if m.CurrentPosition != nil && pos.Timestamp.Before(m.CurrentPosition.Timestamp) {
			return ErrStalePosition
		}

		// Условие повторяется в запросе: позиция не старше сохраненной, миссия открыта
		res := tx.Model(&models.ActiveMission{}).
			Where("id = ? AND status IN ?", id, models.OpenMissionStatuses).
			Where("position_timestamp IS NULL OR position_timestamp <= ?", pos.Timestamp).
			Updates(map[string]interface{}{
				"position_lat":       pos.Lat,
				"position_lng":       pos.Lng,
				"position_timestamp": pos.Timestamp,
				"status":             models.MissionStatusInProgress,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStalePosition
		}

		promoted = m.Status == models.MissionStatusStarted
		p := pos
		m.CurrentPosition = &p
		m.Status = models.MissionStatusInProgress
		return nil
	})
	switch {
	case err == nil:
		return &m, promoted, nil
	case errors.Is(err, ErrMissionCompleted), errors.Is(err, ErrStalePosition):
		return &m, false, err
	default:
		return nil, false, err
	}
}

func (r *gormMissionRepository) Complete(ctx context.Context, id string, at time.Time) (*models.ActiveMission, error) {
	res := r.db.WithContext(ctx).Model(&models.ActiveMission{}).
		Where("id = ? AND status IN ?", id, models.OpenMissionStatuses).
		Updates(map[string]interface{}{
			"status":       models.MissionStatusCompleted,
			"completed_at": at,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return current, ErrMissionCompleted
	}
	return current, nil
}

type gormPositionRepository struct {
	db *gorm.DB
}

func (r *gormPositionRepository) Append(ctx context.Context, p *models.GPSPosition) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *gormPositionRepository) ListByMission(ctx context.Context, missionID string) ([]models.GPSPosition, error) {
	var positions []models.GPSPosition
	if err := r.db.WithContext(ctx).
		Where("mission_id = ?", missionID).
		Order("captured_at ASC, recorded_at ASC").
		Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
