package tracking

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"kidride-backend/internal/geo"
	"kidride-backend/internal/middleware"
	"kidride-backend/internal/models"
	"kidride-backend/internal/realtime"
	"kidride-backend/internal/repository"
)

const estimateTimeout = 3 * time.Second

// RouteEstimator оценивает время в пути между двумя точками
type RouteEstimator interface {
	EstimateDuration(ctx context.Context, from, to models.Coordinates) (time.Duration, error)
}

// Notifier уведомляет родителя о начале и завершении миссии
type Notifier interface {
	MissionStarted(ctx context.Context, transport *models.ScheduledTransport, mission *models.ActiveMission) error
	MissionCompleted(ctx context.Context, transport *models.ScheduledTransport, mission *models.ActiveMission) error
}

type Options struct {
	// Publisher по умолчанию локальный хаб
	Publisher realtime.Publisher
	Estimator RouteEstimator
	Notifier  Notifier
	// FallbackSpeedKmh скорость для оценки по прямой, если Estimator недоступен
	FallbackSpeedKmh float64
	MinInterval      time.Duration
	MinDistance      float64
}

// Service операции над миссиями
type Service struct {
	store     *repository.Store
	hub       *realtime.Hub
	publisher realtime.Publisher
	writer    *Writer
	tracker   *Tracker
	estimator RouteEstimator
	fallback  geo.StraightLineEstimator
	notifier  Notifier
	now       func() time.Time
}

func NewService(store *repository.Store, hub *realtime.Hub, opts Options) *Service {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = hub
	}
	writer := NewWriter(store.Missions, store.Positions, publisher)
	return &Service{
		store:     store,
		hub:       hub,
		publisher: publisher,
		writer:    writer,
		tracker:   NewTracker(writer, opts.MinInterval, opts.MinDistance),
		estimator: opts.Estimator,
		fallback:  geo.StraightLineEstimator{SpeedKmh: opts.FallbackSpeedKmh},
		notifier:  opts.Notifier,
		now:       time.Now,
	}
}

// MissionSeed данные новой миссии. Пустые поля берутся из перевозки.
type MissionSeed struct {
	ChildName        string        `json:"childName"`
	Origin           *models.Place `json:"origin,omitempty"`
	Destination      *models.Place `json:"destination,omitempty"`
	EstimatedArrival *time.Time    `json:"estimatedArrival,omitempty"`
}

type StartRequest struct {
	TransportID string
	DriverID    string
	Seed        MissionSeed
	// Source внешний поток позиций. Если nil, позиции проталкивает водитель через Push.
	Source geo.Source
}

// Result итог операции жизненного цикла
type Result struct {
	Mission  *models.ActiveMission `json:"mission"`
	Warnings []Warning             `json:"warnings,omitempty"`
}

// StartMission создает миссию для перевозки и начинает отслеживание.
// Если миссия уже создана, но дальше что-то не получилось, возвращается
// результат вместе с ErrTransportSync или ErrLocationUnavailable.
func (s *Service) StartMission(ctx context.Context, req StartRequest) (*Result, error) {
	fields := log.Fields{"transport_id": req.TransportID, "driver_id": req.DriverID}

	transport, err := s.store.Transports.Get(ctx, req.TransportID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTransportNotFound
		}
		return nil, err
	}
	if transport.DriverID != req.DriverID {
		return nil, ErrNotAssignedDriver
	}
	if !transport.Status.Startable() {
		return nil, ErrTransportNotStartable
	}

	mission := &models.ActiveMission{
		DriverID:    req.DriverID,
		TransportID: transport.ID,
		ChildName:   req.Seed.ChildName,
		Origin:      transport.Origin,
		Destination: transport.Destination,
		Status:      models.MissionStatusStarted,
		StartTime:   s.now(),
	}
	if mission.ChildName == "" {
		mission.ChildName = transport.ChildName
	}
	if req.Seed.Origin != nil {
		mission.Origin = *req.Seed.Origin
	}
	if req.Seed.Destination != nil {
		mission.Destination = *req.Seed.Destination
	}
	mission.EstimatedArrival = req.Seed.EstimatedArrival
	if mission.EstimatedArrival == nil {
		mission.EstimatedArrival = s.estimateArrival(ctx, mission)
	}

	if err := s.store.Missions.Create(ctx, mission); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTransportNotFound
		}
		return nil, err
	}
	middleware.TrackMissionTransition(string(models.MissionStatusStarted))
	fields["mission_id"] = mission.ID
	log.WithFields(fields).Info("Миссия начата")

	result := &Result{Mission: mission.Clone()}
	var partial error

	// Статус перевозки проверяется повторно: завершенную или отмененную перевозку не возвращаем в работу
	if err := s.store.Transports.UpdateStatusIf(ctx, transport.ID, models.TransportStatusInProgress, models.StartableTransportStatuses...); err != nil {
		log.WithFields(fields).WithError(err).Error("Миссия создана, но статус перевозки не обновлен")
		result.Warnings = append(result.Warnings, warn("transport_status", "статус перевозки не обновлен", err))
		partial = ErrTransportSync
	}

	if err := s.publisher.Publish(ctx, transport.ID, mission); err != nil {
		log.WithFields(fields).WithError(err).Warn("Не удалось опубликовать начало миссии")
		result.Warnings = append(result.Warnings, warn("publish", "обновление не разослано подписчикам", err))
	}

	if err := s.tracker.Start(mission.ID, req.DriverID, req.Source); err != nil {
		log.WithFields(fields).WithError(err).Warn("Не удалось начать выборку позиций")
		result.Warnings = append(result.Warnings, warn("sampler", "геолокация недоступна", err))
		if partial == nil {
			partial = ErrLocationUnavailable
		}
	}

	if s.notifier != nil {
		if err := s.notifier.MissionStarted(ctx, transport, mission); err != nil {
			log.WithFields(fields).WithError(err).Warn("Не удалось отправить уведомление о начале миссии")
			result.Warnings = append(result.Warnings, warn("notify", "уведомление не отправлено", err))
		}
	}

	return result, partial
}

func (s *Service) estimateArrival(ctx context.Context, m *models.ActiveMission) *time.Time {
	from, to := m.Origin.Coordinates(), m.Destination.Coordinates()

	var eta time.Duration
	if s.estimator != nil {
		estimateCtx, cancel := context.WithTimeout(ctx, estimateTimeout)
		d, err := s.estimator.EstimateDuration(estimateCtx, from, to)
		cancel()
		if err != nil {
			log.WithField("transport_id", m.TransportID).WithError(err).Warn("Сервис маршрутов недоступен, оцениваем по прямой")
		} else {
			eta = d
		}
	}
	if eta == 0 {
		eta = s.fallback.EstimateDuration(from, to)
	}
	if eta <= 0 {
		return nil
	}
	arrival := m.StartTime.Add(eta)
	return &arrival
}

// CompleteMission завершает миссию. driverID пустой для системных вызовов.
// Ошибка обновления статуса перевозки не делает операцию неуспешной и возвращается как Warning.
func (s *Service) CompleteMission(ctx context.Context, missionID, driverID string) (*Result, error) {
	fields := log.Fields{"mission_id": missionID, "driver_id": driverID}

	current, err := s.store.Missions.Get(ctx, missionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMissionNotFound
		}
		return nil, err
	}
	if driverID != "" && current.DriverID != driverID {
		return nil, ErrNotAssignedDriver
	}

	mission, err := s.store.Missions.Complete(ctx, missionID, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMissionNotFound
		}
		return nil, err
	}
	middleware.TrackMissionTransition(string(models.MissionStatusCompleted))
	log.WithFields(fields).Info("Миссия завершена")

	result := &Result{Mission: mission.Clone()}

	if err := s.store.Transports.UpdateStatus(ctx, mission.TransportID, models.TransportStatusCompleted); err != nil {
		log.WithFields(fields).WithError(err).Error("Миссия завершена, но статус перевозки не обновлен")
		result.Warnings = append(result.Warnings, warn("transport_status", "статус перевозки не обновлен", err))
	}

	s.tracker.Stop(missionID)

	if err := s.publisher.Publish(ctx, mission.TransportID, mission); err != nil {
		log.WithFields(fields).WithError(err).Warn("Не удалось опубликовать завершение миссии")
		result.Warnings = append(result.Warnings, warn("publish", "обновление не разослано подписчикам", err))
	}

	if s.notifier != nil {
		transport, err := s.store.Transports.Get(ctx, mission.TransportID)
		if err == nil {
			err = s.notifier.MissionCompleted(ctx, transport, mission)
		}
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("Не удалось отправить уведомление о завершении миссии")
			result.Warnings = append(result.Warnings, warn("notify", "уведомление не отправлено", err))
		}
	}

	return result, nil
}

// PushPosition принимает сырую позицию водителя для открытой миссии
func (s *Service) PushPosition(ctx context.Context, missionID, driverID string, p geo.RawPosition) error {
	if err := p.Validate(); err != nil {
		return err
	}
	mission, err := s.openMissionOf(ctx, missionID, driverID)
	if err != nil {
		return err
	}
	return s.tracker.Push(mission.ID, driverID, p)
}

// AttachSource проверяет, что водитель может передавать позиции миссии,
// и гарантирует наличие сессии отслеживания
func (s *Service) AttachSource(ctx context.Context, missionID, driverID string) (*models.ActiveMission, error) {
	mission, err := s.openMissionOf(ctx, missionID, driverID)
	if err != nil {
		return nil, err
	}
	if err := s.tracker.Start(mission.ID, driverID, nil); err != nil && !errors.Is(err, geo.ErrSamplerRunning) {
		return nil, err
	}
	return mission, nil
}

func (s *Service) openMissionOf(ctx context.Context, missionID, driverID string) (*models.ActiveMission, error) {
	mission, err := s.store.Missions.Get(ctx, missionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMissionNotFound
		}
		return nil, err
	}
	if mission.DriverID != driverID {
		return nil, ErrNotAssignedDriver
	}
	if !mission.Status.Open() {
		return nil, ErrMissionCompleted
	}
	return mission, nil
}

// Tracking идет ли сейчас выборка позиций миссии
func (s *Service) Tracking(missionID string) bool {
	return s.tracker.Active(missionID)
}

// Close останавливает все сессии отслеживания
func (s *Service) Close() {
	s.tracker.Close()
}
