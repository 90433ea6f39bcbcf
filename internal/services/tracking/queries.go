package tracking

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"kidride-backend/internal/geo"
	"kidride-backend/internal/models"
	"kidride-backend/internal/realtime"
	"kidride-backend/internal/repository"
)

// QueryByTransport текущая незавершенная миссия перевозки или nil
func (s *Service) QueryByTransport(ctx context.Context, transportID string) (*models.ActiveMission, error) {
	mission, err := s.store.Missions.FindOpenByTransport(ctx, transportID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return mission, nil
}

// SubscribeByTransport подписывает на обновления миссии перевозки. Сначала доставляется
// текущее состояние (или nil), затем последнее состояние после каждого изменения.
// Вызывающий обязан вызвать Unsubscribe.
func (s *Service) SubscribeByTransport(ctx context.Context, transportID string, onChange func(*models.ActiveMission)) (*realtime.Subscription, error) {
	// Подписываемся до чтения, чтобы не потерять обновление между запросом и подпиской
	sub := s.hub.Subscribe(transportID, onChange)

	current, err := s.QueryByTransport(ctx, transportID)
	if err != nil {
		sub.Unsubscribe()
		log.WithField("transport_id", transportID).WithError(err).Error("Ошибка чтения текущей миссии для подписки")
		return nil, err
	}
	sub.Seed(current)
	return sub, nil
}

// ListDriverMissions незавершенные миссии водителя
func (s *Service) ListDriverMissions(ctx context.Context, driverID string) ([]models.ActiveMission, error) {
	return s.store.Missions.ListByDriver(ctx, driverID, models.OpenMissionStatuses...)
}

// GetMission миссия по идентификатору
func (s *Service) GetMission(ctx context.Context, missionID string) (*models.ActiveMission, error) {
	mission, err := s.store.Missions.Get(ctx, missionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrMissionNotFound
	}
	return mission, err
}

// History история GPS миссии в порядке снятия
func (s *Service) History(ctx context.Context, missionID string) ([]models.GPSPosition, error) {
	if _, err := s.GetMission(ctx, missionID); err != nil {
		return nil, err
	}
	return s.store.Positions.ListByMission(ctx, missionID)
}

// Track история GPS миссии в виде GeoJSON
func (s *Service) Track(ctx context.Context, missionID string) ([]byte, error) {
	positions, err := s.History(ctx, missionID)
	if err != nil {
		return nil, err
	}
	return geo.MarshalTrack(missionID, positions)
}
