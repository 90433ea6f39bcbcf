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

// WriteResult итог записи одной позиции
type WriteResult struct {
	Mission *models.ActiveMission
	// Stale позиция старше уже сохраненной, текущая позиция не изменилась
	Stale    bool
	Warnings []Warning
}

// Writer сохраняет принятые позиции: обновляет текущую позицию миссии
// и дописывает запись в историю GPS
type Writer struct {
	missions  repository.MissionRepository
	positions repository.PositionRepository
	publisher realtime.Publisher
}

func NewWriter(missions repository.MissionRepository, positions repository.PositionRepository, publisher realtime.Publisher) *Writer {
	return &Writer{missions: missions, positions: positions, publisher: publisher}
}

// Write применяет позицию к миссии. Устаревшая позиция не ошибка: результат помечается Stale.
// Ошибка истории GPS не отменяет обновления текущей позиции и возвращается как Warning.
func (w *Writer) Write(ctx context.Context, missionID, driverID string, s geo.Sample) (*WriteResult, error) {
	start := time.Now()
	fields := log.Fields{"mission_id": missionID, "driver_id": driverID}

	if err := models.ValidateCoordinates("position", s.Lat, s.Lng); err != nil {
		middleware.TrackPositionWrite("rejected", time.Since(start))
		return nil, err
	}

	mission, promoted, err := w.missions.UpdatePosition(ctx, missionID, models.Position{Lat: s.Lat, Lng: s.Lng, Timestamp: s.Timestamp})
	result := &WriteResult{Mission: mission}
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrStalePosition):
		result.Stale = true
	case errors.Is(err, repository.ErrNotFound):
		middleware.TrackPositionWrite("rejected", time.Since(start))
		return nil, ErrMissionNotFound
	case errors.Is(err, repository.ErrMissionCompleted):
		middleware.TrackPositionWrite("rejected", time.Since(start))
		return nil, ErrMissionCompleted
	default:
		middleware.TrackPositionWrite("failed", time.Since(start))
		log.WithFields(fields).WithError(err).Error("Ошибка обновления текущей позиции миссии")
		return nil, err
	}

	if promoted {
		middleware.TrackMissionTransition(string(models.MissionStatusInProgress))
		log.WithFields(fields).Info("Миссия в пути")
	}

	if driverID == "" && mission != nil {
		driverID = mission.DriverID
	}
	record := &models.GPSPosition{
		DriverID:   driverID,
		MissionID:  missionID,
		Lat:        s.Lat,
		Lng:        s.Lng,
		Accuracy:   s.Accuracy,
		Speed:      s.Speed,
		Heading:    s.Heading,
		CapturedAt: s.Timestamp,
	}
	if err := w.positions.Append(ctx, record); err != nil {
		log.WithFields(fields).WithError(err).Warn("Не удалось записать позицию в историю GPS")
		result.Warnings = append(result.Warnings, warn("history", "позиция не записана в историю", err))
	}

	if result.Stale {
		middleware.TrackPositionWrite("stale", time.Since(start))
		log.WithFields(fields).WithField("captured_at", s.Timestamp).Debug("Устаревшая позиция пропущена")
		return result, nil
	}

	if err := w.publisher.Publish(ctx, mission.TransportID, mission); err != nil {
		log.WithFields(fields).WithError(err).Warn("Не удалось опубликовать обновление миссии")
		result.Warnings = append(result.Warnings, warn("publish", "обновление не разослано подписчикам", err))
	}
	middleware.TrackPositionWrite("accepted", time.Since(start))
	return result, nil
}
