package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kidride-backend/internal/models"
	"kidride-backend/internal/repository"
)

type MemoryStoreTestSuite struct {
	suite.Suite

	Ctx       context.Context
	Store     *repository.Store
	Transport *models.ScheduledTransport
}

func TestMemoryStoreTestSuite(t *testing.T) {
	suite.Run(t, &MemoryStoreTestSuite{Ctx: context.Background()})
}

func (s *MemoryStoreTestSuite) SetupTest() {
	s.Store = NewStore()
	s.Transport = &models.ScheduledTransport{
		ParentID:    "parent-1",
		DriverID:    "driver-1",
		ChildName:   "Алия",
		ScheduledAt: time.Date(2026, 9, 1, 7, 30, 0, 0, time.UTC),
		Direction:   models.DirectionOutbound,
		Origin:      models.Place{Address: "Дом", Lat: 51.1694, Lng: 71.4491},
		Destination: models.Place{Address: "Школа", Lat: 51.1280, Lng: 71.4304},
	}
	s.Require().NoError(s.Store.Transports.Create(s.Ctx, s.Transport))
}

func (s *MemoryStoreTestSuite) newMission() *models.ActiveMission {
	return &models.ActiveMission{
		DriverID:    s.Transport.DriverID,
		TransportID: s.Transport.ID,
		ChildName:   s.Transport.ChildName,
		Origin:      s.Transport.Origin,
		Destination: s.Transport.Destination,
		Status:      models.MissionStatusStarted,
		StartTime:   time.Now(),
	}
}

func (s *MemoryStoreTestSuite) TestTransportDefaults() {
	s.NotEmpty(s.Transport.ID)
	s.Equal(models.TransportStatusScheduled, s.Transport.Status)

	got, err := s.Store.Transports.Get(s.Ctx, s.Transport.ID)
	s.Require().NoError(err)
	s.Equal(s.Transport.ChildName, got.ChildName)

	_, err = s.Store.Transports.Get(s.Ctx, "missing")
	s.ErrorIs(err, repository.ErrNotFound)
	s.ErrorIs(s.Store.Transports.UpdateStatus(s.Ctx, "missing", models.TransportStatusCompleted), repository.ErrNotFound)
}

func (s *MemoryStoreTestSuite) TestAtMostOneOpenMission() {
	s.Require().NoError(s.Store.Missions.Create(s.Ctx, s.newMission()))
	s.ErrorIs(s.Store.Missions.Create(s.Ctx, s.newMission()), repository.ErrMissionAlreadyActive)
}

func (s *MemoryStoreTestSuite) TestConcurrentCreateAdmitsOne() {
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Store.Missions.Create(s.Ctx, s.newMission()); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, created)
}

func (s *MemoryStoreTestSuite) TestCreateAfterCompletion() {
	first := s.newMission()
	s.Require().NoError(s.Store.Missions.Create(s.Ctx, first))
	_, err := s.Store.Missions.Complete(s.Ctx, first.ID, time.Now())
	s.Require().NoError(err)

	s.NoError(s.Store.Missions.Create(s.Ctx, s.newMission()))
}

func (s *MemoryStoreTestSuite) TestCreateOnClosedTransport() {
	for _, status := range []models.TransportStatus{models.TransportStatusCancelled, models.TransportStatusCompleted} {
		s.Require().NoError(s.Store.Transports.UpdateStatus(s.Ctx, s.Transport.ID, status))
		s.ErrorIs(s.Store.Missions.Create(s.Ctx, s.newMission()), repository.ErrTransportNotStartable, status)
	}
}

func (s *MemoryStoreTestSuite) TestCancel() {
	// Перевозка с открытой миссией не отменяется
	s.Require().NoError(s.Store.Missions.Create(s.Ctx, s.newMission()))
	_, err := s.Store.Transports.Cancel(s.Ctx, s.Transport.ID)
	s.ErrorIs(err, repository.ErrTransportNotCancellable)

	other := *s.Transport
	other.ID = ""
	s.Require().NoError(s.Store.Transports.Create(s.Ctx, &other))
	cancelled, err := s.Store.Transports.Cancel(s.Ctx, other.ID)
	s.Require().NoError(err)
	s.Equal(models.TransportStatusCancelled, cancelled.Status)

	_, err = s.Store.Transports.Cancel(s.Ctx, other.ID)
	s.ErrorIs(err, repository.ErrTransportNotCancellable)
	_, err = s.Store.Transports.Cancel(s.Ctx, "missing")
	s.ErrorIs(err, repository.ErrNotFound)
}

func (s *MemoryStoreTestSuite) TestUpdateStatusIf() {
	err := s.Store.Transports.UpdateStatusIf(s.Ctx, s.Transport.ID, models.TransportStatusInProgress, models.StartableTransportStatuses...)
	s.Require().NoError(err)

	s.Require().NoError(s.Store.Transports.UpdateStatus(s.Ctx, s.Transport.ID, models.TransportStatusCompleted))
	err = s.Store.Transports.UpdateStatusIf(s.Ctx, s.Transport.ID, models.TransportStatusInProgress, models.StartableTransportStatuses...)
	s.ErrorIs(err, repository.ErrTransportStatusConflict)

	got, err := s.Store.Transports.Get(s.Ctx, s.Transport.ID)
	s.Require().NoError(err)
	s.Equal(models.TransportStatusCompleted, got.Status)
}

func (s *MemoryStoreTestSuite) TestCreateUnknownTransport() {
	m := s.newMission()
	m.TransportID = "missing"
	s.ErrorIs(s.Store.Missions.Create(s.Ctx, m), repository.ErrNotFound)
}

func (s *MemoryStoreTestSuite) TestUpdatePositionMonotonic() {
	m := s.newMission()
	s.Require().NoError(s.Store.Missions.Create(s.Ctx, m))

	base := time.Date(2026, 9, 1, 7, 35, 0, 0, time.UTC)
	updated, promoted, err := s.Store.Missions.UpdatePosition(s.Ctx, m.ID, models.Position{Lat: 51.16, Lng: 71.44, Timestamp: base})
	s.Require().NoError(err)
	s.True(promoted)
	s.Equal(models.MissionStatusInProgress, updated.Status)
	s.Equal(base, updated.CurrentPosition.Timestamp)

	_, promoted, err = s.Store.Missions.UpdatePosition(s.Ctx, m.ID, models.Position{Lat: 51.15, Lng: 71.43, Timestamp: base.Add(-time.Second)})
	s.ErrorIs(err, repository.ErrStalePosition)
	s.False(promoted)

	// Равная метка времени допустима
	updated, promoted, err = s.Store.Missions.UpdatePosition(s.Ctx, m.ID, models.Position{Lat: 51.17, Lng: 71.45, Timestamp: base})
	s.Require().NoError(err)
	s.False(promoted, "миссия уже в пути")
	s.Equal(51.17, updated.CurrentPosition.Lat)
}

func (s *MemoryStoreTestSuite) TestCompletedIsTerminal() {
	m := s.newMission()
	s.Require().NoError(s.Store.Missions.Create(s.Ctx, m))

	at := time.Now()
	done, err := s.Store.Missions.Complete(s.Ctx, m.ID, at)
	s.Require().NoError(err)
	s.Equal(models.MissionStatusCompleted, done.Status)
	s.Require().NotNil(done.CompletedAt)

	_, err = s.Store.Missions.Complete(s.Ctx, m.ID, time.Now())
	s.ErrorIs(err, repository.ErrMissionCompleted)
	_, _, err = s.Store.Missions.UpdatePosition(s.Ctx, m.ID, models.Position{Lat: 1, Lng: 1, Timestamp: time.Now()})
	s.ErrorIs(err, repository.ErrMissionCompleted)

	_, err = s.Store.Missions.FindOpenByTransport(s.Ctx, s.Transport.ID)
	s.True(errors.Is(err, repository.ErrNotFound))
}

func (s *MemoryStoreTestSuite) TestReturnedMissionIsACopy() {
	m := s.newMission()
	s.Require().NoError(s.Store.Missions.Create(s.Ctx, m))

	got, err := s.Store.Missions.Get(s.Ctx, m.ID)
	s.Require().NoError(err)
	got.Status = models.MissionStatusCompleted

	again, err := s.Store.Missions.Get(s.Ctx, m.ID)
	s.Require().NoError(err)
	s.Equal(models.MissionStatusStarted, again.Status)
}

func (s *MemoryStoreTestSuite) TestListByDriverFiltersStatus() {
	m := s.newMission()
	s.Require().NoError(s.Store.Missions.Create(s.Ctx, m))

	open, err := s.Store.Missions.ListByDriver(s.Ctx, "driver-1", models.OpenMissionStatuses...)
	s.Require().NoError(err)
	s.Len(open, 1)

	done, err := s.Store.Missions.ListByDriver(s.Ctx, "driver-1", models.MissionStatusCompleted)
	s.Require().NoError(err)
	s.Empty(done)
}

func (s *MemoryStoreTestSuite) TestPositionsOrderedByCapture() {
	base := time.Date(2026, 9, 1, 7, 35, 0, 0, time.UTC)
	s.Require().NoError(s.Store.Positions.Append(s.Ctx, &models.GPSPosition{MissionID: "m1", Lat: 1, Lng: 1, CapturedAt: base.Add(time.Minute)}))
	s.Require().NoError(s.Store.Positions.Append(s.Ctx, &models.GPSPosition{MissionID: "m1", Lat: 2, Lng: 2, CapturedAt: base}))

	got, err := s.Store.Positions.ListByMission(s.Ctx, "m1")
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(base, got[0].CapturedAt)
	s.NotEmpty(got[0].ID)

	s.Error(s.Store.Positions.Append(s.Ctx, &models.GPSPosition{Lat: 1, Lng: 1}))
}
