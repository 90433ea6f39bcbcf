package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"kidride-backend/internal/geo"
	"kidride-backend/internal/middleware"
	"kidride-backend/internal/models"
	"kidride-backend/internal/realtime"
	"kidride-backend/internal/repository"
	"kidride-backend/internal/repository/memory"
)

// failingTransports перевозки, у которых не обновляется статус
type failingTransports struct {
	repository.TransportRepository
}

func (failingTransports) UpdateStatus(context.Context, string, models.TransportStatus) error {
	return errors.New("хранилище недоступно")
}

func (failingTransports) UpdateStatusIf(context.Context, string, models.TransportStatus, ...models.TransportStatus) error {
	return errors.New("хранилище недоступно")
}

// cancelledAfterRead родитель отменяет перевозку сразу после того, как ее прочитали
type cancelledAfterRead struct {
	repository.TransportRepository
}

func (r cancelledAfterRead) Get(ctx context.Context, id string) (*models.ScheduledTransport, error) {
	t, err := r.TransportRepository.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := r.TransportRepository.Cancel(ctx, id); err != nil {
		return nil, err
	}
	return t, nil
}

type failingPositions struct {
	repository.PositionRepository
}

func (failingPositions) Append(context.Context, *models.GPSPosition) error {
	return errors.New("хранилище недоступно")
}

type fixedEstimator struct {
	d   time.Duration
	err error
}

func (e fixedEstimator) EstimateDuration(context.Context, models.Coordinates, models.Coordinates) (time.Duration, error) {
	return e.d, e.err
}

type recordingNotifier struct {
	mu        sync.Mutex
	started   []string
	completed []string
}

func (n *recordingNotifier) MissionStarted(_ context.Context, t *models.ScheduledTransport, _ *models.ActiveMission) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, t.ID)
	return nil
}

func (n *recordingNotifier) MissionCompleted(_ context.Context, t *models.ScheduledTransport, _ *models.ActiveMission) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, t.ID)
	return nil
}

type deniedSource struct{}

func (deniedSource) Watch(context.Context) (<-chan geo.RawPosition, error) {
	return nil, errors.New("доступ к геолокации запрещен")
}

type TrackingServiceTestSuite struct {
	suite.Suite

	Ctx       context.Context
	Store     *repository.Store
	Hub       *realtime.Hub
	Notifier  *recordingNotifier
	Service   *Service
	Transport *models.ScheduledTransport
}

func TestTrackingServiceTestSuite(t *testing.T) {
	suite.Run(t, &TrackingServiceTestSuite{Ctx: context.Background()})
}

func (s *TrackingServiceTestSuite) SetupTest() {
	s.Store = memory.NewStore()
	s.Hub = realtime.NewHub()
	s.Notifier = &recordingNotifier{}
	s.Service = s.newService(s.Store)

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

func (s *TrackingServiceTestSuite) TearDownTest() {
	s.Service.Close()
	s.Hub.Close()
}

func (s *TrackingServiceTestSuite) newService(store *repository.Store) *Service {
	return NewService(store, s.Hub, Options{
		Notifier:         s.Notifier,
		FallbackSpeedKmh: 30,
		MinInterval:      3 * time.Second,
		MinDistance:      25,
	})
}

func (s *TrackingServiceTestSuite) start() *models.ActiveMission {
	res, err := s.Service.StartMission(s.Ctx, StartRequest{TransportID: s.Transport.ID, DriverID: "driver-1"})
	s.Require().NoError(err)
	s.Require().NotNil(res.Mission)
	return res.Mission
}

func (s *TrackingServiceTestSuite) transportStatus() models.TransportStatus {
	t, err := s.Store.Transports.Get(s.Ctx, s.Transport.ID)
	s.Require().NoError(err)
	return t.Status
}

func (s *TrackingServiceTestSuite) TestTransportStatusCoupling() {
	s.Equal(models.TransportStatusScheduled, s.transportStatus())

	mission := s.start()
	s.Equal(models.TransportStatusInProgress, s.transportStatus())
	s.Equal(models.MissionStatusStarted, mission.Status)
	s.Equal("Алия", mission.ChildName)
	s.NotNil(mission.EstimatedArrival)

	open, err := s.Store.Missions.ListByDriver(s.Ctx, "driver-1")
	s.Require().NoError(err)
	s.Len(open, 1)

	res, err := s.Service.CompleteMission(s.Ctx, mission.ID, "driver-1")
	s.Require().NoError(err)
	s.Empty(res.Warnings)
	s.Equal(models.MissionStatusCompleted, res.Mission.Status)
	s.NotNil(res.Mission.CompletedAt)
	s.Equal(models.TransportStatusCompleted, s.transportStatus())
	s.False(s.Service.Tracking(mission.ID))

	s.Equal([]string{s.Transport.ID}, s.Notifier.started)
	s.Equal([]string{s.Transport.ID}, s.Notifier.completed)
}

func (s *TrackingServiceTestSuite) TestDoubleStartRejected() {
	s.start()
	_, err := s.Service.StartMission(s.Ctx, StartRequest{TransportID: s.Transport.ID, DriverID: "driver-1"})
	s.ErrorIs(err, ErrMissionAlreadyActive)

	open, err := s.Store.Missions.ListByDriver(s.Ctx, "driver-1", models.OpenMissionStatuses...)
	s.Require().NoError(err)
	s.Len(open, 1)
}

func (s *TrackingServiceTestSuite) TestStartPreconditions() {
	_, err := s.Service.StartMission(s.Ctx, StartRequest{TransportID: "missing", DriverID: "driver-1"})
	s.ErrorIs(err, ErrTransportNotFound)

	_, err = s.Service.StartMission(s.Ctx, StartRequest{TransportID: s.Transport.ID, DriverID: "driver-2"})
	s.ErrorIs(err, ErrNotAssignedDriver)

	s.Require().NoError(s.Store.Transports.UpdateStatus(s.Ctx, s.Transport.ID, models.TransportStatusCancelled))
	_, err = s.Service.StartMission(s.Ctx, StartRequest{TransportID: s.Transport.ID, DriverID: "driver-1"})
	s.ErrorIs(err, ErrTransportNotStartable)
}

func (s *TrackingServiceTestSuite) TestCancelBetweenReadAndCreate() {
	store := memory.NewStore()
	s.Require().NoError(store.Transports.Create(s.Ctx, s.Transport))
	transports := store.Transports
	store.Transports = cancelledAfterRead{transports}
	svc := s.newService(store)
	defer svc.Close()

	res, err := svc.StartMission(s.Ctx, StartRequest{TransportID: s.Transport.ID, DriverID: "driver-1"})
	s.ErrorIs(err, ErrTransportNotStartable)
	s.Nil(res)

	_, err = store.Missions.FindOpenByTransport(s.Ctx, s.Transport.ID)
	s.ErrorIs(err, repository.ErrNotFound)
	got, err := transports.Get(s.Ctx, s.Transport.ID)
	s.Require().NoError(err)
	s.Equal(models.TransportStatusCancelled, got.Status)
}

func (s *TrackingServiceTestSuite) TestStartDoesNotReviveClosedTransport() {
	mission := s.start()
	_, err := s.Service.CompleteMission(s.Ctx, mission.ID, "driver-1")
	s.Require().NoError(err)

	err = s.Store.Transports.UpdateStatusIf(s.Ctx, s.Transport.ID, models.TransportStatusInProgress, models.StartableTransportStatuses...)
	s.ErrorIs(err, repository.ErrTransportStatusConflict)
	got, err := s.Store.Transports.Get(s.Ctx, s.Transport.ID)
	s.Require().NoError(err)
	s.Equal(models.TransportStatusCompleted, got.Status)
}

func (s *TrackingServiceTestSuite) TestLateStartAfterCompletion() {
	mission := s.start()
	_, err := s.Service.CompleteMission(s.Ctx, mission.ID, "driver-1")
	s.Require().NoError(err)

	_, err = s.Service.StartMission(s.Ctx, StartRequest{TransportID: s.Transport.ID, DriverID: "driver-1"})
	s.ErrorIs(err, ErrTransportNotStartable)
}

func (s *TrackingServiceTestSuite) TestCompletionIsTerminal() {
	mission := s.start()
	_, err := s.Service.CompleteMission(s.Ctx, mission.ID, "driver-1")
	s.Require().NoError(err)

	_, err = s.Service.CompleteMission(s.Ctx, mission.ID, "driver-1")
	s.ErrorIs(err, ErrMissionCompleted)

	err = s.Service.PushPosition(s.Ctx, mission.ID, "driver-1", geo.RawPosition{Lat: 51.16, Lng: 71.44, CapturedAt: time.Now()})
	s.ErrorIs(err, ErrMissionCompleted)

	_, err = s.Service.writer.Write(s.Ctx, mission.ID, "driver-1", geo.Sample{Lat: 51.16, Lng: 71.44, Timestamp: time.Now()})
	s.ErrorIs(err, ErrMissionCompleted)

	got, err := s.Service.GetMission(s.Ctx, mission.ID)
	s.Require().NoError(err)
	s.Equal(models.MissionStatusCompleted, got.Status)
}

func (s *TrackingServiceTestSuite) TestCompleteChecksDriver() {
	mission := s.start()
	_, err := s.Service.CompleteMission(s.Ctx, mission.ID, "driver-2")
	s.ErrorIs(err, ErrNotAssignedDriver)

	_, err = s.Service.CompleteMission(s.Ctx, "missing", "")
	s.ErrorIs(err, ErrMissionNotFound)

	// Системный вызов без водителя
	_, err = s.Service.CompleteMission(s.Ctx, mission.ID, "")
	s.NoError(err)
}

func (s *TrackingServiceTestSuite) TestMonotonicPosition() {
	mission := s.start()
	t1 := time.Date(2026, 9, 1, 7, 35, 0, 0, time.UTC)
	t3 := t1.Add(2 * time.Minute)
	inProgress := middleware.MissionTransitionsTotal.WithLabelValues(string(models.MissionStatusInProgress))
	before := testutil.ToFloat64(inProgress)

	res, err := s.Service.writer.Write(s.Ctx, mission.ID, "driver-1", geo.Sample{Lat: 51.16, Lng: 71.44, Timestamp: t3})
	s.Require().NoError(err)
	s.False(res.Stale)
	s.Equal(models.MissionStatusInProgress, res.Mission.Status)
	s.Equal(before+1, testutil.ToFloat64(inProgress))

	res, err = s.Service.writer.Write(s.Ctx, mission.ID, "driver-1", geo.Sample{Lat: 51.15, Lng: 71.43, Timestamp: t1})
	s.Require().NoError(err)
	s.True(res.Stale)
	s.Equal(before+1, testutil.ToFloat64(inProgress), "переход в in_progress считается один раз")

	got, err := s.Service.GetMission(s.Ctx, mission.ID)
	s.Require().NoError(err)
	s.Equal(t3, got.CurrentPosition.Timestamp)
	s.Equal(51.16, got.CurrentPosition.Lat)

	history, err := s.Service.History(s.Ctx, mission.ID)
	s.Require().NoError(err)
	s.Len(history, 2)
}

func (s *TrackingServiceTestSuite) TestHistoryFailureIsWarning() {
	store := memory.NewStore()
	s.Require().NoError(store.Transports.Create(s.Ctx, s.Transport))
	store.Positions = failingPositions{store.Positions}
	svc := s.newService(store)
	defer svc.Close()

	res, err := svc.StartMission(s.Ctx, StartRequest{TransportID: s.Transport.ID, DriverID: "driver-1"})
	s.Require().NoError(err)

	write, err := svc.writer.Write(s.Ctx, res.Mission.ID, "driver-1", geo.Sample{Lat: 51.16, Lng: 71.44, Timestamp: time.Now()})
	s.Require().NoError(err)
	s.Require().Len(write.Warnings, 1)
	s.Equal("history", write.Warnings[0].Op)
	s.NotNil(write.Mission.CurrentPosition)
}

func (s *TrackingServiceTestSuite) TestTransportSyncFailure() {
	store := memory.NewStore()
	s.Require().NoError(store.Transports.Create(s.Ctx, s.Transport))
	store.Transports = failingTransports{store.Transports}
	svc := s.newService(store)
	defer svc.Close()

	res, err := svc.StartMission(s.Ctx, StartRequest{TransportID: s.Transport.ID, DriverID: "driver-1"})
	s.ErrorIs(err, ErrTransportSync)
	s.Require().NotNil(res)
	s.Require().NotNil(res.Mission)

	done, err := svc.CompleteMission(s.Ctx, res.Mission.ID, "driver-1")
	s.Require().NoError(err)
	s.Equal(models.MissionStatusCompleted, done.Mission.Status)
	s.Require().Len(done.Warnings, 1)
	s.Equal("transport_status", done.Warnings[0].Op)
}

func (s *TrackingServiceTestSuite) TestLocationUnavailableKeepsMission() {
	res, err := s.Service.StartMission(s.Ctx, StartRequest{
		TransportID: s.Transport.ID,
		DriverID:    "driver-1",
		Source:      deniedSource{},
	})
	s.ErrorIs(err, ErrLocationUnavailable)
	s.Require().NotNil(res)
	s.False(s.Service.Tracking(res.Mission.ID))

	current, err := s.Service.QueryByTransport(s.Ctx, s.Transport.ID)
	s.Require().NoError(err)
	s.Equal(res.Mission.ID, current.ID)
}

func (s *TrackingServiceTestSuite) TestSeedOverridesTransport() {
	eta := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	res, err := s.Service.StartMission(s.Ctx, StartRequest{
		TransportID: s.Transport.ID,
		DriverID:    "driver-1",
		Seed: MissionSeed{
			ChildName:        "Алия Н.",
			Destination:      &models.Place{Address: "Секция", Lat: 51.09, Lng: 71.41},
			EstimatedArrival: &eta,
		},
	})
	s.Require().NoError(err)
	s.Equal("Алия Н.", res.Mission.ChildName)
	s.Equal("Секция", res.Mission.Destination.Address)
	s.Equal(eta, *res.Mission.EstimatedArrival)
}

func (s *TrackingServiceTestSuite) TestPushedPositionsReachSubscriber() {
	var mu sync.Mutex
	var last *models.ActiveMission
	calls := 0
	sub, err := s.Service.SubscribeByTransport(s.Ctx, s.Transport.ID, func(m *models.ActiveMission) {
		mu.Lock()
		defer mu.Unlock()
		last = m
		calls++
	})
	s.Require().NoError(err)
	defer sub.Unsubscribe()

	mission := s.start()
	captured := time.Date(2026, 9, 1, 7, 35, 0, 0, time.UTC)
	s.Require().NoError(s.Service.PushPosition(s.Ctx, mission.ID, "driver-1", geo.RawPosition{Lat: 51.1600, Lng: 71.4400, CapturedAt: captured}))

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last != nil && last.CurrentPosition != nil && last.CurrentPosition.Timestamp.Equal(captured)
	}, time.Second, 5*time.Millisecond)

	_, err = s.Service.CompleteMission(s.Ctx, mission.ID, "driver-1")
	s.Require().NoError(err)
	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last == nil && calls >= 2
	}, time.Second, 5*time.Millisecond)
}

func (s *TrackingServiceTestSuite) TestPushChecksOwnership() {
	mission := s.start()
	err := s.Service.PushPosition(s.Ctx, mission.ID, "driver-2", geo.RawPosition{Lat: 51.16, Lng: 71.44, CapturedAt: time.Now()})
	s.ErrorIs(err, ErrNotAssignedDriver)

	err = s.Service.PushPosition(s.Ctx, "missing", "driver-1", geo.RawPosition{Lat: 51.16, Lng: 71.44, CapturedAt: time.Now()})
	s.ErrorIs(err, ErrMissionNotFound)

	var decodeErr *models.DecodeError
	err = s.Service.PushPosition(s.Ctx, mission.ID, "driver-1", geo.RawPosition{Lat: 120, Lng: 71.44, CapturedAt: time.Now()})
	s.ErrorAs(err, &decodeErr)
}

func (s *TrackingServiceTestSuite) TestSubscribeSeedsCurrentMission() {
	mission := s.start()

	got := make(chan *models.ActiveMission, 1)
	sub, err := s.Service.SubscribeByTransport(s.Ctx, s.Transport.ID, func(m *models.ActiveMission) { got <- m })
	s.Require().NoError(err)
	defer sub.Unsubscribe()

	select {
	case m := <-got:
		s.Require().NotNil(m)
		s.Equal(mission.ID, m.ID)
	case <-time.After(time.Second):
		s.Fail("начальное состояние не доставлено")
	}
}

func (s *TrackingServiceTestSuite) TestQueryWithoutMission() {
	m, err := s.Service.QueryByTransport(s.Ctx, s.Transport.ID)
	s.NoError(err)
	s.Nil(m)
}

func (s *TrackingServiceTestSuite) TestTrackGeoJSON() {
	mission := s.start()
	base := time.Date(2026, 9, 1, 7, 35, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.Service.writer.Write(s.Ctx, mission.ID, "driver-1", geo.Sample{
			Lat:       51.16 + float64(i)*0.001,
			Lng:       71.44,
			Timestamp: base.Add(time.Duration(i) * 10 * time.Second),
		})
		s.Require().NoError(err)
	}

	raw, err := s.Service.Track(s.Ctx, mission.ID)
	s.Require().NoError(err)
	s.Contains(string(raw), `"LineString"`)

	_, err = s.Service.Track(s.Ctx, "missing")
	s.ErrorIs(err, ErrMissionNotFound)
}

func TestEstimateArrivalPrefersRouteService(t *testing.T) {
	store := memory.NewStore()
	hub := realtime.NewHub()
	defer hub.Close()

	svc := NewService(store, hub, Options{
		Estimator:        fixedEstimator{d: 20 * time.Minute},
		FallbackSpeedKmh: 30,
	})
	defer svc.Close()
	start := time.Date(2026, 9, 1, 7, 30, 0, 0, time.UTC)
	m := &models.ActiveMission{
		StartTime:   start,
		Origin:      models.Place{Lat: 51.1694, Lng: 71.4491},
		Destination: models.Place{Lat: 51.1280, Lng: 71.4304},
	}

	eta := svc.estimateArrival(context.Background(), m)
	require.NotNil(t, eta)
	assert.Equal(t, start.Add(20*time.Minute), *eta)

	svc.estimator = fixedEstimator{err: errors.New("лимит исчерпан")}
	eta = svc.estimateArrival(context.Background(), m)
	require.NotNil(t, eta)
	assert.True(t, eta.After(start))
	assert.NotEqual(t, start.Add(20*time.Minute), *eta)

	svc.fallback.SpeedKmh = 0
	assert.Nil(t, svc.estimateArrival(context.Background(), m))
}
