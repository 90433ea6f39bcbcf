package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"kidride-backend/internal/geo"
	"kidride-backend/internal/middleware"
)

const (
	defaultWriteTimeout = 10 * time.Second
	pushBuffer          = 32
)

// Tracker держит по одной сессии выборки позиций на миссию.
// Сессии живут дольше HTTP запроса, который их начал, поэтому работают
// в собственном контексте и останавливаются через Stop или Close.
type Tracker struct {
	writer       *Writer
	minInterval  time.Duration
	minDistance  float64
	writeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	missionID string
	driverID  string
	sampler   *geo.Sampler
	// push не nil, если позиции проталкивает транспорт (WebSocket, HTTP)
	push *geo.ChannelSource
}

func NewTracker(writer *Writer, minInterval time.Duration, minDistance float64) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		writer:       writer,
		minInterval:  minInterval,
		minDistance:  minDistance,
		writeTimeout: defaultWriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
		sessions:     make(map[string]*session),
	}
}

// Start запускает выборку позиций миссии. Если src == nil, позиции ожидаются через Push.
func (t *Tracker) Start(missionID, driverID string, src geo.Source) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[missionID]; ok {
		return geo.ErrSamplerRunning
	}
	_, err := t.startLocked(missionID, driverID, src)
	return err
}

func (t *Tracker) startLocked(missionID, driverID string, src geo.Source) (*session, error) {
	if t.ctx.Err() != nil {
		return nil, errors.New("трекер остановлен")
	}

	s := &session{missionID: missionID, driverID: driverID}
	if src == nil {
		s.push = geo.NewChannelSource(pushBuffer)
		src = s.push
	}
	s.sampler = geo.NewSampler(src, geo.NewThrottle(t.minInterval, t.minDistance))

	if err := s.sampler.Start(t.ctx, func(sample geo.Sample) { t.onSample(s, sample) }); err != nil {
		return nil, err
	}
	t.sessions[missionID] = s
	middleware.ActiveTrackingSessions.Inc()

	done := s.sampler.Done()
	go func() {
		<-done
		t.remove(s)
	}()

	log.WithFields(log.Fields{
		"mission_id": missionID,
		"driver_id":  driverID,
		"push":       s.push != nil,
	}).Info("Сессия отслеживания миссии запущена")
	return s, nil
}

// Push передает сырую позицию в сессию миссии, создавая сессию при необходимости
func (t *Tracker) Push(missionID, driverID string, p geo.RawPosition) error {
	t.mu.Lock()
	s, ok := t.sessions[missionID]
	if !ok {
		var err error
		if s, err = t.startLocked(missionID, driverID, nil); err != nil {
			t.mu.Unlock()
			return err
		}
	}
	t.mu.Unlock()

	if s.push == nil {
		return ErrExternalSource
	}
	return s.push.Push(p)
}

// Active есть ли у миссии сессия отслеживания
func (t *Tracker) Active(missionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[missionID]
	return ok
}

// Stop останавливает выборку миссии и освобождает источник. Повторный вызов безопасен.
func (t *Tracker) Stop(missionID string) {
	t.mu.Lock()
	s, ok := t.sessions[missionID]
	t.mu.Unlock()
	if !ok {
		return
	}
	s.sampler.Stop()
	t.remove(s)
}

// Close останавливает все сессии
func (t *Tracker) Close() {
	t.cancel()

	t.mu.Lock()
	all := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		all = append(all, s)
	}
	t.mu.Unlock()

	for _, s := range all {
		s.sampler.Stop()
		t.remove(s)
	}
	log.WithField("sessions", len(all)).Info("Все сессии отслеживания остановлены")
}

func (t *Tracker) remove(s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.sessions[s.missionID]; !ok || current != s {
		return
	}
	delete(t.sessions, s.missionID)
	middleware.ActiveTrackingSessions.Dec()
	log.WithField("mission_id", s.missionID).Info("Сессия отслеживания миссии завершена")
}

func (t *Tracker) onSample(s *session, sample geo.Sample) {
	ctx, cancel := context.WithTimeout(t.ctx, t.writeTimeout)
	defer cancel()

	fields := log.Fields{"mission_id": s.missionID, "driver_id": s.driverID}
	result, err := t.writer.Write(ctx, s.missionID, s.driverID, sample)
	if err != nil {
		if errors.Is(err, ErrMissionCompleted) || errors.Is(err, ErrMissionNotFound) {
			log.WithFields(fields).WithError(err).Info("Миссия больше не принимает позиции, останавливаем выборку")
			// Stop ждет завершения этой горутины, поэтому вызывается асинхронно
			go t.Stop(s.missionID)
			return
		}
		log.WithFields(fields).WithError(err).Error("Ошибка записи позиции")
		return
	}
	for _, w := range result.Warnings {
		log.WithFields(fields).Warn(w.String())
	}
}
