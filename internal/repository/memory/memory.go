// Package memory хранилище в памяти процесса. Используется в тестах и при STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kidride-backend/internal/models"
	"kidride-backend/internal/repository"
)

// NewStore хранилище с общей блокировкой для всех коллекций
func NewStore() *repository.Store {
	s := &store{
		transports: make(map[string]models.ScheduledTransport),
		missions:   make(map[string]*models.ActiveMission),
		positions:  make(map[string][]models.GPSPosition),
	}
	return &repository.Store{
		Transports: &transportRepository{s},
		Missions:   &missionRepository{s},
		Positions:  &positionRepository{s},
	}
}

type store struct {
	mu         sync.RWMutex
	transports map[string]models.ScheduledTransport
	missions   map[string]*models.ActiveMission
	positions  map[string][]models.GPSPosition
}

type transportRepository struct {
	s *store
}

func (r *transportRepository) Create(ctx context.Context, t *models.ScheduledTransport) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TransportStatusScheduled
	}
	if err := t.Validate(); err != nil {
		return err
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.transports[t.ID] = *t
	return nil
}

func (r *transportRepository) Get(ctx context.Context, id string) (*models.ScheduledTransport, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.transports[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r *transportRepository) ListByParent(ctx context.Context, parentID string) ([]models.ScheduledTransport, error) {
	return r.list(func(t models.ScheduledTransport) bool { return t.ParentID == parentID }), nil
}

func (r *transportRepository) ListByDriver(ctx context.Context, driverID string) ([]models.ScheduledTransport, error) {
	return r.list(func(t models.ScheduledTransport) bool { return t.DriverID == driverID }), nil
}

func (r *transportRepository) list(match func(models.ScheduledTransport) bool) []models.ScheduledTransport {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.ScheduledTransport
	for _, t := range r.s.transports {
		if match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func (r *transportRepository) UpdateStatus(ctx context.Context, id string, status models.TransportStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.transports[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	r.s.transports[id] = t
	return nil
}

func (r *transportRepository) UpdateStatusIf(ctx context.Context, id string, to models.TransportStatus, from ...models.TransportStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.transports[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !hasTransportStatus(from, t.Status) {
		return repository.ErrTransportStatusConflict
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	r.s.transports[id] = t
	return nil
}

func (r *transportRepository) Cancel(ctx context.Context, id string) (*models.ScheduledTransport, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.transports[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if t.Status != models.TransportStatusScheduled || r.s.hasOpenMission(id) {
		return nil, repository.ErrTransportNotCancellable
	}
	t.Status = models.TransportStatusCancelled
	t.UpdatedAt = time.Now()
	r.s.transports[id] = t
	return &t, nil
}

func hasTransportStatus(statuses []models.TransportStatus, s models.TransportStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// hasOpenMission вызывается под блокировкой
func (s *store) hasOpenMission(transportID string) bool {
	for _, existing := range s.missions {
		if existing.TransportID == transportID && existing.Status.Open() {
			return true
		}
	}
	return false
}

type missionRepository struct {
	s *store
}

func (r *missionRepository) Create(ctx context.Context, m *models.ActiveMission) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := m.Validate(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	transport, ok := r.s.transports[m.TransportID]
	if !ok {
		return repository.ErrNotFound
	}
	if !transport.Status.Startable() {
		return repository.ErrTransportNotStartable
	}
	if r.s.hasOpenMission(m.TransportID) {
		return repository.ErrMissionAlreadyActive
	}
	m.UpdatedAt = time.Now()
	r.s.missions[m.ID] = m.Clone()
	return nil
}

func (r *missionRepository) Get(ctx context.Context, id string) (*models.ActiveMission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.missions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.Clone(), nil
}

func (r *missionRepository) FindOpenByTransport(ctx context.Context, transportID string) (*models.ActiveMission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, m := range r.s.missions {
		if m.TransportID == transportID && m.Status.Open() {
			return m.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *missionRepository) ListByDriver(ctx context.Context, driverID string, statuses ...models.MissionStatus) ([]models.ActiveMission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []models.ActiveMission
	for _, m := range r.s.missions {
		if m.DriverID != driverID || !hasStatus(statuses, m.Status) {
			continue
		}
		out = append(out, *m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func hasStatus(statuses []models.MissionStatus, s models.MissionStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func (r *missionRepository) UpdatePosition(ctx context.Context, id string, pos models.Position) (*models.ActiveMission, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.missions[id]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if !m.Status.Open() {
		return m.Clone(), false, repository.ErrMissionCompleted
	}
	if m.CurrentPosition != nil && pos.Timestamp.Before(m.CurrentPosition.Timestamp) {
		return m.Clone(), false, repository.ErrStalePosition
	}
	promoted := m.Status == models.MissionStatusStarted
	p := pos
	m.CurrentPosition = &p
	m.Status = models.MissionStatusInProgress
	m.UpdatedAt = time.Now()
	return m.Clone(), promoted, nil
}

func (r *missionRepository) Complete(ctx context.Context, id string, at time.Time) (*models.ActiveMission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.missions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !m.Status.Open() {
		return m.Clone(), repository.ErrMissionCompleted
	}
	completedAt := at
	m.Status = models.MissionStatusCompleted
	m.CompletedAt = &completedAt
	m.UpdatedAt = time.Now()
	return m.Clone(), nil
}

type positionRepository struct {
	s *store
}

func (r *positionRepository) Append(ctx context.Context, p *models.GPSPosition) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return err
	}
	p.RecordedAt = time.Now()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.positions[p.MissionID] = append(r.s.positions[p.MissionID], *p)
	return nil
}

func (r *positionRepository) ListByMission(ctx context.Context, missionID string) ([]models.GPSPosition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]models.GPSPosition, len(r.s.positions[missionID]))
	copy(out, r.s.positions[missionID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}
