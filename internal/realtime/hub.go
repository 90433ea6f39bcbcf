// Package realtime раздает обновления активных миссий подписчикам (родителям).
package realtime

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"kidride-backend/internal/middleware"
	"kidride-backend/internal/models"
)

// Publisher доставляет новое состояние миссии всем подписчикам перевозки.
// mission == nil означает, что активной миссии у перевозки больше нет.
type Publisher interface {
	Publish(ctx context.Context, transportID string, mission *models.ActiveMission) error
}

// Hub подписки в памяти процесса, сгруппированные по перевозке
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]*Subscription)}
}

// Subscribe регистрирует подписчика. onUpdate вызывается из отдельной горутины
// подписки, последовательно. Если подписчик не успевает, промежуточные состояния
// схлопываются и он получает только последнее.
func (h *Hub) Subscribe(transportID string, onUpdate func(*models.ActiveMission)) *Subscription {
	sub := &Subscription{
		hub:         h,
		transportID: transportID,
		onUpdate:    onUpdate,
		signal:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.once.Do(func() {
			sub.closed = true
			close(sub.done)
		})
		return sub
	}
	h.nextID++
	sub.id = h.nextID
	if _, ok := h.subs[transportID]; !ok {
		h.subs[transportID] = make(map[uint64]*Subscription)
	}
	h.subs[transportID][sub.id] = sub
	h.mu.Unlock()

	middleware.LiveSubscribers.Inc()
	go sub.run()
	return sub
}

// Publish отправляет состояние миссии подписчикам перевозки. Завершенная миссия
// доставляется как nil: у перевозки больше нет живой миссии.
func (h *Hub) Publish(ctx context.Context, transportID string, mission *models.ActiveMission) error {
	if mission != nil && !mission.Status.Open() {
		mission = nil
	}

	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[transportID]))
	for _, sub := range h.subs[transportID] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		sub.offer(mission.Clone(), false)
	}
	return nil
}

// Subscribers количество подписчиков перевозки
func (h *Hub) Subscribers(transportID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[transportID])
}

// Close отписывает всех и запрещает новые подписки
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, group := range h.subs {
		for _, sub := range group {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.Unsubscribe()
	}
	log.WithField("subscriptions", len(all)).Info("Хаб обновлений миссий остановлен")
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.subs[sub.transportID]
	if !ok {
		return
	}
	if _, exists := group[sub.id]; !exists {
		return
	}
	delete(group, sub.id)
	if len(group) == 0 {
		delete(h.subs, sub.transportID)
	}
	middleware.LiveSubscribers.Dec()
}

// Subscription одна подписка на обновления перевозки
type Subscription struct {
	hub         *Hub
	id          uint64
	transportID string
	onUpdate    func(*models.ActiveMission)

	mu         sync.Mutex
	pending    *models.ActiveMission
	hasPending bool
	offered    bool
	closed     bool

	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) TransportID() string {
	return s.transportID
}

// Seed передает начальное состояние, если подписчик еще ничего не получил.
// Живое обновление, пришедшее раньше, имеет приоритет.
func (s *Subscription) Seed(mission *models.ActiveMission) {
	if mission != nil && !mission.Status.Open() {
		mission = nil
	}
	s.offer(mission.Clone(), true)
}

func (s *Subscription) offer(mission *models.ActiveMission, initial bool) {
	s.mu.Lock()
	if s.closed || (initial && s.offered) {
		s.mu.Unlock()
		return
	}
	s.offered = true
	s.pending = mission
	s.hasPending = true
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		s.mu.Lock()
		if s.closed || !s.hasPending {
			s.mu.Unlock()
			continue
		}
		mission := s.pending
		s.pending, s.hasPending = nil, false
		s.mu.Unlock()

		s.deliver(mission)
	}
}

func (s *Subscription) deliver(mission *models.ActiveMission) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"transport_id": s.transportID,
				"panic":        r,
			}).Error("Паника в обработчике подписки")
		}
	}()
	s.onUpdate(mission)
}

// Unsubscribe прекращает доставку: новые обновления больше не ставятся в очередь.
// Уже начатый вызов onUpdate может завершиться после возврата. Повторный вызов безопасен.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.pending, s.hasPending = nil, false
		s.mu.Unlock()

		close(s.done)
		s.hub.remove(s)
	})
}

// Done закрывается после Unsubscribe
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
