package geo

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrLocationUnavailable источник позиций не удалось открыть (нет доступа, устройство недоступно)
	ErrLocationUnavailable = errors.New("геолокация недоступна")
	// ErrSamplerRunning сэмплер уже запущен
	ErrSamplerRunning = errors.New("сэмплер уже запущен")
	// ErrSourceClosed источник закрыт
	ErrSourceClosed = errors.New("источник позиций закрыт")
	// ErrSourceBusy буфер источника переполнен, позиция отброшена
	ErrSourceBusy = errors.New("буфер позиций переполнен")
)

// Source непрерывный поток позиций. Отмена ctx освобождает подписку.
type Source interface {
	Watch(ctx context.Context) (<-chan RawPosition, error)
}

// Sampler читает поток позиций, пропускает его через Throttle
// и передает принятые позиции по одной в порядке поступления.
type Sampler struct {
	source   Source
	throttle *Throttle

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSampler(source Source, throttle *Throttle) *Sampler {
	if throttle == nil {
		throttle = NewThrottle(DefaultMinInterval, DefaultMinDistance)
	}
	return &Sampler{source: source, throttle: throttle}
}

// Start открывает источник и запускает выборку. Если источник открыть не удалось,
// выборка не начинается и возвращается ошибка, обернутая в ErrLocationUnavailable.
func (s *Sampler) Start(ctx context.Context, onSample func(Sample)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSamplerRunning
	}

	watchCtx, cancel := context.WithCancel(ctx)
	positions, err := s.source.Watch(watchCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	s.throttle.Reset()
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(watchCtx, cancel, positions, onSample, s.done)
	return nil
}

// run завершается по отмене ctx или закрытию канала. В обоих случаях подписка освобождается.
func (s *Sampler) run(ctx context.Context, cancel context.CancelFunc, positions <-chan RawPosition, onSample func(Sample), done chan struct{}) {
	defer close(done)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-positions:
			if !ok {
				return
			}
			if s.throttle.Accept(p) {
				onSample(SampleFrom(p))
			}
		}
	}
}

// Stop отменяет подписку на источник и ждет завершения горутины. Повторный вызов безопасен.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done закрывается, когда выборка завершилась (источник закрыт или вызван Stop)
func (s *Sampler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// ChannelSource источник, в который позиции проталкивает транспорт (WebSocket, HTTP)
type ChannelSource struct {
	mu       sync.Mutex
	ch       chan RawPosition
	closed   bool
	watching bool
}

func NewChannelSource(buffer int) *ChannelSource {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelSource{ch: make(chan RawPosition, buffer)}
}

// Watch отдает канал позиций. Источник одноразовый: после отмены ctx он закрывается.
func (s *ChannelSource) Watch(ctx context.Context) (<-chan RawPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.watching {
		return nil, errors.New("источник уже прослушивается")
	}
	s.watching = true

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s.ch, nil
}

// Push кладет позицию в источник, не блокируясь
func (s *ChannelSource) Push(p RawPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSourceClosed
	}
	select {
	case s.ch <- p:
		return nil
	default:
		return ErrSourceBusy
	}
}

func (s *ChannelSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
