package geo

import (
	"time"

	"kidride-backend/internal/models"
)

const (
	DefaultMinInterval = 3 * time.Second
	DefaultMinDistance = 25.0 // метры
)

// RawPosition сырое событие от источника позиций
type RawPosition struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

func (p RawPosition) Coordinates() models.Coordinates {
	return models.Coordinates{Lat: p.Lat, Lng: p.Lng}
}

// Validate проверяет событие, пришедшее от клиента
func (p RawPosition) Validate() error {
	if err := models.ValidateCoordinates("position", p.Lat, p.Lng); err != nil {
		return err
	}
	if p.CapturedAt.IsZero() {
		return &models.DecodeError{Entity: "input", Field: "capturedAt", Reason: "не указано время снятия позиции"}
	}
	return nil
}

// Sample позиция, прошедшая троттлинг
type Sample struct {
	Lat       float64
	Lng       float64
	Accuracy  float64
	Speed     *float64
	Heading   *float64
	Timestamp time.Time
}

func SampleFrom(p RawPosition) Sample {
	return Sample{
		Lat:       p.Lat,
		Lng:       p.Lng,
		Accuracy:  p.Accuracy,
		Speed:     p.Speed,
		Heading:   p.Heading,
		Timestamp: p.CapturedAt,
	}
}

// Throttle пропускает позицию, если с последней принятой прошло не меньше
// MinInterval или водитель сместился не меньше чем на MinDistance метров.
// Первая позиция после Reset принимается всегда. Не потокобезопасен.
type Throttle struct {
	MinInterval time.Duration
	MinDistance float64

	last *RawPosition
}

func NewThrottle(minInterval time.Duration, minDistance float64) *Throttle {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if minDistance <= 0 {
		minDistance = DefaultMinDistance
	}
	return &Throttle{MinInterval: minInterval, MinDistance: minDistance}
}

// Accept решает, пропускать ли позицию дальше, и запоминает принятую
func (t *Throttle) Accept(p RawPosition) bool {
	if t.last == nil {
		t.remember(p)
		return true
	}

	elapsed := p.CapturedAt.Sub(t.last.CapturedAt)
	moved := Distance(t.last.Coordinates(), p.Coordinates())
	if elapsed >= t.MinInterval || moved >= t.MinDistance {
		t.remember(p)
		return true
	}
	return false
}

// Reset забывает последнюю точку, следующая позиция будет принята
func (t *Throttle) Reset() {
	t.last = nil
}

func (t *Throttle) remember(p RawPosition) {
	last := p
	t.last = &last
}
