// Package geo содержит геометрию на сфере и сэмплер позиций водителя.
package geo

import (
	"math"
	"time"

	"kidride-backend/internal/models"
)

// EarthRadiusMeters радиус Земли для формулы гаверсинусов
const EarthRadiusMeters = 6371000.0

// Distance расстояние по большому кругу между двумя точками в метрах
func Distance(a, b models.Coordinates) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// Bearing начальный азимут из a в b, градусы 0..360
func Bearing(a, b models.Coordinates) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)

	return math.Mod(toDegrees(math.Atan2(y, x))+360, 360)
}

// StraightLineEstimator оценивает время в пути по прямой с постоянной скоростью.
// Используется, когда сервис маршрутов недоступен.
type StraightLineEstimator struct {
	SpeedKmh float64
}

func (e StraightLineEstimator) EstimateDuration(from, to models.Coordinates) time.Duration {
	if e.SpeedKmh <= 0 {
		return 0
	}
	metersPerSecond := e.SpeedKmh * 1000 / 3600
	return time.Duration(Distance(from, to) / metersPerSecond * float64(time.Second))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
