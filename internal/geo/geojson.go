package geo

import (
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"kidride-backend/internal/models"
)

// TrackFeature собирает историю позиций миссии в GeoJSON Feature с LineString.
// Если точка одна, геометрия - Point; без точек геометрии нет.
func TrackFeature(missionID string, positions []models.GPSPosition) (*geojson.Feature, error) {
	feature := &geojson.Feature{
		ID: missionID,
		Properties: map[string]interface{}{
			"missionId": missionID,
			"points":    len(positions),
		},
	}

	switch len(positions) {
	case 0:
		return feature, nil
	case 1:
		p := positions[0]
		feature.Geometry = geom.NewPointFlat(geom.XY, []float64{p.Lng, p.Lat})
		feature.Properties["startedAt"] = p.CapturedAt
		feature.Properties["endedAt"] = p.CapturedAt
		return feature, nil
	}

	coords := make([]geom.Coord, 0, len(positions))
	var length float64
	for i, p := range positions {
		coords = append(coords, geom.Coord{p.Lng, p.Lat})
		if i > 0 {
			prev := positions[i-1]
			length += Distance(
				models.Coordinates{Lat: prev.Lat, Lng: prev.Lng},
				models.Coordinates{Lat: p.Lat, Lng: p.Lng},
			)
		}
	}

	line, err := geom.NewLineString(geom.XY).SetCoords(coords)
	if err != nil {
		return nil, fmt.Errorf("ошибка при построении трека: %w", err)
	}
	feature.Geometry = line
	feature.Properties["lengthMeters"] = length
	feature.Properties["startedAt"] = positions[0].CapturedAt
	feature.Properties["endedAt"] = positions[len(positions)-1].CapturedAt
	return feature, nil
}

// MarshalTrack сериализует трек в JSON
func MarshalTrack(missionID string, positions []models.GPSPosition) ([]byte, error) {
	feature, err := TrackFeature(missionID, positions)
	if err != nil {
		return nil, err
	}
	return json.Marshal(feature)
}
