package models

import (
	"fmt"
	"math"
)

// DecodeError документ из хранилища или от клиента не соответствует схеме
type DecodeError struct {
	Entity string
	ID     string
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("некорректный документ %s: поле %s: %s", e.Entity, e.Field, e.Reason)
	}
	return fmt.Sprintf("некорректный документ %s/%s: поле %s: %s", e.Entity, e.ID, e.Field, e.Reason)
}

func validateCoordinates(entity, id, field string, lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return &DecodeError{
			Entity: entity,
			ID:     id,
			Field:  field,
			Reason: fmt.Sprintf("координаты вне диапазона (%f, %f)", lat, lng),
		}
	}
	return nil
}

// ValidateCoordinates проверка координат для входящих данных
func ValidateCoordinates(field string, lat, lng float64) error {
	return validateCoordinates("input", "", field, lat, lng)
}
