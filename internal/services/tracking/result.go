// Package tracking связывает перевозку с живой миссией: жизненный цикл миссии,
// запись позиций водителя и подписки родителей на обновления.
package tracking

import (
	"errors"
	"fmt"

	"kidride-backend/internal/geo"
	"kidride-backend/internal/repository"
)

var (
	ErrTransportNotFound = errors.New("перевозка не найдена")
	ErrMissionNotFound   = errors.New("миссия не найдена")
	// ErrNotAssignedDriver вызывающий не является водителем перевозки или миссии
	ErrNotAssignedDriver = errors.New("водитель не назначен на эту перевозку")
	// ErrTransportSync миссия создана, но статус перевозки не обновлен
	ErrTransportSync = errors.New("не удалось обновить статус перевозки")
	// ErrExternalSource позиции миссии идут из внешнего источника, проталкивать их нельзя
	ErrExternalSource = errors.New("миссия отслеживается внешним источником")

	ErrTransportNotStartable = repository.ErrTransportNotStartable
	ErrMissionAlreadyActive  = repository.ErrMissionAlreadyActive
	ErrMissionCompleted      = repository.ErrMissionCompleted
	ErrLocationUnavailable   = geo.ErrLocationUnavailable
)

// Warning некритичная ошибка второстепенной операции. Основная операция при этом выполнена.
type Warning struct {
	Op      string `json:"op"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (w Warning) String() string {
	if w.Err == nil {
		return fmt.Sprintf("%s: %s", w.Op, w.Message)
	}
	return fmt.Sprintf("%s: %s: %v", w.Op, w.Message, w.Err)
}

func warn(op, message string, err error) Warning {
	return Warning{Op: op, Message: message, Err: err}
}
