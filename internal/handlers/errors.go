package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"kidride-backend/internal/geo"
	"kidride-backend/internal/models"
	"kidride-backend/internal/repository"
	"kidride-backend/internal/services/tracking"
)

// respondError переводит ошибку сервиса в HTTP ответ
func respondError(c *gin.Context, err error) {
	var decodeErr *models.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": decodeErr.Error()})
	case errors.Is(err, tracking.ErrTransportNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Перевозка не найдена"})
	case errors.Is(err, tracking.ErrMissionNotFound), errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Миссия не найдена"})
	case errors.Is(err, tracking.ErrNotAssignedDriver):
		c.JSON(http.StatusForbidden, gin.H{"error": "Водитель не назначен на эту перевозку"})
	case errors.Is(err, tracking.ErrMissionAlreadyActive):
		c.JSON(http.StatusConflict, gin.H{"error": "Для перевозки уже есть активная миссия"})
	case errors.Is(err, tracking.ErrMissionCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "Миссия уже завершена"})
	case errors.Is(err, tracking.ErrTransportNotStartable):
		c.JSON(http.StatusConflict, gin.H{"error": "Перевозку нельзя начать в текущем статусе"})
	case errors.Is(err, repository.ErrTransportNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": "Отменить можно только запланированную перевозку"})
	case errors.Is(err, tracking.ErrExternalSource), errors.Is(err, geo.ErrSourceClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "Позиции миссии сейчас не принимаются"})
	case errors.Is(err, geo.ErrSourceBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Слишком много позиций, повторите позже"})
	default:
		log.WithFields(log.Fields{
			"path":   c.FullPath(),
			"method": c.Request.Method,
		}).WithError(err).Error("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Внутренняя ошибка сервера"})
	}
}
