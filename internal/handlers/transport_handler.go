package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"kidride-backend/internal/geo"
	"kidride-backend/internal/middleware"
	"kidride-backend/internal/models"
	"kidride-backend/internal/repository"
	"kidride-backend/internal/utils"
)

type createTransportRequest struct {
	DriverID    string                    `json:"driverId" binding:"required"`
	ChildID     string                    `json:"childId"`
	ChildName   string                    `json:"childName" binding:"required"`
	ScheduledAt time.Time                 `json:"scheduledAt" binding:"required"`
	Direction   models.TransportDirection `json:"direction" binding:"required"`
	Origin      models.Place              `json:"origin"`
	Destination models.Place              `json:"destination"`
}

// TransportCreate родитель планирует перевозку ребенка
func TransportCreate(transports repository.TransportRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createTransportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		transport := &models.ScheduledTransport{
			ParentID:    middleware.UserID(c),
			DriverID:    req.DriverID,
			ChildID:     req.ChildID,
			ChildName:   req.ChildName,
			ScheduledAt: req.ScheduledAt,
			Direction:   req.Direction,
			Origin:      req.Origin,
			Destination: req.Destination,
			Status:      models.TransportStatusScheduled,
		}
		transport.DistanceMeters = geo.Distance(req.Origin.Coordinates(), req.Destination.Coordinates())

		if err := transports.Create(c.Request.Context(), transport); err != nil {
			respondError(c, err)
			return
		}

		log.WithFields(log.Fields{
			"transport_id": transport.ID,
			"parent_id":    transport.ParentID,
			"driver_id":    transport.DriverID,
		}).Info("Перевозка запланирована")
		c.JSON(http.StatusCreated, transport)
	}
}

// TransportList перевозки текущего пользователя
func TransportList(transports repository.TransportRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)

		var (
			list []models.ScheduledTransport
			err  error
		)
		switch middleware.Role(c) {
		case utils.RoleParent:
			list, err = transports.ListByParent(c.Request.Context(), userID)
		case utils.RoleDriver:
			list, err = transports.ListByDriver(c.Request.Context(), userID)
		default:
			if parentID := c.Query("parent_id"); parentID != "" {
				list, err = transports.ListByParent(c.Request.Context(), parentID)
			} else if driverID := c.Query("driver_id"); driverID != "" {
				list, err = transports.ListByDriver(c.Request.Context(), driverID)
			} else {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Укажите parent_id или driver_id"})
				return
			}
		}
		if err != nil {
			respondError(c, err)
			return
		}
		if list == nil {
			list = []models.ScheduledTransport{}
		}
		c.JSON(http.StatusOK, list)
	}
}

// TransportGet перевозка по идентификатору
func TransportGet(transports repository.TransportRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		transport, ok := loadTransport(c, transports)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, transport)
	}
}

// TransportCancel родитель отменяет еще не начатую перевозку
func TransportCancel(transports repository.TransportRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		transport, ok := loadTransport(c, transports)
		if !ok {
			return
		}
		if middleware.Role(c) != utils.RoleAdmin && transport.ParentID != middleware.UserID(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Только родитель может отменить перевозку"})
			return
		}

		// Статус и отсутствие миссии проверяются атомарно вместе с отменой
		cancelled, err := transports.Cancel(c.Request.Context(), transport.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, cancelled)
	}
}

// loadTransport загружает перевозку из параметра :id и проверяет доступ.
// При ошибке ответ уже отправлен.
func loadTransport(c *gin.Context, transports repository.TransportRepository) (*models.ScheduledTransport, bool) {
	transport, err := transports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Перевозка не найдена"})
			return nil, false
		}
		respondError(c, err)
		return nil, false
	}
	if middleware.Role(c) != utils.RoleAdmin && !transport.Involves(middleware.UserID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к перевозке"})
		return nil, false
	}
	return transport, true
}
