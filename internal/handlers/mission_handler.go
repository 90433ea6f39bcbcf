package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kidride-backend/internal/geo"
	"kidride-backend/internal/middleware"
	"kidride-backend/internal/models"
	"kidride-backend/internal/repository"
	"kidride-backend/internal/services/tracking"
	"kidride-backend/internal/utils"
	"kidride-backend/internal/websocket"
)

// MissionStart водитель начинает миссию по перевозке
func MissionStart(svc *tracking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var seed tracking.MissionSeed
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&seed); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		result, err := svc.StartMission(c.Request.Context(), tracking.StartRequest{
			TransportID: c.Param("id"),
			DriverID:    middleware.UserID(c),
			Seed:        seed,
		})
		if err != nil && result == nil {
			respondError(c, err)
			return
		}

		// Миссия создана даже при частичной ошибке: клиент продолжает с ней работать
		response := gin.H{"mission": result.Mission, "warnings": result.Warnings}
		if err != nil {
			response["error"] = err.Error()
		}
		c.JSON(http.StatusCreated, response)
	}
}

// MissionComplete водитель завершает миссию
func MissionComplete(svc *tracking.Service, sockets *websocket.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		driverID := middleware.UserID(c)
		if middleware.Role(c) == utils.RoleAdmin {
			driverID = ""
		}

		result, err := svc.CompleteMission(c.Request.Context(), c.Param("id"), driverID)
		if err != nil {
			respondError(c, err)
			return
		}
		websocket.NotifyMissionStatus(sockets, result.Mission)
		c.JSON(http.StatusOK, result)
	}
}

// MissionByTransport текущая активная миссия перевозки (null, если ее нет)
func MissionByTransport(transports repository.TransportRepository, svc *tracking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		transport, ok := loadTransport(c, transports)
		if !ok {
			return
		}
		mission, err := svc.QueryByTransport(c.Request.Context(), transport.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"mission": mission})
	}
}

// MissionPushPosition позиция водителя по HTTP, если WebSocket недоступен
func MissionPushPosition(svc *tracking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var p geo.RawPosition
		if err := c.ShouldBindJSON(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := svc.PushPosition(c.Request.Context(), c.Param("id"), middleware.UserID(c), p); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": true})
	}
}

// MissionPositions история GPS миссии
func MissionPositions(transports repository.TransportRepository, svc *tracking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		mission, ok := loadMission(c, transports, svc)
		if !ok {
			return
		}
		positions, err := svc.History(c.Request.Context(), mission.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		if positions == nil {
			positions = []models.GPSPosition{}
		}
		c.JSON(http.StatusOK, positions)
	}
}

// MissionTrack история GPS миссии в формате GeoJSON
func MissionTrack(transports repository.TransportRepository, svc *tracking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		mission, ok := loadMission(c, transports, svc)
		if !ok {
			return
		}
		raw, err := svc.Track(c.Request.Context(), mission.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/geo+json", raw)
	}
}

// DriverMissions незавершенные миссии текущего водителя
func DriverMissions(svc *tracking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		missions, err := svc.ListDriverMissions(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		if missions == nil {
			missions = []models.ActiveMission{}
		}
		c.JSON(http.StatusOK, missions)
	}
}

// loadMission загружает миссию из параметра :id. Доступ есть у водителя миссии
// и у участников перевозки. При ошибке ответ уже отправлен.
func loadMission(c *gin.Context, transports repository.TransportRepository, svc *tracking.Service) (*models.ActiveMission, bool) {
	mission, err := svc.GetMission(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}

	userID := middleware.UserID(c)
	if middleware.Role(c) == utils.RoleAdmin || mission.DriverID == userID {
		return mission, true
	}
	transport, err := transports.Get(c.Request.Context(), mission.TransportID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		respondError(c, err)
		return nil, false
	}
	if transport == nil || !transport.Involves(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к миссии"})
		return nil, false
	}
	return mission, true
}
