package websocket

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"kidride-backend/internal/geo"
	"kidride-backend/internal/middleware"
	"kidride-backend/internal/models"
	"kidride-backend/internal/repository"
	"kidride-backend/internal/services/tracking"
	"kidride-backend/internal/utils"
)

// missionUpdate полезная нагрузка MISSION_UPDATE. Mission == nil, если активной миссии нет.
type missionUpdate struct {
	TransportID string                `json:"transportId"`
	Mission     *models.ActiveMission `json:"mission"`
}

type positionAck struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// TransportHandler WebSocket подписка родителя на живую миссию перевозки
func TransportHandler(manager *Manager, transports repository.TransportRepository, svc *tracking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		transportID := c.Param("id")
		userID := middleware.UserID(c)

		transport, err := transports.Get(c.Request.Context(), transportID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Перевозка не найдена"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Ошибка при получении перевозки"})
			return
		}
		if middleware.Role(c) != utils.RoleAdmin && !transport.Involves(userID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Нет доступа к перевозке"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.WithField("transport_id", transportID).WithError(err).Warn("Ошибка обновления соединения до WebSocket")
			return
		}

		client := newClient(conn, userID)
		if !manager.add(client) {
			client.Close()
			return
		}
		defer manager.drop(client)

		// Подписка живет столько же, сколько соединение
		sub, err := svc.SubscribeByTransport(c.Request.Context(), transportID, func(m *models.ActiveMission) {
			if err := client.Send(&WebSocketMessage{
				Type:    MissionUpdateType,
				Payload: missionUpdate{TransportID: transportID, Mission: m},
			}); err != nil {
				log.WithField("client_id", client.clientID).WithError(err).Debug("Не удалось отправить обновление миссии")
				client.Close()
			}
		})
		if err != nil {
			client.sendError("не удалось подписаться на обновления")
			return
		}
		defer sub.Unsubscribe()

		log.WithFields(log.Fields{
			"transport_id": transportID,
			"user_id":      userID,
			"client_id":    client.clientID,
		}).Info("Подписка на перевозку по WebSocket")

		go client.keepAlive()
		client.readLoop(nil)
	}
}

// MissionStreamHandler WebSocket поток сырых позиций водителя для миссии
func MissionStreamHandler(manager *Manager, svc *tracking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		missionID := c.Param("id")
		driverID := middleware.UserID(c)

		if _, err := svc.AttachSource(c.Request.Context(), missionID, driverID); err != nil {
			switch {
			case errors.Is(err, tracking.ErrMissionNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "Миссия не найдена"})
			case errors.Is(err, tracking.ErrNotAssignedDriver):
				c.JSON(http.StatusForbidden, gin.H{"error": "Миссия назначена другому водителю"})
			case errors.Is(err, tracking.ErrMissionCompleted):
				c.JSON(http.StatusConflict, gin.H{"error": "Миссия уже завершена"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось начать отслеживание"})
			}
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.WithField("mission_id", missionID).WithError(err).Warn("Ошибка обновления соединения до WebSocket")
			return
		}

		client := newClient(conn, driverID)
		if !manager.add(client) {
			client.Close()
			return
		}
		defer manager.drop(client)

		fields := log.Fields{"mission_id": missionID, "driver_id": driverID, "client_id": client.clientID}
		log.WithFields(fields).Info("Водитель подключил поток позиций")

		go client.keepAlive()
		client.readLoop(func(msg incomingMessage) {
			if msg.Type != "position" {
				client.sendError("неизвестный тип сообщения: " + msg.Type)
				return
			}

			var p geo.RawPosition
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				client.sendError("некорректная позиция")
				return
			}

			err := svc.PushPosition(c.Request.Context(), missionID, driverID, p)
			ack := positionAck{Accepted: err == nil}
			if err != nil {
				ack.Error = err.Error()
			}
			if sendErr := client.Send(&WebSocketMessage{Type: PositionAckType, Payload: ack}); sendErr != nil {
				client.Close()
				return
			}

			if errors.Is(err, tracking.ErrMissionCompleted) {
				log.WithFields(fields).Info("Миссия завершена, закрываем поток позиций")
				_ = client.Send(&WebSocketMessage{
					Type:    MissionStatusUpdateType,
					Payload: map[string]string{"missionId": missionID, "status": string(models.MissionStatusCompleted)},
				})
				client.Close()
			}
		})
	}
}

// NotifyMissionStatus сообщает водителю о смене статуса миссии во все его соединения
func NotifyMissionStatus(manager *Manager, mission *models.ActiveMission) {
	manager.BroadcastToUser(mission.DriverID, &WebSocketMessage{
		Type: MissionStatusUpdateType,
		Payload: map[string]string{
			"missionId": mission.ID,
			"status":    string(mission.Status),
		},
	})
}
