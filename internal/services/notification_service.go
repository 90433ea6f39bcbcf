package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"kidride-backend/internal/models"
)

const DefaultFCMEndpoint = "https://fcm.googleapis.com/fcm/send"

// NotificationService отправляет push-уведомления родителям через FCM.
// Приложение родителя подписано на тему transport_<id> своей перевозки.
type NotificationService struct {
	serverKey  string
	endpoint   string
	httpClient *http.Client
}

type FCMPayload struct {
	To           string            `json:"to"`
	Data         map[string]string `json:"data,omitempty"`
	Notification struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
}

// NewNotificationService без ключа сервера уведомления не отправляются
func NewNotificationService(serverKey, endpoint string) *NotificationService {
	if endpoint == "" {
		endpoint = DefaultFCMEndpoint
	}
	return &NotificationService{
		serverKey:  serverKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *NotificationService) Enabled() bool {
	return s.serverKey != ""
}

func (s *NotificationService) SendPushNotification(ctx context.Context, token, title, body string, data map[string]string) error {
	if !s.Enabled() {
		log.WithField("to", token).Debug("FCM ключ не задан, уведомление пропущено")
		return nil
	}

	payload := FCMPayload{
		To:   token,
		Data: data,
	}
	payload.Notification.Title = title
	payload.Notification.Body = body

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshaling notification: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}

	req.Header.Set("Authorization", "key="+s.serverKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending notification: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("FCM returned error: %v", resp.Status)
	}

	return nil
}

// SendTopicNotification отправка уведомления всем подписчикам темы
func (s *NotificationService) SendTopicNotification(ctx context.Context, topic, title, body string, data map[string]string) error {
	return s.SendPushNotification(ctx, "/topics/"+topic, title, body, data)
}

// TransportTopic тема уведомлений перевозки
func TransportTopic(transportID string) string {
	return "transport_" + transportID
}

func (s *NotificationService) MissionStarted(ctx context.Context, transport *models.ScheduledTransport, mission *models.ActiveMission) error {
	body := "Водитель начал поездку"
	if mission.ChildName != "" {
		body = fmt.Sprintf("Водитель начал поездку с %s", mission.ChildName)
	}
	data := missionData(mission)
	if mission.EstimatedArrival != nil {
		data["estimated_arrival"] = mission.EstimatedArrival.Format(time.RFC3339)
	}
	return s.SendTopicNotification(ctx, TransportTopic(transport.ID), "Поездка началась", body, data)
}

func (s *NotificationService) MissionCompleted(ctx context.Context, transport *models.ScheduledTransport, mission *models.ActiveMission) error {
	body := fmt.Sprintf("Ребенок доставлен: %s", mission.Destination.Address)
	if mission.Destination.Address == "" {
		body = "Ребенок доставлен"
	}
	return s.SendTopicNotification(ctx, TransportTopic(transport.ID), "Поездка завершена", body, missionData(mission))
}

func missionData(m *models.ActiveMission) map[string]string {
	return map[string]string{
		"type":         "MISSION_STATUS_UPDATE",
		"mission_id":   m.ID,
		"transport_id": m.TransportID,
		"status":       string(m.Status),
	}
}
