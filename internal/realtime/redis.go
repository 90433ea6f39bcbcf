package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"kidride-backend/internal/models"
)

// DefaultChannel канал Redis для обновлений миссий
const DefaultChannel = "kidride:missions"

// envelope сообщение в канале Redis
type envelope struct {
	TransportID string                `json:"transportId"`
	Mission     *models.ActiveMission `json:"mission"`
}

// RedisBridge публикует обновления в Redis, а полученные из Redis раздает
// локальному хабу. Так подписчики получают обновления, записанные другими экземплярами.
type RedisBridge struct {
	client  *redis.Client
	hub     *Hub
	channel string
}

func NewRedisBridge(client *redis.Client, hub *Hub, channel string) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{client: client, hub: hub, channel: channel}
}

func (b *RedisBridge) Publish(ctx context.Context, transportID string, mission *models.ActiveMission) error {
	payload, err := encodeEnvelope(transportID, mission)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("ошибка публикации в Redis: %w", err)
	}
	return nil
}

// Run слушает канал Redis до отмены ctx
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Дожидаемся подтверждения подписки
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("ошибка подписки на канал %s: %w", b.channel, err)
	}
	log.WithField("channel", b.channel).Info("Подписка на обновления миссий в Redis")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handle(ctx, msg.Payload)
		}
	}
}

func (b *RedisBridge) handle(ctx context.Context, payload string) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		log.WithError(err).Warn("Некорректное сообщение в канале обновлений миссий")
		return
	}
	_ = b.hub.Publish(ctx, env.TransportID, env.Mission)
}

func encodeEnvelope(transportID string, mission *models.ActiveMission) (string, error) {
	raw, err := json.Marshal(envelope{TransportID: transportID, Mission: mission})
	if err != nil {
		return "", fmt.Errorf("ошибка кодирования обновления: %w", err)
	}
	return string(raw), nil
}

func decodeEnvelope(payload string) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, err
	}
	if env.TransportID == "" {
		return nil, &models.DecodeError{Entity: "mission_update", Field: "transportId", Reason: "пустой идентификатор перевозки"}
	}
	if env.Mission != nil {
		if err := env.Mission.Validate(); err != nil {
			return nil, err
		}
	}
	return &env, nil
}
