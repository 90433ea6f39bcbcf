package dgis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"kidride-backend/internal/models"
)

// CacheService представляет сервис кэширования для запросов к 2ГИС API
type CacheService struct {
	redisClient *redis.Client
	ttl         time.Duration
	enabled     bool
}

// NewCacheService создает сервис кэширования поверх общего клиента Redis.
// Без клиента кэширование выключено.
func NewCacheService(client *redis.Client, ttl time.Duration) *CacheService {
	if client == nil {
		return &CacheService{enabled: false}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CacheService{
		redisClient: client,
		ttl:         ttl,
		enabled:     true,
	}
}

// Get получает данные из кэша
func (c *CacheService) Get(ctx context.Context, key string, result interface{}) (bool, error) {
	if !c.enabled {
		return false, nil
	}

	val, err := c.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		// Ключ не найден в кэше
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("ошибка при получении данных из кэша: %w", err)
	}

	if err := json.Unmarshal([]byte(val), result); err != nil {
		return false, fmt.Errorf("ошибка при десериализации данных из кэша: %w", err)
	}

	return true, nil
}

// Set сохраняет данные в кэш
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("ошибка при сериализации данных для кэша: %w", err)
	}

	if err := c.redisClient.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("ошибка при сохранении данных в кэш: %w", err)
	}

	return nil
}

// RouteKey ключ кэша маршрута. Координаты округляются до ~10 м,
// чтобы близкие точки старта попадали в один ключ.
func RouteKey(from, to models.Coordinates) string {
	return fmt.Sprintf("route:%.4f:%.4f:%.4f:%.4f", from.Lat, from.Lng, to.Lat, to.Lng)
}
