package dgis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"kidride-backend/internal/middleware"
	"kidride-backend/internal/models"
)

const DefaultBaseURL = "https://catalog.api.2gis.com/3.0"

var (
	// ErrDailyLimit исчерпан дневной лимит запросов
	ErrDailyLimit = errors.New("превышен дневной лимит запросов к API 2ГИС")
	// ErrNoRoute 2ГИС не вернул ни одного маршрута
	ErrNoRoute = errors.New("маршрут не найден")
)

// Client представляет клиент для работы с API 2ГИС
type Client struct {
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	cacheService  *CacheService
	rateLimiter   *time.Ticker
	requestsMutex sync.Mutex
	requestsCount int
	requestsLimit int
	resetTime     time.Time
}

// RouteResponse представляет ответ от API построения маршрутов 2ГИС
type RouteResponse struct {
	Meta struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"meta"`
	Result struct {
		Routes []struct {
			Distance int    `json:"distance"`
			Duration int    `json:"duration"`
			Type     string `json:"type"`
			Points   []struct {
				Lat float64 `json:"lat"`
				Lon float64 `json:"lon"`
			} `json:"points"`
		} `json:"routes"`
	} `json:"result"`
}

type Options struct {
	BaseURL string
	// DailyLimit по умолчанию 5000 запросов в день
	DailyLimit int
	Cache      *CacheService
}

// NewClient создает новый клиент для работы с API 2ГИС
func NewClient(apiKey string, opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	requestsLimit := opts.DailyLimit
	if requestsLimit <= 0 {
		requestsLimit = 5000
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewCacheService(nil, 0)
	}

	return &Client{
		apiKey:        apiKey,
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		cacheService:  cache,
		rateLimiter:   time.NewTicker(200 * time.Millisecond), // Максимум 5 запросов в секунду
		requestsLimit: requestsLimit,
		resetTime:     time.Now().Add(24 * time.Hour),
	}
}

// checkRateLimit проверяет лимит запросов и ожидает, если необходимо
func (c *Client) checkRateLimit(ctx context.Context) error {
	c.requestsMutex.Lock()
	defer c.requestsMutex.Unlock()

	// Если прошли сутки, сбрасываем счетчик
	if time.Now().After(c.resetTime) {
		c.requestsCount = 0
		c.resetTime = time.Now().Add(24 * time.Hour)
	}

	if c.requestsCount >= c.requestsLimit {
		return fmt.Errorf("%w (%d)", ErrDailyLimit, c.requestsLimit)
	}

	// Ожидаем разрешения от rate limiter (не чаще 5 запросов в секунду)
	select {
	case <-c.rateLimiter.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.requestsCount++
	return nil
}

// GetRoute получает маршрут между двумя точками
func (c *Client) GetRoute(ctx context.Context, from, to models.Coordinates) (*RouteResponse, error) {
	start := time.Now()
	fields := log.Fields{"from": from, "to": to}

	cacheKey := RouteKey(from, to)
	var result RouteResponse
	found, err := c.cacheService.Get(ctx, cacheKey, &result)
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("Ошибка при получении маршрута из кэша")
	} else if found {
		middleware.TrackDGISRequest("directions", "ok", true, time.Since(start))
		log.WithFields(fields).Debug("Получен маршрут из кэша")
		return &result, nil
	}

	if err := c.checkRateLimit(ctx); err != nil {
		middleware.TrackDGISRequest("directions", "limited", false, time.Since(start))
		return nil, err
	}

	params := url.Values{}
	params.Add("key", c.apiKey)
	params.Add("locale", "ru_KZ")
	params.Add("point1", fmt.Sprintf("%f,%f", from.Lat, from.Lng))
	params.Add("point2", fmt.Sprintf("%f,%f", to.Lat, to.Lng))
	params.Add("type", "car") // Тип транспорта

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/directions?%s", c.baseURL, params.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка при создании запроса маршрута: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		middleware.TrackDGISRequest("directions", "error", false, time.Since(start))
		return nil, fmt.Errorf("ошибка при выполнении запроса маршрута: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		middleware.TrackDGISRequest("directions", "error", false, time.Since(start))
		return nil, fmt.Errorf("ошибка при чтении ответа маршрута: %w", err)
	}

	middleware.TrackDGISRequest("directions", strconv.Itoa(resp.StatusCode), false, time.Since(start))
	if resp.StatusCode != http.StatusOK {
		log.WithFields(fields).WithField("status", resp.StatusCode).Warn("2GIS вернул ошибку для маршрута")
		return nil, fmt.Errorf("неверный статус ответа для маршрута: %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("ошибка при декодировании ответа маршрута: %w", err)
	}

	if err := c.cacheService.Set(ctx, cacheKey, result); err != nil {
		log.WithFields(fields).WithError(err).Warn("Ошибка при сохранении маршрута в кэш")
	}

	return &result, nil
}

// EstimateDuration время в пути по первому маршруту 2ГИС
func (c *Client) EstimateDuration(ctx context.Context, from, to models.Coordinates) (time.Duration, error) {
	route, err := c.GetRoute(ctx, from, to)
	if err != nil {
		return 0, err
	}
	if len(route.Result.Routes) == 0 {
		return 0, ErrNoRoute
	}
	return time.Duration(route.Result.Routes[0].Duration) * time.Second, nil
}

// Close закрывает ресурсы клиента. Клиент Redis общий и закрывается в main.
func (c *Client) Close() {
	c.rateLimiter.Stop()
}
