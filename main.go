package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"kidride-backend/internal/config"
	"kidride-backend/internal/db"
	"kidride-backend/internal/logger"
	"kidride-backend/internal/middleware"
	"kidride-backend/internal/realtime"
	"kidride-backend/internal/repository"
	"kidride-backend/internal/repository/memory"
	"kidride-backend/internal/routes"
	"kidride-backend/internal/services"
	"kidride-backend/internal/services/dgis"
	"kidride-backend/internal/services/tracking"
	"kidride-backend/internal/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("Файл .env не найден, используем переменные окружения")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Ошибка конфигурации: ", err)
	}

	logger.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)

	// Устанавливаем режим релиза для продакшена
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Хранилище
	var store *repository.Store
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("Используется хранилище в памяти, данные не сохраняются между перезапусками")
		store = memory.NewStore()
	default:
		database, err := db.ConnectWithRetry(cfg, 5, 5*time.Second)
		if err != nil {
			log.Fatal("Ошибка подключения к базе данных: ", err)
		}
		if err := repository.Migrate(database); err != nil {
			log.Fatal("Ошибка миграции базы данных: ", err)
		}
		store = repository.NewGormStore(database)
	}

	// Подключение к Redis
	var redisClient *redis.Client
	if cfg.RealtimeBackend == "redis" || cfg.CacheEnabled {
		redisClient, err = db.NewRedisClient(cfg)
		if err != nil {
			if cfg.RealtimeBackend == "redis" {
				log.Fatal("Redis обязателен для REALTIME_BACKEND=redis: ", err)
			}
			log.WithError(err).Warn("Redis недоступен, продолжаем без кэширования")
		} else {
			log.Info("Успешное подключение к Redis")
			defer redisClient.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Раздача обновлений миссий
	hub := realtime.NewHub()
	var publisher realtime.Publisher = hub
	if cfg.RealtimeBackend == "redis" {
		bridge := realtime.NewRedisBridge(redisClient, hub, realtime.DefaultChannel)
		publisher = bridge
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.WithError(err).Error("Мост обновлений Redis остановлен")
			}
		}()
	}

	opts := tracking.Options{
		Publisher:        publisher,
		FallbackSpeedKmh: cfg.FallbackSpeedKmh,
		MinInterval:      cfg.TrackingInterval,
		MinDistance:      cfg.TrackingDistance,
	}
	if cfg.DGISAPIKey != "" {
		var cache *dgis.CacheService
		if cfg.CacheEnabled {
			cache = dgis.NewCacheService(redisClient, cfg.DGISCacheDuration)
		}
		dgisClient := dgis.NewClient(cfg.DGISAPIKey, dgis.Options{
			DailyLimit: cfg.DGISDailyLimit,
			Cache:      cache,
		})
		defer dgisClient.Close()
		opts.Estimator = dgisClient
	}
	notifications := services.NewNotificationService(cfg.FirebaseServerKey, "")
	if notifications.Enabled() {
		opts.Notifier = notifications
	}

	trackingService := tracking.NewService(store, hub, opts)

	// Запускаем WebSocket менеджер
	sockets := websocket.NewManager()
	sockets.Start()

	// Создаем Gin роутер
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// Добавляем middleware для сбора метрик
	r.Use(middleware.PrometheusMiddleware())

	// Настройка доверенных прокси
	r.SetTrustedProxies([]string{"127.0.0.1"})

	// Настройка CORS
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Добавляем эндпоинт для метрик Prometheus
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Проверка работоспособности системы
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"time":        time.Now().Format(time.RFC3339),
			"store":       cfg.StoreDriver,
			"realtime":    cfg.RealtimeBackend,
			"connections": sockets.Connections(),
		})
	})

	// API группа
	api := r.Group("/api")
	routes.SetupRoutes(api, routes.Dependencies{
		Store:     store,
		Tracking:  trackingService,
		Sockets:   sockets,
		JWTSecret: cfg.JWTSecret,
	})

	// Создаем HTTP сервер с настроенными таймаутами
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.WithField("port", cfg.Port).Info("Сервер запущен")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ошибка запуска сервера: %s", err)
		}
	}()

	// Ожидаем сигнал для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Получен сигнал завершения, закрываем соединения...")

	// Сначала закрываем WebSocket: hijacked соединения Shutdown не ждет
	sockets.Close()
	trackingService.Close()
	hub.Close()
	cancel()

	// Даем 30 секунд на завершение текущих запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Ошибка при graceful shutdown: %s", err)
	}

	log.Info("Сервер корректно завершил работу")
}
