package routes

import (
	"github.com/gin-gonic/gin"

	"kidride-backend/internal/handlers"
	"kidride-backend/internal/middleware"
	"kidride-backend/internal/repository"
	"kidride-backend/internal/services/tracking"
	"kidride-backend/internal/utils"
	"kidride-backend/internal/websocket"
)

type Dependencies struct {
	Store     *repository.Store
	Tracking  *tracking.Service
	Sockets   *websocket.Manager
	JWTSecret string
}

func SetupRoutes(api *gin.RouterGroup, deps Dependencies) {
	parent := middleware.RequireRole(utils.RoleParent)
	driver := middleware.RequireRole(utils.RoleDriver)
	transports := deps.Store.Transports

	// Все маршруты требуют аутентификации
	protected := api.Group("")
	protected.Use(middleware.JWTAuth(deps.JWTSecret))
	{
		// Перевозки
		protected.POST("/transports", parent, handlers.TransportCreate(transports))
		protected.GET("/transports", handlers.TransportList(transports))
		protected.GET("/transports/:id", handlers.TransportGet(transports))
		protected.PUT("/transports/:id/cancel", parent, handlers.TransportCancel(transports))

		// Жизненный цикл миссии
		protected.PUT("/transports/:id/start", driver, handlers.MissionStart(deps.Tracking))
		protected.GET("/transports/:id/mission", handlers.MissionByTransport(transports, deps.Tracking))
		protected.PUT("/missions/:id/complete", driver, handlers.MissionComplete(deps.Tracking, deps.Sockets))

		// Позиции
		protected.POST("/missions/:id/positions", driver, handlers.MissionPushPosition(deps.Tracking))
		protected.GET("/missions/:id/positions", handlers.MissionPositions(transports, deps.Tracking))
		protected.GET("/missions/:id/track", handlers.MissionTrack(transports, deps.Tracking))

		protected.GET("/driver/missions", driver, handlers.DriverMissions(deps.Tracking))

		// WebSocket подключения для обновлений в реальном времени
		protected.GET("/ws/transports/:id", websocket.TransportHandler(deps.Sockets, transports, deps.Tracking))
		protected.GET("/ws/missions/:id/stream", driver, websocket.MissionStreamHandler(deps.Sockets, deps.Tracking))
	}
}
