package api

import (
	"github.com/gin-gonic/gin"

	"github.com/timmy/listingsync/internal/api/handler"
	"github.com/timmy/listingsync/internal/api/middleware"
	"github.com/timmy/listingsync/internal/config"
)

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Health       *handler.HealthHandler
	Automations  *handler.AutomationHandler
	Brokers      *handler.BrokerHandler
	Logs         *handler.LogHandler
	Settings     *handler.SettingsHandler
	Connectivity *handler.ConnectivityHandler
	Events       *handler.EventsHandler
	Stats        *handler.StatsHandler
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg config.ServerConfig, h Handlers) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.CORS))

	r.GET("/health", h.Health.Health)

	v1 := r.Group("/api/v1")
	{
		automations := v1.Group("/automations")
		automations.GET("", h.Automations.List)
		automations.POST("", h.Automations.Create)
		automations.GET("/:id", h.Automations.Get)
		automations.DELETE("/:id", h.Automations.Delete)
		automations.POST("/:id/start", h.Automations.Start)
		automations.POST("/:id/stop", h.Automations.Stop)
		automations.POST("/:id/retry", h.Automations.Retry)

		brokers := v1.Group("/brokers")
		brokers.GET("", h.Brokers.ListBrokers)
		brokers.POST("", h.Brokers.CreateBroker)
		brokers.GET("/:id", h.Brokers.GetBroker)
		brokers.PUT("/:id", h.Brokers.UpdateBroker)
		brokers.GET("/:id/codes", h.Brokers.ListCodes)
		brokers.POST("/:id/codes", h.Brokers.CreateCode)

		v1.PATCH("/codes/:id", h.Brokers.UpdateCode)
		v1.POST("/codes/:id/release", h.Brokers.ReleaseCode)
		v1.DELETE("/codes/:id", h.Brokers.DeleteCode)

		v1.GET("/logs", h.Logs.List)
		v1.DELETE("/logs", h.Logs.Purge)

		v1.GET("/settings", h.Settings.Get)
		v1.PUT("/settings", h.Settings.Update)

		v1.POST("/connectivity/:system", h.Connectivity.Test)

		v1.GET("/stats", h.Stats.Get)
		v1.GET("/events", h.Events.Stream)
	}

	return r
}
