package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/vesselwatch/internal/api/handlers"
	"github.com/your-org/vesselwatch/internal/api/ws"
	"github.com/your-org/vesselwatch/internal/config"
	"github.com/your-org/vesselwatch/internal/statusfeed"
	"github.com/your-org/vesselwatch/internal/storage"
)

type RouterConfig struct {
	Store    storage.Store
	Enqueuer handlers.Enqueuer
	Feed     *statusfeed.Feed
	Upload   config.UploadConfig
	// Checks are the dependencies reported by /readyz, keyed by name.
	Checks map[string]handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")

	detectH := handlers.NewDetectHandler(cfg.Enqueuer, cfg.Upload)
	v1.POST("/detect", detectH.Detect)
	v1.POST("/upload", detectH.Upload)

	videoH := handlers.NewVideoHandler(cfg.Store)
	v1.GET("/videos", videoH.Find)
	v1.GET("/videos/:id", videoH.Get)
	v1.GET("/videos/:id/status", videoH.Status)
	v1.GET("/statuses", videoH.ListStatuses)

	locH := handlers.NewLocationHandler(cfg.Store)
	v1.GET("/locations", locH.List)
	v1.GET("/locations/:id", locH.Get)
	v1.PATCH("/locations/:id", locH.Update)
	v1.DELETE("/locations/:id", locH.Delete)

	if cfg.Feed != nil {
		v1.GET("/ws/status", ws.NewStatusStream(cfg.Feed).HandleWS)
	}

	return r
}
