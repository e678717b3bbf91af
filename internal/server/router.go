package server

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/labintel-backend/internal/http/handlers"
	httpMW "github.com/yungbote/labintel-backend/internal/http/middleware"
	"github.com/yungbote/labintel-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	LabsHandler      *httpH.LabsHandler
	ProtocolsHandler *httpH.ProtocolsHandler
	ComputeHandler   *httpH.ComputeHandler
	HealthHandler    *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("labintel"))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	api.Use(httpMW.RequireUser())
	{
		if cfg.LabsHandler != nil {
			api.POST("/labs/ingest", cfg.LabsHandler.IngestText)
			api.PUT("/labs/uploads/:id/pre-draw", cfg.LabsHandler.AttachPreDrawContext)
			api.GET("/labs/reviews/latest", cfg.LabsHandler.GetLatestReview)
			api.GET("/labs/uploads/:id/review", cfg.LabsHandler.GetReview)
			api.GET("/labs/trends", cfg.LabsHandler.GetTrends)
			api.GET("/labs/predictions", cfg.LabsHandler.GetPredictions)
			api.GET("/labs/changepoints", cfg.LabsHandler.GetChangepoints)
			api.GET("/labs/accuracy", cfg.LabsHandler.GetPredictionAccuracy)
		}

		if cfg.ComputeHandler != nil {
			api.POST("/labs/uploads/:id/recompute", cfg.ComputeHandler.RecomputeUpload)
			api.POST("/labs/recompute", cfg.ComputeHandler.RecomputeUser)
		}

		if cfg.ProtocolsHandler != nil {
			api.POST("/protocols", cfg.ProtocolsHandler.CreateProtocol)
			api.GET("/protocols", cfg.ProtocolsHandler.ListProtocols)
			api.POST("/protocols/:id/end", cfg.ProtocolsHandler.EndProtocol)
			api.GET("/protocols/effectiveness", cfg.ProtocolsHandler.GetEffectiveness)
		}
	}

	return r
}
