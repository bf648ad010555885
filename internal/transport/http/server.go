package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docuchat/internal/bootstrap"
	"docuchat/internal/transport/http/handler"
	"docuchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.MaxMultipartMemory = app.Config.MaxUploadBytes()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Tracing(app.Config.Telemetry.ServiceName),
		middleware.AccessLog(),
		middleware.Prometheus(app.Metrics),
		middleware.CORS(app.Config.App.AllowedOrigins),
	)

	healthHandler := handler.NewHealthHandler(
		app.Config.App.Name,
		app.Config.App.Env,
		app.StartedAt,
		healthDependencies(app.HealthChecks()),
		app.HealthDetails,
	)
	router.GET("/healthz", healthHandler.Check)
	if app.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))
	}

	uploadHandler := handler.NewUploadHandler(app.Uploads, app.Tracker)
	documentHandler := handler.NewDocumentHandler(app.Documents)
	chatHandler := handler.NewChatHandler(app.Chat, app.History)
	feedbackHandler := handler.NewFeedbackHandler(app.Feedback)
	collectionHandler := handler.NewCollectionHandler(app.Collections)
	searchHandler := handler.NewSearchHandler(app.Search)

	v1 := router.Group("/api/v1")
	v1.Use(
		middleware.Identity(app.Config.Auth.JWTSecret, app.Config.Auth.Issuer),
		middleware.EnrichTrace(),
	)

	v1.POST("/upload", uploadHandler.Upload)
	v1.GET("/upload-status/:task_id", uploadHandler.Status)
	v1.GET("/upload-status/:task_id/stream", uploadHandler.StreamStatus)
	v1.GET("/processing-status", uploadHandler.ListStatus)

	v1.POST("/query", chatHandler.Query)
	v1.POST("/search", searchHandler.Search)
	v1.GET("/chat-history", chatHandler.History)
	v1.DELETE("/chat-history", chatHandler.ClearHistory)
	v1.GET("/chat-history/export", chatHandler.ExportHistory)

	v1.POST("/feedback", feedbackHandler.Submit)
	v1.GET("/feedback", feedbackHandler.List)
	v1.GET("/messages/:id", feedbackHandler.GetMessage)

	documents := v1.Group("/documents")
	documents.GET("", documentHandler.List)
	documents.DELETE("/:filename", documentHandler.Delete)
	documents.POST("/:filename/reprocess", documentHandler.Reprocess)

	collections := v1.Group("/collections")
	collections.GET("", collectionHandler.List)
	collections.POST("", collectionHandler.Create)
	collections.DELETE("/:name", collectionHandler.Delete)
	collections.POST("/:name/reset", collectionHandler.Reset)
	v1.GET("/vector-store/health", collectionHandler.Health)

	return router
}

func healthDependencies(checks []bootstrap.HealthCheck) []handler.Dependency {
	deps := make([]handler.Dependency, 0, len(checks))
	for _, c := range checks {
		deps = append(deps, handler.Dependency{Name: c.Name, Optional: c.Optional, Check: c.Check})
	}
	return deps
}
