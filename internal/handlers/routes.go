package handlers

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/oct-api/internal/metrics"
)

// NewRouter registers every endpoint of the service.
func NewRouter(h *Handler, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsConfig.AllowHeaders = []string{"Content-Type", requestIDHeader}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.Recovery(),
		RequestID(),
		AccessLog(logger),
		m.Middleware(),
		cors.New(corsConfig),
	)
	r.SetHTMLTemplate(Templates())

	r.GET("/", h.Index)
	r.GET("/health", h.Health)
	r.GET("/metrics", m.Handler())
	r.POST("/predict", h.Predict)
	r.POST("/predict/image", h.PredictFromImage)
	r.POST("/predict/page", h.PredictPage)

	return r
}
