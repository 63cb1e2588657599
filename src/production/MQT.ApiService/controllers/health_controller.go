package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Logger"
	sensor_models "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Models/sensor"
	operations "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Operations"
)

// HealthController serves the store health check and the Prometheus scrape
// endpoint.
type HealthController struct {
	service SensorService
	metrics http.Handler
	logger  *logger.Logger
}

// NewHealthController creates a new health controller. A nil metrics handler
// leaves /metrics unregistered.
func NewHealthController(service SensorService, metrics http.Handler, logger *logger.Logger) *HealthController {
	return &HealthController{
		service: service,
		metrics: metrics,
		logger:  logger,
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", c.Health)
	if c.metrics != nil {
		router.GET("/metrics", gin.WrapH(c.metrics))
	}
}

func (c *HealthController) Health(ctx *gin.Context) {
	resp := c.service.Execute(ctx.Request.Context(), operations.Health, sensor_models.Request{Kind: sensor_models.PayloadEmpty})
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Health check reported unhealthy store")
	}
	ctx.JSON(resp.StatusCode, resp.Data)
}
