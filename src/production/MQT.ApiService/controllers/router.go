package controllers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.ApiService/middleware"
	config "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Logger"
)

// RouterDeps is everything the API router needs
type RouterDeps struct {
	Service  SensorService
	Metrics  http.Handler
	Recorder middleware.HTTPRecorder
	CORS     config.CORSConfig
	Logger   *logger.Logger
}

// NewRouter builds the API engine with request logging, panic recovery and
// CORS in front of the sensor and health routes.
func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	router := gin.New()
	router.Use(middleware.RequestLogger(log, deps.Recorder))
	router.Use(gin.Recovery())

	router.Use(cors.New(corsConfig(deps.CORS)))

	NewSensorController(deps.Service, log).RegisterRoutes(router)
	NewHealthController(deps.Service, deps.Metrics, log).RegisterRoutes(router)

	return router
}

// corsConfig maps CORS_* settings onto gin-contrib/cors. A "*" origin, or no
// origin at all, allows every origin.
func corsConfig(cfg config.CORSConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     cfg.AllowedMethods,
		AllowHeaders:     cfg.AllowedHeaders,
		ExposeHeaders:    cfg.ExposedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           time.Duration(cfg.MaxAge) * time.Second,
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	if len(cfg.AllowedOrigins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = cfg.AllowedOrigins
	return c
}
