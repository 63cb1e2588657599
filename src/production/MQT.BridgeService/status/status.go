package status

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.ApiService/middleware"
	mqtbridge "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Bridge"
	config "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Logger"
)

// BridgeState is the read-only view of the bridge the status server needs
type BridgeState interface {
	State() mqtbridge.State
	IsConnected() bool
}

// NewRouter builds the bridge process's status listener. It only reads the
// bridge state and the broker settings.
func NewRouter(bridge BridgeState, mqttCfg config.MQTTConfig, metrics http.Handler, recorder middleware.HTTPRecorder, log *logger.Logger) *gin.Engine {
	if log == nil {
		log = logger.Nop()
	}

	router := gin.New()
	router.Use(middleware.RequestLogger(log, recorder))
	router.Use(gin.Recovery())

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "MQTT server running",
			"broker": mqttCfg.BrokerHost,
			"port":   mqttCfg.BrokerPort,
		})
	})

	router.GET("/health", func(c *gin.Context) {
		state := bridge.State()
		mqttStatus := "disconnected"
		if bridge.IsConnected() {
			mqttStatus = "connected"
		}

		code := http.StatusOK
		status := "healthy"
		if state != mqtbridge.Subscribed {
			code = http.StatusServiceUnavailable
			status = "unhealthy"
		}

		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"bridge":    state.String(),
			"services": gin.H{
				"mqtt": mqttStatus,
			},
		})
	})

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	return router
}
