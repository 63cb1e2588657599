package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	logger "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Logger"
)

const (
	// RequestIDHeader is read from the request and echoed on the response
	RequestIDHeader = "X-Request-ID"

	requestLoggerContextKey = "request_logger"
	unmatchedRoute          = "unmatched"
)

// HTTPRecorder receives one observation per served request
type HTTPRecorder interface {
	ObserveHTTP(method, route string, status int)
}

// RequestLogger tags every request with an id, stores a request scoped
// logger on the gin context and writes one access log line when the
// handler returns.
func RequestLogger(log *logger.Logger, recorder HTTPRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		reqLog := log.WithRequestID(requestID)

		c.Set(requestLoggerContextKey, reqLog)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := c.Writer.Status()
		if recorder != nil {
			recorder.ObserveHTTP(c.Request.Method, route, status)
		}

		event := reqLog.Logger.Info()
		if status >= 500 {
			event = reqLog.Logger.Error()
		} else if status >= 400 {
			event = reqLog.Logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// GetLogger returns the request scoped logger, or fallback outside of
// RequestLogger.
func GetLogger(c *gin.Context, fallback *logger.Logger) *logger.Logger {
	if l, ok := c.Get(requestLoggerContextKey); ok {
		if reqLog, ok := l.(*logger.Logger); ok {
			return reqLog
		}
	}
	return fallback
}
