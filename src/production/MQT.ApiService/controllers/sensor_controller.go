package controllers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.ApiService/middleware"
	logger "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Logger"
	sensor_models "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Models/sensor"
	operations "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Operations"
)

// SensorService is the operation set as seen by the HTTP binding
type SensorService interface {
	Dispatch(ctx context.Context, op operations.Operation, payload []byte) sensor_models.Response
	Execute(ctx context.Context, op operations.Operation, req sensor_models.Request) sensor_models.Response
}

// SensorController maps the /api/sensors routes onto the sensor operations.
// The HTTP status is the envelope status and the body is the envelope data.
type SensorController struct {
	service SensorService
	logger  *logger.Logger
}

// NewSensorController creates a new sensor controller
func NewSensorController(service SensorService, logger *logger.Logger) *SensorController {
	return &SensorController{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the sensor routes with Gin
func (c *SensorController) RegisterRoutes(router *gin.Engine) {
	sensors := router.Group("/api/sensors")
	{
		sensors.GET("", c.GetAll)
		sensors.GET("/stats", c.Stats)
		sensors.GET("/time-bucket", c.TimeBucket)
		sensors.GET("/:id", c.GetByID)
		sensors.POST("", c.Create)
		sensors.POST("/bulk", c.CreateBulk)
		sensors.PUT("", c.Update)
		sensors.DELETE("", c.Delete)
		sensors.DELETE("/:id", c.DeleteByID)
	}
}

func (c *SensorController) GetAll(ctx *gin.Context) {
	var p sensor_models.Params
	if !bindIntQuery(ctx, "sensor_id", &p.SensorID) ||
		!bindIntQuery(ctx, "hours", &p.Hours) ||
		!bindIntQuery(ctx, "limit", &p.Limit) {
		return
	}
	c.execute(ctx, operations.GetAll, p)
}

func (c *SensorController) GetByID(ctx *gin.Context) {
	var p sensor_models.Params
	if !bindSensorPath(ctx, &p.SensorID) || !bindIntQuery(ctx, "hours", &p.Hours) {
		return
	}
	c.execute(ctx, operations.GetByID, p)
}

func (c *SensorController) Create(ctx *gin.Context) {
	c.dispatch(ctx, operations.Create)
}

func (c *SensorController) CreateBulk(ctx *gin.Context) {
	c.dispatch(ctx, operations.CreateBulk)
}

func (c *SensorController) Update(ctx *gin.Context) {
	c.dispatch(ctx, operations.Update)
}

func (c *SensorController) Delete(ctx *gin.Context) {
	var p sensor_models.Params
	if !bindIntQuery(ctx, "sensor_id", &p.SensorID) {
		return
	}
	p.Time = stringQuery(ctx, "time")
	if p.Time == nil || p.SensorID == nil {
		ctx.JSON(http.StatusBadRequest, sensor_models.ErrorBody{Error: "time and sensor_id query parameters are required"})
		return
	}
	c.execute(ctx, operations.Delete, p)
}

func (c *SensorController) DeleteByID(ctx *gin.Context) {
	var p sensor_models.Params
	if !bindSensorPath(ctx, &p.SensorID) {
		return
	}
	c.execute(ctx, operations.DeleteByID, p)
}

func (c *SensorController) Stats(ctx *gin.Context) {
	var p sensor_models.Params
	if !bindIntQuery(ctx, "hours", &p.Hours) || !bindIntQuery(ctx, "sensor_id", &p.SensorID) {
		return
	}
	c.execute(ctx, operations.Stats, p)
}

func (c *SensorController) TimeBucket(ctx *gin.Context) {
	var p sensor_models.Params
	if !bindIntQuery(ctx, "hours", &p.Hours) || !bindIntQuery(ctx, "sensor_id", &p.SensorID) {
		return
	}
	p.Bucket = stringQuery(ctx, "bucket")
	c.execute(ctx, operations.TimeBucket, p)
}

// execute runs op on parameters taken from the path and query string
func (c *SensorController) execute(ctx *gin.Context, op operations.Operation, p sensor_models.Params) {
	resp := c.service.Execute(ctx.Request.Context(), op, sensor_models.NewParamsRequest(p))
	c.write(ctx, op, resp)
}

// dispatch runs op on the raw request body
func (c *SensorController) dispatch(ctx *gin.Context, op operations.Operation) {
	payload, err := ctx.GetRawData()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, sensor_models.ErrorBody{Error: "failed to read request body"})
		return
	}
	c.write(ctx, op, c.service.Dispatch(ctx.Request.Context(), op, payload))
}

func (c *SensorController) write(ctx *gin.Context, op operations.Operation, resp sensor_models.Response) {
	if msg, ok := resp.ErrorMessage(); ok && resp.StatusCode >= http.StatusInternalServerError {
		middleware.GetLogger(ctx, c.logger).Logger.Error().
			Str("operation", op.String()).
			Int("status_code", resp.StatusCode).
			Str("error", msg).
			Msg("Sensor operation failed")
	}
	ctx.JSON(resp.StatusCode, resp.Data)
}

// bindIntQuery sets *dst when key is present. It writes a 400 response and
// returns false when the value is not an integer.
func bindIntQuery(ctx *gin.Context, key string, dst **int) bool {
	raw, ok := ctx.GetQuery(key)
	if !ok || raw == "" {
		return true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, sensor_models.ErrorBody{Error: fmt.Sprintf("%s must be an integer", key)})
		return false
	}
	*dst = &v
	return true
}

func bindSensorPath(ctx *gin.Context, dst **int) bool {
	v, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, sensor_models.ErrorBody{Error: "sensor id must be an integer"})
		return false
	}
	*dst = &v
	return true
}

func stringQuery(ctx *gin.Context, key string) *string {
	if v, ok := ctx.GetQuery(key); ok && v != "" {
		return &v
	}
	return nil
}
