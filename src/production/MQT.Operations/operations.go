package operations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	logger "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Logger"
	sensor_models "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Models/sensor"
	interfaces "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Repository/Interfaces"
)

// Operation names one of the ten sensor operations. The value doubles as the
// topic segment of the MQTT binding.
type Operation string

const (
	Health     Operation = "health"
	GetAll     Operation = "get_all"
	GetByID    Operation = "get_by_id"
	Create     Operation = "create"
	CreateBulk Operation = "create_bulk"
	Update     Operation = "update"
	Delete     Operation = "delete"
	DeleteByID Operation = "delete_by_id"
	Stats      Operation = "stats"
	TimeBucket Operation = "time_bucket"
)

// All lists every operation in a stable order
var All = []Operation{Health, GetAll, GetByID, Create, CreateBulk, Update, Delete, DeleteByID, Stats, TimeBucket}

func (o Operation) String() string {
	return string(o)
}

// Handler runs one operation. It returns the success status and payload, or
// an error that Execute maps onto a status code.
type Handler func(ctx context.Context, req sensor_models.Request) (int, interface{}, error)

// Observer receives one observation per executed operation
type Observer interface {
	ObserveOperation(op string, status int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, int, time.Duration) {}

// Service is the transport-agnostic Sensor Data Service. It holds no mutable
// state and is safe for concurrent use.
type Service struct {
	repo     interfaces.SensorRepository
	logger   *logger.Logger
	observer Observer
	registry map[Operation]Handler
}

type Option func(*Service)

// WithObserver reports every execution to o
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

func NewService(repo interfaces.SensorRepository, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		repo:     repo,
		logger:   log.WithComponent("operations"),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = map[Operation]Handler{
		Health:     s.health,
		GetAll:     s.getAll,
		GetByID:    s.getByID,
		Create:     s.create,
		CreateBulk: s.createBulk,
		Update:     s.update,
		Delete:     s.delete,
		DeleteByID: s.deleteByID,
		Stats:      s.stats,
		TimeBucket: s.timeBucket,
	}
	return s
}

// Lookup returns the handler registered for op
func (s *Service) Lookup(op Operation) (Handler, bool) {
	h, ok := s.registry[op]
	return h, ok
}

// Dispatch decodes a raw payload and executes op. It always returns exactly
// one response envelope.
func (s *Service) Dispatch(ctx context.Context, op Operation, payload []byte) sensor_models.Response {
	req, err := sensor_models.DecodeRequest(payload)
	if err != nil {
		s.logger.Logger.Warn().Err(err).Str("operation", op.String()).Msg("Rejected malformed payload")
		resp := failure(http.StatusBadRequest, "No data provided")
		s.observer.ObserveOperation(op.String(), resp.StatusCode, 0)
		return resp
	}
	return s.Execute(ctx, op, req)
}

// Execute runs op on an already decoded request
func (s *Service) Execute(ctx context.Context, op Operation, req sensor_models.Request) (resp sensor_models.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Logger.Error().Str("operation", op.String()).Interface("panic", r).Msg("Operation panicked")
			resp = failure(http.StatusInternalServerError, "internal server error")
		}
		s.observer.ObserveOperation(op.String(), resp.StatusCode, time.Since(start))
	}()

	handler, ok := s.Lookup(op)
	if !ok {
		return failure(http.StatusNotFound, fmt.Sprintf("unknown operation %q", op))
	}

	status, data, err := handler(ctx, req)
	if err != nil {
		resp = s.errorResponse(op, err)
		return resp
	}
	return sensor_models.Response{StatusCode: status, Data: data}
}

func (s *Service) errorResponse(op Operation, err error) sensor_models.Response {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		return failure(http.StatusBadRequest, validation.Message)
	case errors.Is(err, ErrNotFound):
		return failure(http.StatusNotFound, "Record not found")
	case errors.Is(err, interfaces.ErrDuplicateReading):
		return failure(http.StatusConflict, "Duplicate entry for this time and sensor_id")
	}

	s.logger.Logger.Error().Err(err).Str("operation", op.String()).Msg("Operation failed")
	return failure(http.StatusInternalServerError, err.Error())
}

func failure(status int, message string) sensor_models.Response {
	return sensor_models.Response{StatusCode: status, Data: sensor_models.ErrorBody{Error: message}}
}
