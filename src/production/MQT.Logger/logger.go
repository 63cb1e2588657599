package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	config "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Config"
)

// Logger wraps zerolog.Logger with the sensor service's field conventions.
// Call sites that need more than a message use the embedded zerolog API.
type Logger struct {
	*zerolog.Logger
}

// NewLogger builds the process logger from LOG_* settings and installs it
// as the global zerolog logger.
func NewLogger(cfg *config.LoggingConfig) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := destination(cfg.Output)
	if cfg.Format != "json" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
		return &Logger{&log.Logger}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return &Logger{&log.Logger}
}

func destination(output string) io.Writer {
	if output == "stderr" {
		return os.Stderr
	}
	return os.Stdout
}

// New writes JSON lines to w without touching the global logger
func New(w io.Writer) *Logger {
	l := zerolog.New(w).With().Timestamp().Logger()
	return &Logger{&l}
}

// Nop discards everything
func Nop() *Logger {
	l := zerolog.Nop()
	return &Logger{&l}
}

func (l *Logger) with(key, value string) *Logger {
	child := l.Logger.With().Str(key, value).Logger()
	return &Logger{&child}
}

// WithRequestID tags every line with the bridge or HTTP request id
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.with("request_id", requestID)
}

// WithService tags every line with the binary name (api, bridge)
func (l *Logger) WithService(service string) *Logger {
	return l.with("service", service)
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// FatalWithError logs at fatal level and exits the process
func (l *Logger) FatalWithError(err error, msg string) {
	l.Logger.Fatal().Err(err).Msg(msg)
}

func (l *Logger) ErrorWithError(err error, msg string) {
	l.Logger.Error().Err(err).Msg(msg)
}

func (l *Logger) Warn(msg string) {
	l.Logger.Warn().Msg(msg)
}

func (l *Logger) Info(msg string) {
	l.Logger.Info().Msg(msg)
}
