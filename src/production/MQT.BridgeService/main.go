package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	mqtbridge "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Bridge"
	"gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.BridgeService/status"
	container "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Container"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewContainer("bridge")
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting MQTT Bridge Service")

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// the bridge still subscribes so requests get a 500 envelope while the store is down
	if err := ctr.InitializeDatabase(initCtx); err != nil {
		logger.Logger.Warn().Err(err).Msg("Failed to initialize database")
	}

	service, err := ctr.GetService()
	if err != nil {
		logger.FatalWithError(err, "Failed to create sensor service")
	}

	archiver, err := ctr.GetArchiver()
	if err != nil {
		logger.FatalWithError(err, "Failed to open request archive")
	}

	config := ctr.GetConfig()
	m := ctr.GetMetrics()

	bridge := mqtbridge.New(config.MQTT, service, logger,
		mqtbridge.WithRecorder(m),
		mqtbridge.WithArchiver(archiver),
	)
	if err := bridge.Start(context.Background()); err != nil {
		logger.FatalWithError(err, "Failed to start MQTT bridge")
	}

	// Start status server
	if config.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	port := config.StatusServer.Port
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      status.NewRouter(bridge, config.MQTT, m.Handler(), m, logger.WithComponent("status")),
		ReadTimeout:  config.StatusServer.ReadTimeout,
		WriteTimeout: config.StatusServer.WriteTimeout,
		IdleTimeout:  config.StatusServer.IdleTimeout,
	}
	go func() {
		logger.Info("Status server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start status server")
		}
	}()

	logger.Info("MQTT bridge running... press Ctrl+C to stop")

	// Run until SIGINT/SIGTERM, then drain the broker session
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bridge.Run(ctx); err != nil {
		logger.ErrorWithError(err, "MQTT bridge stopped with error")
	}

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Status server forced to shutdown")
	}
}
