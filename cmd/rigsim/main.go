package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/spf13/pflag"

	"github.com/iwtcode/rigAdapter/internal/config"
	"github.com/iwtcode/rigAdapter/internal/middleware/logging"
	"github.com/iwtcode/rigAdapter/internal/simulator"
	"github.com/iwtcode/rigAdapter/models"
)

func main() {
	fs := pflag.NewFlagSet("rigsim", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadConfiguration(fs)
	if err != nil {
		logging.NewLogger(nil).WithError(err).Fatal("Failed to load configuration")
	}
	logger, closeLog := logging.Open(&logging.Config{
		Level:      cfg.Logging.Level,
		LogsDir:    cfg.Logging.LogsDir,
		SavingDays: cfg.Logging.SavingDays,
	})
	defer closeLog()

	sim := simulator.New(
		simulator.WithLogger(logger),
		simulator.WithMounts(models.Mount{Device: "/dev/sda1", Mountpoint: "/media/usb", FsType: "vfat", Opts: "rw,nosuid,nodev"}),
	)
	sim.SetCards("/media/usb", models.SensorCard{
		CardID:          "1000",
		NumImages:       3,
		AcquisitionTime: models.NewTimestamp(time.Now().UTC().Add(-time.Hour).Truncate(time.Second)),
		SubdirPath:      "5f0c2a9e",
		ImageFormat:     "tiff",
	})

	access := logger.Writer()
	defer access.Close()
	handler := handlers.RecoveryHandler(
		handlers.RecoveryLogger(logger),
		handlers.PrintRecoveryStack(true),
	)(handlers.LoggingHandler(access, sim.Handler()))

	server := &http.Server{
		Addr:              cfg.Simulator.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("address", server.Addr).Info("Middleware simulator is starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start simulator")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("Stopping simulator...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Simulator shutdown failed")
	}
}
