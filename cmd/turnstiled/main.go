package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/canmetro/turnstiled/internal/auth"
	"github.com/canmetro/turnstiled/internal/config"
	"github.com/canmetro/turnstiled/internal/db"
	"github.com/canmetro/turnstiled/internal/httpapi"
	"github.com/canmetro/turnstiled/internal/turnstile/actuator"
	"github.com/canmetro/turnstiled/internal/turnstile/controller"
	"github.com/canmetro/turnstiled/internal/turnstile/gateway"
	"github.com/canmetro/turnstiled/internal/turnstile/sensor"
	"github.com/canmetro/turnstiled/internal/turnstile/telemetry"
	"github.com/canmetro/turnstiled/internal/turnstile/telemetry/memory"
	"github.com/canmetro/turnstiled/internal/turnstile/telemetry/sqlite"
)

// Gate leaf angles in degrees. Leaf 2 mirrors leaf 1 inside the driver.
const (
	closedAngle = 0
	openAngle   = 90
)

func main() {
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "turnstiled ", log.LstdFlags|log.LUTC)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Telemetry: sqlite-backed when enabled, in-memory otherwise.
	var (
		sink    telemetry.Sink
		history telemetry.Reader
		store   *sqlite.Store
		worker  *db.Worker
	)
	if cfg.TelemetryEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			logger.Fatalf("create data dir: %v", err)
		}
		sqlDB, err := db.Open(ctx, cfg.DBPath)
		if err != nil {
			logger.Fatalf("open database: %v", err)
		}
		defer sqlDB.Close()

		worker = db.NewWorker(sqlDB)
		store = sqlite.NewStore(sqlDB, worker, logger)
		sink, history = store, store
		logger.Printf("telemetry database at %s", cfg.DBPath)
	} else {
		mem := memory.New()
		sink, history = mem, mem
		logger.Printf("telemetry database disabled, events kept in memory")
	}

	// Actuator: simulated or real GPIO.
	var driver actuator.Driver
	if cfg.Simulate {
		driver = actuator.NewSim(cfg.DoorTravel, cfg.DoorSettle, logger)
		logger.Printf("running in simulation mode, no hardware attached")
	} else {
		g, err := actuator.NewGPIO(actuator.GPIOConfig{
			Servo1Pin:   cfg.Servo1Pin,
			Servo2Pin:   cfg.Servo2Pin,
			LEDRedPin:   cfg.LEDRedPin,
			LEDGreenPin: cfg.LEDGreenPin,
			LCDAddr:     cfg.LCDAddr,
			LCDCols:     cfg.LCDCols,
			OpenAngle:   openAngle,
			ClosedAngle: closedAngle,
			Travel:      cfg.DoorTravel,
			Settle:      cfg.DoorSettle,
		}, logger)
		if err != nil {
			logger.Fatalf("gpio init: %v", err)
		}
		driver = g
	}

	ctl := controller.New(controller.Config{
		DoorID:          cfg.DoorID,
		CrossingTimeout: cfg.CrossingTimeout,
	}, controller.NewStateStore(), driver, sink, logger)
	go ctl.Run(ctx)

	// Sensor polling only makes sense with real inputs.
	var monitor *sensor.Monitor
	if !cfg.Simulate {
		input, err := sensor.NewGPIOInput(sensor.GPIOConfig{
			ButtonPin:  cfg.ButtonPin,
			SensorAPin: cfg.SensorAPin,
			SensorBPin: cfg.SensorBPin,
		})
		if err != nil {
			logger.Fatalf("sensor init: %v", err)
		}
		monitor = sensor.NewMonitor(sensor.Config{
			PollInterval: cfg.PollInterval,
			SensorDwell:  cfg.SensorDwell,
			ButtonQuiet:  cfg.ButtonQuiet,
		}, input, ctl, logger)
		go monitor.Run(ctx)
	}

	access := gateway.NewAccessService(gateway.Policy{
		AllowAll: cfg.AllowAllCards,
		Cards:    cfg.AllowedCards,
	}, ctl, sink, logger)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:     logger,
		Addr:       cfg.HTTPAddr,
		Controller: ctl,
		Access:     access,
		Users:      auth.NewStore(cfg.Users),
		Sessions:   auth.NewSessionManager(cfg.SessionTTL),
		Sink:       sink,
		History:    history,
	})

	go func() {
		logger.Printf("listening on %s (door=%s)", cfg.HTTPAddr, cfg.DoorID)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// The controller finishes the sequence in progress before exiting,
	// so wait for it before powering the hardware down.
	<-ctl.Done()
	if monitor != nil {
		<-monitor.Done()
	}
	driver.Shutdown()

	if store != nil {
		_ = store.Flush(shutdownCtx)
		worker.Close()
	}
	logger.Printf("shutdown complete")
}
