package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heatctl/heatctl/internal/api"
	"github.com/heatctl/heatctl/internal/config"
	"github.com/heatctl/heatctl/internal/control"
	"github.com/heatctl/heatctl/internal/history"
	"github.com/heatctl/heatctl/internal/learning"
	"github.com/heatctl/heatctl/internal/logging"
	"github.com/heatctl/heatctl/internal/metrics"
	"github.com/heatctl/heatctl/internal/mqtt"
	"github.com/heatctl/heatctl/internal/override"
	"github.com/heatctl/heatctl/internal/safety"
	"github.com/heatctl/heatctl/internal/store"
	"github.com/heatctl/heatctl/internal/vacation"
	"github.com/heatctl/heatctl/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init(0, true)
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.LogLevel, false)

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("data_dir", cfg.DataDir).
		Msg("Starting heating controller")

	metrics.Init(cfg)

	st, err := store.New(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open state store")
	}

	hist, err := history.Open(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer hist.Close()

	var client mqtt.Client
	if cfg.Simulate {
		client = mqtt.NewFakeClient()
		log.Info().Msg("Running with a simulated device transport")
	} else {
		real, err := mqtt.NewRealClient(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MQTT broker")
		}
		client = real
	}
	defer client.Close()

	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	learner := learning.New(
		cfg.LearningMinSamples,
		cfg.LearningMaxSamples,
		time.Duration(cfg.LearningMaxAgeDays)*24*time.Hour,
	)
	safetyMon := safety.NewMonitor(cfg.SafetySensors)
	vacMgr := vacation.NewManager()
	det := override.NewDetector(
		time.Duration(cfg.DebounceSeconds)*time.Second,
		time.Duration(cfg.AttributionSeconds)*time.Second,
	)

	engine := control.NewEngine(cfg, st, hist, client, hub, learner, safetyMon, vacMgr, det)
	engine.Start()

	server := api.NewServer(engine, hub, cfg)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Info().Str("signal", received.String()).Msg("Shutting down")
	engine.Stop()
	cancel()
}
