package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"homerules/internal/config"
	"homerules/internal/db"
	"homerules/internal/engine"
	"homerules/internal/mqtt"
	"homerules/internal/utils"
	"homerules/internal/web"

	"github.com/rs/zerolog/log"
)

// Minimal engine: Postgres for devices and rules, MQTT for devices, the HTTP API.
// cmd/engine adds the Redis state cache, the audit queue, mDNS and the remote bridge.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	utils.InitLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.NewDB(ctx, cfg.DBURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to DB")
	}
	defer dbConn.Close()
	if err := dbConn.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare schema")
	}

	mqttClient, err := mqtt.NewClient(cfg.MQTTBroker, cfg.MQTTClientID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MQTT")
	}
	transport := mqtt.NewTransport(mqttClient)
	defer transport.Close()

	eng := engine.NewEngine(engine.Options{
		ProgramID: cfg.ProgramID,
		Debounce:  cfg.Debounce(),
		Workers:   cfg.Workers,
		Devices:   dbConn,
		Objects:   dbConn,
		States:    transport,
		Commander: transport,
		Calendar:  dbConn.Calendar(),
	})
	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}
	defer eng.Stop()

	webServer := web.NewWebServer(eng.Program(), eng.Registry(), dbConn)
	go func() {
		if err := webServer.Start(cfg.HTTPAddr); err != nil {
			log.Error().Err(err).Msg("API server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = webServer.Shutdown(shutdownCtx)
	log.Info().Msg("Shutdown complete")
}
