package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"homerules/internal/bridge"
	"homerules/internal/config"
	"homerules/internal/db"
	"homerules/internal/engine"
	"homerules/internal/mqtt"
	"homerules/internal/redis"
	"homerules/internal/taskqueue"
	"homerules/internal/utils"
	"homerules/internal/web"

	"github.com/pion/mdns/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

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

	cache := redis.NewStateCache(redis.NewRedisClient(cfg.RedisAddr), utils.StateTTL)
	defer cache.Close()

	mqttClient, err := mqtt.NewClient(cfg.MQTTBroker, cfg.MQTTClientID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MQTT")
	}
	transport := mqtt.NewTransport(mqttClient)
	defer transport.Close()

	queue := taskqueue.NewQueue(cfg.RedisAddr)
	defer queue.Close()
	workers := taskqueue.NewWorkers(cfg.RedisAddr, 2, dbConn)
	if err := workers.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start task workers")
	}
	defer workers.Stop()

	eng := engine.NewEngine(engine.Options{
		ProgramID: cfg.ProgramID,
		Debounce:  cfg.Debounce(),
		Workers:   cfg.Workers,
		Devices:   dbConn,
		Objects:   dbConn,
		Cache:     cache,
		States:    transport,
		Commander: transport,
		Calendar:  dbConn.Calendar(),
		Audit:     queue,
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

	if conn := startMDNSServer(cfg.MDNSName); conn != nil {
		defer conn.Close()
	}

	if cfg.RemoteWS != "" {
		agent := bridge.NewAgent(bridge.Config{
			PublicWS:   cfg.RemoteWS,
			LocalURL:   localURL(cfg.HTTPAddr),
			ServerID:   cfg.AgentID,
			RetryDelay: cfg.RemoteRetry(),
		})
		go agent.Start(ctx)
	} else {
		log.Info().Msg("Remote access bridge is disabled")
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API shutdown")
	}
	log.Info().Msg("Shutdown complete")
}

func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func startMDNSServer(localName string) *mdns.Conn {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to resolve UDP4 address for mDNS")
		return nil
	}

	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to resolve UDP6 address for mDNS")
		return nil
	}

	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to listen on UDP4 for mDNS")
		return nil
	}

	l6, err := net.ListenUDP("udp6", addr6)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to listen on UDP6 for mDNS")
		l4.Close()
		return nil
	}

	conn, err := mdns.Server(ipv4.NewPacketConn(l4), ipv6.NewPacketConn(l6), &mdns.Config{
		LocalNames: []string{localName},
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to start mDNS server")
		return nil
	}
	log.Info().Str("name", localName).Msg("mDNS responder started")
	return conn
}
