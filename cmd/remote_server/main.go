package main

import (
	"os"
	"time"

	"homerules/internal/bridge"
	"homerules/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Public relay for engines behind NAT. Engines connect to /agent with REMOTE_WS;
// clients call any other path with the X-Server-ID header naming the engine.
func main() {
	utils.InitLogging(os.Getenv("LOG_LEVEL"))

	addr := os.Getenv("RELAY_ADDR")
	if addr == "" {
		addr = ":5069"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	bridge.NewRelay(10 * time.Second).Register(r)

	log.Info().Str("addr", addr).Msg("Public relay running")
	if err := r.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("relay stopped")
	}
}
