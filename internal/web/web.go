package web

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"homerules/internal/utils"
	"homerules/internal/web/api"
	"homerules/internal/web/middleware"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type WebServer struct {
	router *gin.Engine
	mu     sync.Mutex
	srv    *http.Server
	logger zerolog.Logger
}

// NewWebServer builds the router; history may be nil when no audit store is configured
func NewWebServer(prog api.Program, devices api.Devices, history api.History) *WebServer {
	router := gin.New()

	middlewareManager := middleware.NewMiddlewareManager()
	router.Use(middlewareManager.Recover(), middlewareManager.RequestLogger())

	api.RegisterRuleRoutes(router, prog)
	api.RegisterSharedRoutes(router, prog)
	api.RegisterProgramRoutes(router, prog)
	api.RegisterDeviceRoutes(router, devices, history)

	return &WebServer{router: router, logger: utils.Component("WEB")}
}

// Handler exposes the router for in-process callers
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves until Shutdown is called
func (ws *WebServer) Start(addr string) error {
	srv := &http.Server{Addr: addr, Handler: ws.router, ReadHeaderTimeout: 10 * time.Second}
	ws.mu.Lock()
	ws.srv = srv
	ws.mu.Unlock()
	ws.logger.Info().Str("addr", addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.mu.Lock()
	srv := ws.srv
	ws.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
