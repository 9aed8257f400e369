// Package bridge tunnels API calls from a public relay to the local engine.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"homerules/internal/utils"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type Config struct {
	PublicWS   string // ws://host:port/agent
	LocalURL   string // http://localhost:5069
	ServerID   string
	RetryDelay time.Duration
}

type requestMsg struct {
	Type   string `json:"type"`
	ReqID  string `json:"reqId"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Body   any    `json:"body"`
}

type responseMsg struct {
	Type   string `json:"type"`
	ReqID  string `json:"reqId"`
	Status int    `json:"status"`
	Body   any    `json:"body"`
}

// Agent keeps a connection to the relay open and answers its requests
type Agent struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

func NewAgent(cfg Config) *Agent {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Agent{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: utils.Component("BRIDGE").With().Str("agent", cfg.ServerID).Logger(),
	}
}

// Start reconnects until ctx is cancelled
func (a *Agent) Start(ctx context.Context) {
	for {
		if err := a.run(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("agent disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.RetryDelay):
		}
	}
}

func (a *Agent) run(ctx context.Context) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.PublicWS, nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	if err := ws.WriteJSON(map[string]any{"type": "register", "id": a.cfg.ServerID}); err != nil {
		return err
	}
	a.logger.Info().Str("relay", a.cfg.PublicWS).Msg("registered")

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var req requestMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			a.logger.Warn().Err(err).Msg("bad relay message")
			continue
		}
		if req.Type != "request" {
			continue
		}

		body, status := a.doLocalRequest(ctx, req)
		if err := ws.WriteJSON(responseMsg{Type: "response", ReqID: req.ReqID, Status: status, Body: body}); err != nil {
			return err
		}
	}
}

// doLocalRequest forwards one relayed request to the local API
func (a *Agent) doLocalRequest(ctx context.Context, req requestMsg) (any, int) {
	var reader io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return "bad request body", http.StatusBadRequest
		}
		reader = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, a.cfg.LocalURL+req.Path, reader)
	if err != nil {
		return "bad request", http.StatusBadRequest
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		a.logger.Error().Err(err).Str("path", req.Path).Msg("local request failed")
		return "local request failed", http.StatusInternalServerError
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "local request failed", http.StatusInternalServerError
	}
	var parsed any
	if len(raw) > 0 && json.Unmarshal(raw, &parsed) != nil {
		parsed = string(raw)
	}
	a.logger.Debug().Str("method", req.Method).Str("path", req.Path).Int("status", resp.StatusCode).Msg("relayed")
	return parsed, resp.StatusCode
}
