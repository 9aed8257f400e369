package bridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"homerules/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ServerIDHeader selects which agent a relayed request goes to
const ServerIDHeader = "X-Server-ID"

type relayAgent struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex
}

func (a *relayAgent) send(msg requestMsg) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ws.WriteJSON(msg)
}

// Relay is the public side of the tunnel: agents dial in, clients call through
type Relay struct {
	upgrader websocket.Upgrader
	timeout  time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	agents map[string]*relayAgent

	pendMu  sync.Mutex
	pending map[string]chan responseMsg
}

func NewRelay(timeout time.Duration) *Relay {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Relay{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		timeout:  timeout,
		logger:   utils.Component("RELAY"),
		agents:   make(map[string]*relayAgent),
		pending:  make(map[string]chan responseMsg),
	}
}

// Register installs the agent endpoint and forwards every other route
func (r *Relay) Register(router *gin.Engine) {
	router.GET("/agent", r.handleAgent)
	router.NoRoute(r.handleClient)
}

// Online reports whether an agent is connected
func (r *Relay) Online(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[id]
	return ok
}

func (r *Relay) handleAgent(c *gin.Context) {
	ws, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	var agent *relayAgent
	defer func() {
		if agent == nil {
			return
		}
		r.mu.Lock()
		if r.agents[agent.id] == agent {
			delete(r.agents, agent.id)
		}
		r.mu.Unlock()
		r.logger.Info().Str("agent", agent.id).Msg("agent disconnected")
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var data struct {
			Type   string `json:"type"`
			ID     string `json:"id"`
			ReqID  string `json:"reqId"`
			Status int    `json:"status"`
			Body   any    `json:"body"`
		}
		if err := json.Unmarshal(msg, &data); err != nil {
			r.logger.Warn().Err(err).Msg("bad agent message")
			continue
		}

		switch data.Type {
		case "register":
			if data.ID == "" {
				continue
			}
			agent = &relayAgent{id: data.ID, ws: ws}
			r.mu.Lock()
			r.agents[data.ID] = agent
			r.mu.Unlock()
			r.logger.Info().Str("agent", data.ID).Msg("agent registered")

		case "response":
			r.pendMu.Lock()
			ch, ok := r.pending[data.ReqID]
			delete(r.pending, data.ReqID)
			r.pendMu.Unlock()
			if ok {
				ch <- responseMsg{Type: data.Type, ReqID: data.ReqID, Status: data.Status, Body: data.Body}
			}
		}
	}
}

func (r *Relay) handleClient(c *gin.Context) {
	agentID := c.GetHeader(ServerIDHeader)
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing " + ServerIDHeader})
		return
	}

	r.mu.Lock()
	agent, ok := r.agents[agentID]
	r.mu.Unlock()
	if !ok {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Agent offline"})
		return
	}

	var body any
	_ = c.ShouldBindJSON(&body) // requests without a body are fine

	path := c.Request.URL.Path
	if q := c.Request.URL.RawQuery; q != "" {
		path += "?" + q
	}
	req := requestMsg{
		Type:   "request",
		ReqID:  uuid.NewString(),
		Method: c.Request.Method,
		Path:   path,
		Body:   body,
	}

	ch := make(chan responseMsg, 1)
	r.pendMu.Lock()
	r.pending[req.ReqID] = ch
	r.pendMu.Unlock()
	defer func() {
		r.pendMu.Lock()
		delete(r.pending, req.ReqID)
		r.pendMu.Unlock()
	}()

	if err := agent.send(req); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Agent unreachable"})
		return
	}

	select {
	case resp := <-ch:
		c.JSON(resp.Status, resp.Body)
	case <-time.After(r.timeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Timeout"})
	case <-c.Request.Context().Done():
	}
}
