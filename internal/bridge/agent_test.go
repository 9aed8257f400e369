package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localAPI(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rules":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(body)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDoLocalRequest(t *testing.T) {
	local := localAPI(t)
	a := NewAgent(Config{LocalURL: local.URL, ServerID: "home"})

	body, status := a.doLocalRequest(context.Background(), requestMsg{
		Method: http.MethodPost,
		Path:   "/rules",
		Body:   map[string]any{"NAME": "x"},
	})
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, map[string]any{"NAME": "x"}, body)

	body, status = a.doLocalRequest(context.Background(), requestMsg{Method: http.MethodGet, Path: "/nope"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, map[string]any{"error": "not found"}, body)
}

func TestDoLocalRequestUnreachable(t *testing.T) {
	a := NewAgent(Config{LocalURL: "http://127.0.0.1:1"})
	body, status := a.doLocalRequest(context.Background(), requestMsg{Method: http.MethodGet, Path: "/rules"})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "local request failed", body)
}

func TestAgentRelaysRequests(t *testing.T) {
	local := localAPI(t)

	registered := make(chan map[string]any, 1)
	responses := make(chan responseMsg, 1)
	upgrader := websocket.Upgrader{}
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		var reg map[string]any
		if ws.ReadJSON(&reg) != nil {
			return
		}
		registered <- reg
		_ = ws.WriteJSON(map[string]any{"type": "ping"})
		_ = ws.WriteJSON(requestMsg{Type: "request", ReqID: "42", Method: http.MethodPost, Path: "/rules", Body: map[string]any{"NAME": "y"}})
		var resp responseMsg
		if ws.ReadJSON(&resp) != nil {
			return
		}
		responses <- resp
		_, _, _ = ws.ReadMessage()
	}))
	t.Cleanup(relay.Close)

	ctx, cancel := context.WithCancel(context.Background())
	a := NewAgent(Config{
		PublicWS:   "ws" + strings.TrimPrefix(relay.URL, "http"),
		LocalURL:   local.URL,
		ServerID:   "home",
		RetryDelay: 10 * time.Millisecond,
	})
	done := make(chan struct{})
	go func() {
		a.Start(ctx)
		close(done)
	}()

	select {
	case reg := <-registered:
		assert.Equal(t, "register", reg["type"])
		assert.Equal(t, "home", reg["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("agent never registered")
	}

	select {
	case resp := <-responses:
		assert.Equal(t, "response", resp.Type)
		assert.Equal(t, "42", resp.ReqID)
		assert.Equal(t, http.StatusCreated, resp.Status)
		raw, err := json.Marshal(resp.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"NAME":"y"}`, string(raw))
	case <-time.After(2 * time.Second):
		t.Fatal("no response relayed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}
}
