package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"homerules/internal/condition"
	"homerules/internal/device"
	"homerules/internal/models"
	"homerules/internal/program"
	"homerules/internal/utils"
	webModels "homerules/internal/web/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commander struct {
	mu    sync.Mutex
	count int
}

func (c *commander) SendCommand(context.Context, string, map[string]any) error {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return nil
}

type history struct {
	rows  []models.DeviceStateHistory
	err   error
	limit int
}

func (h *history) History(_ context.Context, deviceID string, limit int) ([]models.DeviceStateHistory, error) {
	h.limit = limit
	if h.err != nil {
		return nil, h.err
	}
	var rslt []models.DeviceStateHistory
	for _, r := range h.rows {
		if r.DeviceID == deviceID {
			rslt = append(rslt, r)
		}
	}
	return rslt, nil
}

type server struct {
	t    *testing.T
	reg  *device.Registry
	prog *program.Program
	hist *history
	ws   *WebServer
}

func newServer(t *testing.T) *server {
	gin.SetMode(gin.TestMode)
	reg := device.NewRegistry()
	reg.AddDevice(&device.Device{
		ID:         "lamp",
		Name:       "Lamp",
		Enabled:    true,
		Parameters: []*device.Parameter{{Name: "level", Type: device.TypeInteger}},
	})
	reg.UpdateState("lamp", map[string]any{"level": 5})
	prog := program.New(program.Config{
		ID:        "test",
		Env:       &condition.Env{Devices: reg},
		Commander: &commander{},
	})
	t.Cleanup(prog.Close)
	hist := &history{}
	return &server{t: t, reg: reg, prog: prog, hist: hist, ws: NewWebServer(prog, reg, hist)}
}

func (s *server) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ws.Handler().ServeHTTP(w, req)
	return w
}

func lampRule(id string, prio float64) utils.Fields {
	return utils.Fields{
		"ID":         id,
		"NAME":       "Rule " + id,
		"PRIORITY":   prio,
		"CONDITIONS": []utils.Fields{{"TYPE": "Always"}},
		"ACTIONS":    []utils.Fields{{"DEVICE": "lamp", "VALUES": utils.Fields{"level": 10}}},
	}
}

func TestRuleLifecycle(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/rules", lampRule("R1", 1))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created webModels.RuleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "R1", created.Rule["ID"])

	w = s.do(http.MethodGet, "/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []utils.Fields
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = s.do(http.MethodGet, "/rules/R1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodGet, "/rules/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodDelete, "/rules/R1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodDelete, "/rules/R1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, s.prog.Rules())
}

func TestCreateRuleRejectsBadInput(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	s.ws.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bad := lampRule("R1", 1)
	bad["ACTIONS"] = []utils.Fields{{"DEVICE": "lamp"}}
	w = s.do(http.MethodPost, "/rules", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRuleWithErrorsNeedsForce(t *testing.T) {
	s := newServer(t)
	noActions := lampRule("R1", 1)
	delete(noActions, "ACTIONS")

	w := s.do(http.MethodPost, "/rules", noActions)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp webModels.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Issues)

	w = s.do(http.MethodPost, "/rules?force=true", noActions)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.prog.Rules())
}

func TestCreateDuplicateRule(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/rules", lampRule("R1", 1)).Code)
	w := s.do(http.MethodPost, "/rules?force=true", lampRule("R2", 1))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCheckRule(t *testing.T) {
	s := newServer(t)
	noActions := lampRule("R1", 1)
	delete(noActions, "ACTIONS")

	w := s.do(http.MethodPost, "/rules/check", noActions)
	require.Equal(t, http.StatusOK, w.Code)
	var resp webModels.CheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.HasErrors)
	assert.Empty(t, s.prog.Rules())

	w = s.do(http.MethodPost, "/rules/check", lampRule("R1", 1))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.HasErrors)
}

func TestSharedConditions(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPut, "/shared", utils.Fields{"TYPE": "Always", "NAME": "Home"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, s.prog.SharedCondition("Home"))

	w = s.do(http.MethodGet, "/shared", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []utils.Fields
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	w = s.do(http.MethodPut, "/shared", utils.Fields{"TYPE": "Nope", "NAME": "X"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/shared/Home", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/shared/Home", nil).Code)
}

func TestRunProgram(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/program/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp webModels.RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Fired)

	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/rules", lampRule("R1", 1)).Code)
	w = s.do(http.MethodPost, "/program/run", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Fired)
}

func TestListDevices(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "lamp", list[0]["id"])
	assert.Equal(t, "Lamp", list[0]["name"])
	assert.Equal(t, map[string]any{"level": float64(5)}, list[0]["state"])
}

func TestDeleteRuleDropsUnusedSharedConditions(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPut, "/shared", utils.Fields{"TYPE": "Range", "NAME": "Bright",
		"PARAMREF": utils.Fields{"DEVICE": "lamp", "PARAMETER": "level"}, "LOW": 50})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPut, "/shared", utils.Fields{"TYPE": "Always", "NAME": "Spare"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	bright := lampRule("R1", 1)
	bright["CONDITIONS"] = []utils.Fields{{"TYPE": "Reference", "SHAREDNAME": "Bright"}}
	w = s.do(http.MethodPost, "/rules?force=true", bright)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/rules?force=true", lampRule("R2", 2))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/rules/R2", nil).Code)
	assert.Nil(t, s.prog.SharedCondition("Spare"))
	assert.NotNil(t, s.prog.SharedCondition("Bright"), "still used through a reference")

	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/rules/R1", nil).Code)
	assert.Nil(t, s.prog.SharedCondition("Bright"))
	assert.NotNil(t, s.prog.SharedCondition(program.AlwaysName))
}

func TestDeviceHistory(t *testing.T) {
	s := newServer(t)
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	s.hist.rows = []models.DeviceStateHistory{
		{ID: 2, RuleID: "R1", DeviceID: "lamp", Timestamp: at, State: json.RawMessage(`{"level":80}`)},
		{ID: 1, RuleID: "R1", DeviceID: "fan", Timestamp: at, State: json.RawMessage(`{"speed":2}`)},
	}

	w := s.do(http.MethodGet, "/devices/lamp/history", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rows []models.DeviceStateHistory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "R1", rows[0].RuleID)
	assert.JSONEq(t, `{"level":80}`, string(rows[0].State))
	assert.Equal(t, 50, s.hist.limit)

	w = s.do(http.MethodGet, "/devices/door/history?limit=9999", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, 500, s.hist.limit)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/devices/lamp/history?limit=zero", nil).Code)

	s.hist.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, s.do(http.MethodGet, "/devices/lamp/history", nil).Code)
}
