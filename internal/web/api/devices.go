package api

import (
	"context"
	"net/http"
	"strconv"

	"homerules/internal/device"
	"homerules/internal/models"
	webModels "homerules/internal/web/models"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Devices lists the known devices and their values
type Devices interface {
	Devices() []*device.Device
	State(id string) map[string]any
}

// History reads the audit trail of rule applications
type History interface {
	History(ctx context.Context, deviceID string, limit int) ([]models.DeviceStateHistory, error)
}

// RegisterDeviceRoutes adds the device listing, and the history route when history is set
func RegisterDeviceRoutes(r *gin.Engine, devices Devices, history History) {
	r.GET("/devices", func(c *gin.Context) {
		ds := devices.Devices()
		out := make([]webModels.DeviceResponse, 0, len(ds))
		for _, d := range ds {
			out = append(out, webModels.DeviceResponse{Device: d, State: devices.State(d.ID)})
		}
		c.JSON(http.StatusOK, out)
	})

	if history == nil {
		return
	}
	r.GET("/devices/:id/history", func(c *gin.Context) {
		limit := defaultHistoryLimit
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: "Invalid limit"})
				return
			}
			limit = min(n, maxHistoryLimit)
		}
		rows, err := history.History(c.Request.Context(), c.Param("id"), limit)
		if err != nil {
			c.Error(err)
			c.JSON(http.StatusInternalServerError, webModels.ErrorResponse{Error: "Failed to load history"})
			return
		}
		if rows == nil {
			rows = []models.DeviceStateHistory{}
		}
		c.JSON(http.StatusOK, rows)
	})
}
