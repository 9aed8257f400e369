package middleware

import (
	"time"

	"homerules/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// MiddlewareManager builds the handlers shared by every route
type MiddlewareManager struct {
	logger zerolog.Logger
}

func NewMiddlewareManager() *MiddlewareManager {
	return &MiddlewareManager{logger: utils.Component("WEB")}
}

// RequestLogger logs one line per request
func (m *MiddlewareManager) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		ev := m.logger.Debug()
		if status >= 500 {
			ev = m.logger.Error()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// Recover turns a panicking handler into a 500 response
func (m *MiddlewareManager) Recover() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		m.logger.Error().Interface("panic", err).Str("path", c.Request.URL.Path).Msg("handler panicked")
		c.AbortWithStatusJSON(500, gin.H{"error": "internal error"})
	})
}
