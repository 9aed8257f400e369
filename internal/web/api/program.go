package api

import (
	"net/http"

	"homerules/internal/trigger"
	"homerules/internal/utils"
	webModels "homerules/internal/web/models"

	"github.com/gin-gonic/gin"
)

func RegisterSharedRoutes(r *gin.Engine, prog Program) {
	shared := r.Group("/shared")
	{
		shared.GET("", func(c *gin.Context) {
			cs := prog.SharedConditions()
			out := make([]utils.Fields, 0, len(cs))
			for _, cond := range cs {
				out = append(out, cond.Encode())
			}
			c.JSON(http.StatusOK, out)
		})

		shared.PUT("", func(c *gin.Context) {
			var m utils.Fields
			if err := c.ShouldBindJSON(&m); err != nil {
				c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: "Invalid request"})
				return
			}
			cond, err := prog.CreateCondition(m)
			if err != nil {
				c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: err.Error()})
				return
			}
			if err := prog.AddSharedCondition(cond); err != nil {
				c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: err.Error()})
				return
			}
			c.JSON(http.StatusOK, cond.Encode())
		})

		shared.DELETE("/:name", func(c *gin.Context) {
			if !prog.RemoveSharedCondition(c.Param("name")) {
				c.JSON(http.StatusNotFound, webModels.ErrorResponse{Error: "Shared condition not found"})
				return
			}
			prog.CleanSharedConditions()
			c.JSON(http.StatusOK, gin.H{"status": "Shared condition deleted successfully"})
		})
	}
}

func RegisterProgramRoutes(r *gin.Engine, prog Program) {
	r.POST("/program/run", func(c *gin.Context) {
		fired := prog.RunOnce(trigger.NewContext(), nil)
		c.JSON(http.StatusOK, webModels.RunResponse{Fired: fired})
	})
}
