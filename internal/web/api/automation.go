package api

import (
	"errors"
	"net/http"
	"strconv"

	"homerules/internal/checker"
	"homerules/internal/condition"
	"homerules/internal/program"
	"homerules/internal/rule"
	"homerules/internal/trigger"
	"homerules/internal/utils"
	webModels "homerules/internal/web/models"

	"github.com/gin-gonic/gin"
)

// Program is the rule program the API manages
type Program interface {
	Rules() []*rule.Rule
	FindRule(id string) *rule.Rule
	CreateRule(m utils.Fields) (*rule.Rule, error)
	AddRule(r *rule.Rule) error
	RemoveRule(id string) error
	ErrorCheckRule(r *rule.Rule) []checker.Issue
	SharedConditions() []condition.Condition
	CreateCondition(m utils.Fields) (condition.Condition, error)
	AddSharedCondition(c condition.Condition) error
	RemoveSharedCondition(name string) bool
	CleanSharedConditions()
	RunOnce(tctx *trigger.Context, relevant map[string]bool) bool
}

func RegisterRuleRoutes(r *gin.Engine, prog Program) {
	rules := r.Group("/rules")
	{
		rules.GET("", func(c *gin.Context) {
			rs := prog.Rules()
			out := make([]utils.Fields, 0, len(rs))
			for _, rl := range rs {
				out = append(out, rl.Encode())
			}
			c.JSON(http.StatusOK, out)
		})

		rules.GET("/:id", func(c *gin.Context) {
			rl := prog.FindRule(c.Param("id"))
			if rl == nil {
				c.JSON(http.StatusNotFound, webModels.ErrorResponse{Error: "Rule not found"})
				return
			}
			c.JSON(http.StatusOK, rl.Encode())
		})

		rules.POST("", func(c *gin.Context) {
			rl, ok := bindRule(c, prog)
			if !ok {
				return
			}
			force, _ := strconv.ParseBool(c.Query("force"))
			issues := prog.ErrorCheckRule(rl)
			if checker.HasErrors(issues) && !force {
				c.JSON(http.StatusUnprocessableEntity, webModels.ErrorResponse{Error: "Rule has errors", Issues: issues})
				return
			}
			if err := prog.AddRule(rl); err != nil {
				status := http.StatusInternalServerError
				switch {
				case errors.Is(err, program.ErrDuplicateRule):
					status = http.StatusConflict
				case errors.Is(err, rule.ErrInvalidRule):
					status = http.StatusBadRequest
				}
				c.JSON(status, webModels.ErrorResponse{Error: err.Error()})
				return
			}
			c.JSON(http.StatusCreated, webModels.RuleResponse{Rule: rl.Encode(), Issues: issues})
		})

		rules.POST("/check", func(c *gin.Context) {
			rl, ok := bindRule(c, prog)
			if !ok {
				return
			}
			issues := prog.ErrorCheckRule(rl)
			c.JSON(http.StatusOK, webModels.CheckResponse{Issues: issues, HasErrors: checker.HasErrors(issues)})
		})

		rules.DELETE("/:id", func(c *gin.Context) {
			if err := prog.RemoveRule(c.Param("id")); err != nil {
				if errors.Is(err, program.ErrRuleNotFound) {
					c.JSON(http.StatusNotFound, webModels.ErrorResponse{Error: "Rule not found"})
					return
				}
				c.JSON(http.StatusInternalServerError, webModels.ErrorResponse{Error: err.Error()})
				return
			}
			prog.CleanSharedConditions()
			c.JSON(http.StatusOK, gin.H{"status": "Rule deleted successfully"})
		})
	}
}

func bindRule(c *gin.Context, prog Program) (*rule.Rule, bool) {
	var m utils.Fields
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: "Invalid request"})
		return nil, false
	}
	rl, err := prog.CreateRule(m)
	if err != nil {
		c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: err.Error()})
		return nil, false
	}
	return rl, true
}
