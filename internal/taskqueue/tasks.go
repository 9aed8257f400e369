package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"homerules/internal/utils"

	"github.com/hibiken/asynq"
)

// TypeRuleApplied is the task recording that a rule fired
const TypeRuleApplied = "rule:applied"

// RuleAppliedPayload describes one rule application
type RuleAppliedPayload struct {
	ProgramID string         `json:"program_id"`
	RuleID    string         `json:"rule_id"`
	RuleName  string         `json:"rule_name"`
	DeviceID  string         `json:"device_id"`
	Props     map[string]any `json:"props,omitempty"`
	AppliedAt time.Time      `json:"applied_at"`
}

// NewRuleAppliedTask encodes a payload as an asynq task
func NewRuleAppliedTask(p RuleAppliedPayload) (*asynq.Task, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", TypeRuleApplied, err)
	}
	return asynq.NewTask(TypeRuleApplied, raw, asynq.MaxRetry(3), asynq.Timeout(10*time.Second)), nil
}

// Recorder persists rule applications
type Recorder interface {
	LogAction(ctx context.Context, ruleID, deviceID string, state json.RawMessage) error
}

// HandleRuleApplied returns the handler writing rule applications to rec
func HandleRuleApplied(rec Recorder) asynq.HandlerFunc {
	logger := utils.Component("TASKQUEUE")
	return func(ctx context.Context, t *asynq.Task) error {
		var p RuleAppliedPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			logger.Error().Err(err).Msg("failed to unmarshal task payload")
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		state, err := json.Marshal(p.Props)
		if err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		if err := rec.LogAction(ctx, p.RuleID, p.DeviceID, state); err != nil {
			logger.Error().Err(err).Str("rule", p.RuleID).Msg("failed to record rule application")
			return err
		}
		logger.Debug().Str("rule", p.RuleID).Str("device", p.DeviceID).Msg("rule application recorded")
		return nil
	}
}
