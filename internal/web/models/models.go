package models

import (
	"homerules/internal/checker"
	"homerules/internal/device"
	"homerules/internal/utils"
)

// RuleResponse is a stored rule together with the checker's findings
type RuleResponse struct {
	Rule   utils.Fields    `json:"rule"`
	Issues []checker.Issue `json:"issues"`
}

// CheckResponse lists the findings for a rule that was not stored
type CheckResponse struct {
	Issues    []checker.Issue `json:"issues"`
	HasErrors bool            `json:"has_errors"`
}

// RunResponse reports whether a forced pass fired any rule
type RunResponse struct {
	Fired bool `json:"fired"`
}

// DeviceResponse is a device definition with its last reported values
type DeviceResponse struct {
	*device.Device
	State map[string]any `json:"state"`
}

// ErrorResponse carries a failure message
type ErrorResponse struct {
	Error  string          `json:"error"`
	Issues []checker.Issue `json:"issues,omitempty"`
}
