package tools

import (
	"encoding/json"
	"errors"
)

// Result is the structured output of every tool call. The model always gets
// one, whatever happened.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`

	// Approval refusal fields.
	ApprovalRequired bool     `json:"approvalRequired,omitempty"`
	Action           string   `json:"action,omitempty"`
	Description      string   `json:"description,omitempty"`
	Details          []string `json:"details,omitempty"`

	UpgradeRequired bool `json:"upgradeRequired,omitempty"`
	// Replayed marks a result returned from the replay guard.
	Replayed bool `json:"replayed,omitempty"`

	// partial marks a success where some items failed. Such results are
	// never replayed, so a retry reaches the failed items.
	partial bool
}

// ErrApprovalRequired is the error text of an approval refusal.
const ErrApprovalRequired = "approval required"

func success(data any) Result {
	return Result{Success: true, Data: data}
}

// failure reports err. Counts attached with withReport become Data.
func failure(err error) Result {
	res := Result{Error: err.Error()}
	var re *reportError
	if errors.As(err, &re) {
		res.Data = re.report
	}
	return res
}

// incomplete is implemented by reports that can describe a partial run.
type incomplete interface {
	Incomplete() bool
}

// reportError is a failed bulk operation that still has counts to show.
type reportError struct {
	err    error
	report any
}

func (e *reportError) Error() string { return e.err.Error() }
func (e *reportError) Unwrap() error { return e.err }

func withReport(report any, err error) error {
	return &reportError{err: err, report: report}
}

func approvalRequired(action, description string, details []string) Result {
	return Result{
		Error:            ErrApprovalRequired,
		ApprovalRequired: true,
		Action:           action,
		Description:      description,
		Details:          details,
	}
}

func upgradeRequired(tool string, e Entitlement) Result {
	return Result{
		Error:           "upgrade required: " + tool + " needs the " + string(e) + " entitlement",
		UpgradeRequired: true,
		Action:          tool,
	}
}

// JSON renders the result for a transcript or an MCP text content block.
func (r Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"unencodable result"}`
	}
	return string(b)
}
