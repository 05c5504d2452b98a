// Package types contains the shared types for emailverify.
// This package does not import anything from other emailverify packages
// to avoid circular imports.
package types

// CheckLevel identifies the verification stage.
type CheckLevel = string

const (
	LevelSyntax CheckLevel = "syntax"
	LevelDNS    CheckLevel = "mxRecord"
	LevelSMTP   CheckLevel = "smtp"
)

// Messages shared between stages and the aggregator.
const (
	DetailNotChecked     = "Not checked"
	DetailValidFormat    = "Valid format"
	DetailErrorDuringRun = "Error during check"
)

// CheckResult is the outcome of a single verification stage.
// It is a value type: once a stage returns it, nothing mutates it.
type CheckResult struct {
	Level      CheckLevel `json:"-"`
	Passed     bool       `json:"valid"`
	Details    string     `json:"message"`
	MXHost     string     `json:"mxHost,omitempty"`
	SMTPCode   int        `json:"smtpCode,omitempty"`
	Suggestion string     `json:"suggestion,omitempty"`
	// Overridden marks a mailbox outcome forced negative by the
	// unreliable-provider heuristic.
	Overridden bool `json:"overridden,omitempty"`
	// MXHosts lists the exchanges in preference order. Only the DNS
	// stage sets it; the SMTP stage consumes it.
	MXHosts []string `json:"-"`
}

// NotChecked returns the outcome recorded for a stage that never ran
// because an earlier stage short-circuited the pipeline.
func NotChecked(level CheckLevel) CheckResult {
	return CheckResult{Level: level, Passed: false, Details: DetailNotChecked}
}
