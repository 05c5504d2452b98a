package check

import (
	"context"
	"errors"
	"fmt"

	"github.com/optimode/emailverify/internal/parse"
	"github.com/optimode/emailverify/internal/smtpprobe"
	"github.com/optimode/emailverify/types"
)

// Mailbox stage details.
const (
	DetailMailboxExists     = "Mailbox exists"
	DetailMailboxMissing    = "Mailbox does not exist"
	DetailConnectionFailed  = "Connection failed"
	DetailServerRejected    = "Server rejected connection"
	DetailHandshakeRejected = "Handshake rejected"
	DetailSenderRejected    = "Sender rejected"
	DetailTimedOut          = "Verification timed out"
	DetailCanceled          = "Verification canceled"
	DetailMalformedCommand  = "Refused to send a malformed command"
)

// Prober runs a single SMTP probe session. *smtpprobe.Prober implements it.
type Prober interface {
	Probe(ctx context.Context, mxHost, rcpt string) smtpprobe.Result
}

// SMTPConfig is the SMTP checker configuration.
type SMTPConfig struct {
	// Strict turns ambiguous (4xx) RCPT replies into failures.
	// When false they count as a pass.
	Strict bool
	// MaxMXHosts is how many exchangers to try, in preference order,
	// when the previous one could not be reached. Default: 1
	MaxMXHosts int
}

// SMTPChecker performs the SMTP RCPT TO probe and turns its raw result
// into a stage outcome.
type SMTPChecker struct {
	cfg    SMTPConfig
	prober Prober
}

// NewSMTPChecker creates an SMTP checker around the given prober.
func NewSMTPChecker(cfg SMTPConfig, p Prober) *SMTPChecker {
	if cfg.MaxMXHosts <= 0 {
		cfg.MaxMXHosts = 1
	}
	return &SMTPChecker{cfg: cfg, prober: p}
}

// Check probes the exchangers resolved by the DNS stage, most preferred first.
func (c *SMTPChecker) Check(ctx context.Context, email parse.Email, mxHosts []string) types.CheckResult {
	level := types.LevelSMTP

	if !email.Valid || len(mxHosts) == 0 {
		return types.NotChecked(level)
	}

	rcpt := email.Local + "@" + email.Domain

	maxHosts := c.cfg.MaxMXHosts
	if maxHosts > len(mxHosts) {
		maxHosts = len(mxHosts)
	}

	var res smtpprobe.Result
	var host string
	for i := 0; i < maxHosts; i++ {
		host = mxHosts[i]
		res = c.prober.Probe(ctx, host, rcpt)
		if !unreachable(res) {
			break
		}
	}

	return c.outcome(host, res)
}

// unreachable reports a probe that never got a connection, so the next
// exchanger may be tried. Nothing was asked of the server yet.
func unreachable(res smtpprobe.Result) bool {
	return res.Outcome == smtpprobe.OutcomeFailed &&
		res.Step == smtpprobe.StepConnect &&
		!res.TimedOut && !res.Canceled
}

func (c *SMTPChecker) outcome(host string, res smtpprobe.Result) types.CheckResult {
	out := types.CheckResult{Level: types.LevelSMTP, MXHost: host, SMTPCode: res.Code}

	switch res.Outcome {
	case smtpprobe.OutcomeAccepted:
		out.Passed = true
		out.Details = DetailMailboxExists
	case smtpprobe.OutcomeRejected:
		out.Details = DetailMailboxMissing
	case smtpprobe.OutcomeAmbiguous:
		if c.cfg.Strict {
			out.Details = fmt.Sprintf("Mailbox could not be verified: temporary rejection (%d)", res.Code)
		} else {
			out.Passed = true
			out.Details = fmt.Sprintf("Mailbox accepted tentatively: temporary rejection (%d)", res.Code)
		}
	default:
		out.Details = failureDetail(res)
	}
	return out
}

func failureDetail(res smtpprobe.Result) string {
	switch {
	case res.TimedOut:
		return DetailTimedOut
	case res.Canceled:
		return DetailCanceled
	case res.Step == smtpprobe.StepConnect:
		return DetailConnectionFailed
	case res.Step == smtpprobe.StepGreeting:
		return DetailServerRejected
	case errors.Is(res.Err, smtpprobe.ErrLineBreak):
		return DetailMalformedCommand
	case res.Err != nil:
		// The server dropped the connection mid-session.
		return DetailConnectionFailed
	case res.Step == smtpprobe.StepHello:
		return DetailHandshakeRejected
	case res.Step == smtpprobe.StepMailFrom:
		return DetailSenderRejected
	}
	return DetailConnectionFailed
}
