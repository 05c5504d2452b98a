package emailverify

import (
	"github.com/optimode/emailverify/check"
	"github.com/optimode/emailverify/types"
)

// Verdict reasons.
const (
	ReasonInvalidFormat = "Invalid email format"
	ReasonNoMailServers = "Domain does not have valid mail servers"
	ReasonValid         = "Email is valid and exists"
	ReasonFault         = "Verification failed due to an error"
)

// Aggregate composes the stage outcomes into a verdict. The first failing
// stage decides the reason; a failing mailbox stage contributes its own
// detail, except when the override fired, which reads as a missing mailbox.
func Aggregate(email string, syntax, domain, mailbox CheckResult) Result {
	syntax.Level = types.LevelSyntax
	domain.Level = types.LevelDNS
	mailbox.Level = types.LevelSMTP

	r := Result{
		Email: email,
		Steps: Steps{Syntax: syntax, MXRecord: domain, SMTP: mailbox},
	}

	switch {
	case !syntax.Passed:
		r.Reason = ReasonInvalidFormat
	case !domain.Passed:
		r.Reason = ReasonNoMailServers
	case !mailbox.Passed:
		r.Reason = mailboxReason(mailbox)
	default:
		r.Valid = true
		r.Reason = ReasonValid
	}
	return r
}

func mailboxReason(mailbox CheckResult) string {
	if mailbox.Overridden {
		return check.DetailMailboxMissing
	}
	if mailbox.Details == "" {
		return check.DetailOverridden
	}
	return mailbox.Details
}

// ErrorResult is the verdict for a verification that hit an unexpected
// fault after the address was accepted by the syntax stage.
func ErrorResult(email string) Result {
	failed := func(level CheckLevel) CheckResult {
		return CheckResult{Level: level, Details: types.DetailErrorDuringRun}
	}
	return Result{
		Email:  email,
		Reason: ReasonFault,
		Steps: Steps{
			Syntax:   CheckResult{Level: types.LevelSyntax, Passed: true, Details: types.DetailValidFormat},
			MXRecord: failed(types.LevelDNS),
			SMTP:     failed(types.LevelSMTP),
		},
	}
}
