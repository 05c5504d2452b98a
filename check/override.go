package check

import (
	"strings"

	"github.com/optimode/emailverify/internal/parse"
	"github.com/optimode/emailverify/types"
)

// DetailOverridden is the mailbox detail after the heuristic fired.
const DetailOverridden = "Mailbox verification failed"

// OverrideConfig lists the providers whose RCPT TO acceptance cannot be
// trusted and the local parts conventionally used as placeholders.
type OverrideConfig struct {
	UnreliableDomains []string
	PlaceholderLocals []string
}

// Override corrects positive probe verdicts for accept-all providers.
// Large webmail operators answer 250 to RCPT TO for any local part and
// bounce later, so "test@gmail.com" probes as existing. The sets are
// read-only after construction.
type Override struct {
	domains map[string]struct{}
	locals  map[string]struct{}
}

// NewOverride builds an Override. Entries are matched case-insensitively.
func NewOverride(cfg OverrideConfig) *Override {
	o := &Override{
		domains: make(map[string]struct{}, len(cfg.UnreliableDomains)),
		locals:  make(map[string]struct{}, len(cfg.PlaceholderLocals)),
	}
	for _, d := range cfg.UnreliableDomains {
		o.domains[normalize(d)] = struct{}{}
	}
	for _, l := range cfg.PlaceholderLocals {
		o.locals[normalize(l)] = struct{}{}
	}
	return o
}

// Adjust returns the mailbox outcome, forced negative when the domain is
// known-unreliable and the local part is a placeholder. A negative outcome
// is returned unchanged.
func (o *Override) Adjust(email parse.Email, mailbox types.CheckResult) types.CheckResult {
	if o == nil || !mailbox.Passed || !o.Matches(email) {
		return mailbox
	}
	mailbox.Passed = false
	mailbox.Details = DetailOverridden
	mailbox.Overridden = true
	return mailbox
}

// Matches reports whether the address falls under the heuristic.
func (o *Override) Matches(email parse.Email) bool {
	if !email.Valid {
		return false
	}
	if _, ok := o.domains[normalize(email.Domain)]; !ok {
		return false
	}
	_, ok := o.locals[normalize(email.Local)]
	return ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
