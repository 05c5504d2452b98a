package emailverify

// Steps holds the outcome of every stage. Stages that never ran are
// present with Passed=false and "Not checked".
type Steps struct {
	Syntax   CheckResult `json:"syntax"`
	MXRecord CheckResult `json:"mxRecord"`
	SMTP     CheckResult `json:"smtp"`
}

// Result is the verdict for one address. Valid is true only if all three
// stages passed. It is built once by Aggregate and never modified.
type Result struct {
	Email  string `json:"email"`
	Valid  bool   `json:"isValid"`
	Reason string `json:"reason"`
	Steps  Steps  `json:"steps"`
}

// Checks returns the stage outcomes in pipeline order.
func (r Result) Checks() []CheckResult {
	return []CheckResult{r.Steps.Syntax, r.Steps.MXRecord, r.Steps.SMTP}
}

// FailedChecks returns those CheckResults that did not pass.
func (r Result) FailedChecks() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks() {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// CheckFor returns the CheckResult for the given level.
// The second return value is false for an unknown level.
func (r Result) CheckFor(level CheckLevel) (CheckResult, bool) {
	switch level {
	case LevelSyntax:
		return r.Steps.Syntax, true
	case LevelDNS:
		return r.Steps.MXRecord, true
	case LevelSMTP:
		return r.Steps.SMTP, true
	}
	return CheckResult{}, false
}
