package check

import (
	"context"
	"strings"
	"unicode"

	"github.com/badoux/checkmail"

	"github.com/optimode/emailverify/internal/parse"
	"github.com/optimode/emailverify/types"
)

// SyntaxConfig is the syntax checker configuration.
type SyntaxConfig struct {
	// Strict additionally requires the ASCII form of the address to match
	// checkmail's RFC 5322 pattern. Internationalized local parts fail it.
	Strict bool
}

// SyntaxChecker validates email syntax according to RFC 5321/5322.
// Invalid input is a normal outcome: Check never returns an error.
type SyntaxChecker struct {
	cfg SyntaxConfig
}

func NewSyntaxChecker(cfg ...SyntaxConfig) *SyntaxChecker {
	c := &SyntaxChecker{}
	if len(cfg) > 0 {
		c.cfg = cfg[0]
	}
	return c
}

func (c *SyntaxChecker) Check(_ context.Context, email parse.Email) types.CheckResult {
	level := types.LevelSyntax
	fail := func(detail string) types.CheckResult {
		return types.CheckResult{Level: level, Passed: false, Details: "Invalid format: " + detail}
	}

	if email.Raw == "" {
		return types.CheckResult{Level: level, Passed: false, Details: "Empty email address"}
	}

	if strings.IndexFunc(email.Raw, unicode.IsSpace) >= 0 {
		return fail("email contains whitespace")
	}

	if !email.Valid {
		return fail(email.Err.Error())
	}

	if !strings.Contains(email.Domain, ".") {
		return fail("domain must contain a dot")
	}

	// Length checks (RFC 5321)
	if len(email.Raw) > 254 {
		return fail("email address exceeds 254 characters")
	}
	if len(email.Local) > 64 {
		return fail("local part exceeds 64 characters")
	}

	validate := validateLocal
	if email.Quoted {
		validate = validateQuoted
	}
	if err := validate(email.Local); err != "" {
		return fail(err)
	}

	// Unicode form gives readable messages; IDNA2008 was already applied
	// during parsing.
	if err := validateDomain(email.DomainUnicode); err != "" {
		return fail(err)
	}

	if c.cfg.Strict {
		if err := checkmail.ValidateFormat(email.Local + "@" + email.Domain); err != nil {
			return fail("rejected by strict format check")
		}
	}

	return types.CheckResult{Level: level, Passed: true, Details: types.DetailValidFormat}
}

// validateQuoted validates a quoted local part, quotes included, against
// RFC 5321 qtextSMTP and quoted-pairSMTP: printable ASCII only, with '"'
// and '\' escaped. Returns error text, or "" if ok.
func validateQuoted(local string) string {
	if len(local) < 3 || local[0] != '"' || local[len(local)-1] != '"' {
		return "local part is not a valid quoted string"
	}
	content := local[1 : len(local)-1]
	for i := 0; i < len(content); i++ {
		ch := content[i]
		switch {
		case ch == '\\':
			i++
			if i == len(content) || content[i] < 32 || content[i] > 126 {
				return "quoted local part contains an invalid escape"
			}
		case ch == '"':
			return "quoted local part contains an unescaped quote"
		case ch < 32 || ch > 126:
			return "quoted local part contains invalid character"
		}
	}
	return ""
}

// validateLocal validates an unquoted local part.
// Supports RFC 5321 ASCII characters and RFC 6531 (SMTPUTF8) Unicode characters.
// Returns error text, or "" if ok.
func validateLocal(local string) string {
	if local == "" {
		return "local part is empty"
	}

	// RFC 5321 ASCII special characters (besides alphanumeric)
	asciiSpecial := "!#$%&'*+/=?^_`{|}~-."

	for _, ch := range local {
		if ch > 127 {
			if unicode.IsControl(ch) {
				return "local part contains control character"
			}
			continue
		}
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			continue
		}
		if !strings.ContainsRune(asciiSpecial, ch) {
			return "local part contains invalid character: " + string(ch)
		}
	}

	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return "local part cannot start or end with a dot"
	}

	if strings.Contains(local, "..") {
		return "local part cannot contain consecutive dots"
	}

	return ""
}

// validateDomain validates the domain part (Unicode form).
// Returns error text, or "" if ok.
func validateDomain(domain string) string {
	if domain == "" {
		return "domain is empty"
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return "domain must have at least two labels"
	}

	for _, label := range labels {
		if label == "" {
			return "domain contains empty label (consecutive dots)"
		}
		if len(label) > 63 {
			return "domain label exceeds 63 characters"
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return "domain label cannot start or end with a hyphen"
		}
		for _, ch := range label {
			if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '-' {
				return "domain label contains invalid character: " + string(ch)
			}
		}
	}

	// TLD cannot be all digits
	tld := labels[len(labels)-1]
	allDigits := true
	for _, ch := range tld {
		if !unicode.IsDigit(ch) {
			allDigits = false
			break
		}
	}
	if allDigits {
		return "TLD cannot be all digits"
	}

	return ""
}
