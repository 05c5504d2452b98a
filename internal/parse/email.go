// Package parse splits raw address input into its local and domain parts.
package parse

import (
	"errors"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrEmpty             = errors.New("empty email address")
	ErrMissingAt         = errors.New("missing @ separator")
	ErrMultipleAt        = errors.New("multiple @ characters")
	ErrEmptyLocal        = errors.New("local part is empty")
	ErrEmptyDomain       = errors.New("domain is empty")
	ErrUnterminatedQuote = errors.New("unterminated quoted local part")
	ErrInvalidDomain     = errors.New("domain is not a valid internationalized name")
)

// Email is the internal representation of a parsed email address.
// The check/ packages receive this as parameter.
type Email struct {
	Raw           string // the original, trimmed input
	Local         string // the part before @
	Domain        string // the part after @, lower-case ASCII/Punycode form (for DNS/SMTP)
	DomainUnicode string // the part after @, Unicode form (for display/typo detection)
	Quoted        bool   // local part is a quoted string
	Valid         bool   // false if Raw cannot be split into local@domain
	Err           error  // why Valid is false
}

// NewEmail attempts to parse the given email string.
// If parsing fails, Valid=false and Err is set, but Raw is always populated.
func NewEmail(raw string) Email {
	raw = strings.TrimSpace(raw)

	local, domain, quoted, err := Split(raw)
	if err != nil {
		return Email{Raw: raw, Err: err}
	}

	asciiDomain, unicodeDomain, ok := convertDomain(strings.ToLower(domain))
	if !ok {
		return Email{Raw: raw, Local: local, Err: ErrInvalidDomain}
	}

	return Email{
		Raw:           raw,
		Local:         local,
		Domain:        asciiDomain,
		DomainUnicode: unicodeDomain,
		Quoted:        quoted,
		Valid:         true,
	}
}

// Split separates raw into local part and domain at the single unquoted @.
// An @ inside a quoted local part ("a@b"@example.com) does not count.
func Split(raw string) (local, domain string, quoted bool, err error) {
	if raw == "" {
		return "", "", false, ErrEmpty
	}

	sep := -1
	if strings.HasPrefix(raw, `"`) {
		end := closingQuote(raw)
		if end < 0 {
			return "", "", false, ErrUnterminatedQuote
		}
		quoted = true
		if end+1 >= len(raw) || raw[end+1] != '@' {
			if strings.Contains(raw[end+1:], "@") {
				return "", "", false, ErrMultipleAt
			}
			return "", "", false, ErrMissingAt
		}
		sep = end + 1
		if strings.Contains(raw[sep+1:], "@") {
			return "", "", false, ErrMultipleAt
		}
	} else {
		switch strings.Count(raw, "@") {
		case 0:
			return "", "", false, ErrMissingAt
		case 1:
			sep = strings.IndexByte(raw, '@')
		default:
			return "", "", false, ErrMultipleAt
		}
	}

	local, domain = raw[:sep], raw[sep+1:]
	if local == "" || local == `""` {
		return "", "", quoted, ErrEmptyLocal
	}
	if domain == "" {
		return local, "", quoted, ErrEmptyDomain
	}
	return local, domain, quoted, nil
}

// closingQuote returns the index of the quote closing the string that
// starts at raw[0], honoring backslash escapes. -1 if unterminated.
func closingQuote(raw string) int {
	for i := 1; i < len(raw); i++ {
		switch raw[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// convertDomain converts a domain to both ASCII/Punycode and Unicode forms.
// Returns (ascii, unicode, ok). ok is false if the domain contains
// non-ASCII characters that fail IDNA2008 validation.
func convertDomain(domain string) (ascii, unicode string, ok bool) {
	hasNonASCII := false
	for _, r := range domain {
		if r > 127 {
			hasNonASCII = true
			break
		}
	}

	if hasNonASCII {
		a, err := idna.Lookup.ToASCII(domain)
		if err != nil {
			return "", "", false
		}
		return a, domain, true
	}

	// Pure ASCII domain: existing Punycode (xn--mnchen-3ya.de) gets a
	// Unicode display form.
	u, err := idna.Display.ToUnicode(domain)
	if err != nil {
		u = domain
	}
	return domain, u, true
}
