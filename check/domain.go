package check

import (
	"strings"

	"github.com/optimode/emailverify/internal/levenshtein"
)

// TypoSuggester proposes the closest well-known mail provider for a
// domain that looks like a misspelling of one. It never fails a check.
type TypoSuggester struct {
	threshold      int
	knownProviders []string
}

// defaultKnownProviders is the list of known major email providers.
var defaultKnownProviders = []string{
	"gmail.com", "googlemail.com",
	"yahoo.com", "yahoo.co.uk", "yahoo.fr", "yahoo.de",
	"outlook.com", "hotmail.com", "hotmail.co.uk", "live.com",
	"icloud.com", "me.com", "mac.com",
	"protonmail.com", "proton.me",
	"aol.com",
	"zoho.com",
	"yandex.com", "yandex.ru",
	"mail.com",
	"gmx.com", "gmx.net", "gmx.de",
	"fastmail.com",
	"tutanota.com",
}

// NewTypoSuggester creates a suggester with the given Levenshtein
// threshold. Providers default to the built-in list when empty.
func NewTypoSuggester(threshold int, providers ...string) *TypoSuggester {
	if threshold <= 0 {
		threshold = 2
	}
	if len(providers) == 0 {
		providers = defaultKnownProviders
	}
	return &TypoSuggester{threshold: threshold, knownProviders: providers}
}

// Suggest returns the closest known provider within the threshold, or ""
// when the domain is itself a known provider or nothing is close.
func (s *TypoSuggester) Suggest(domain string) string {
	domain = strings.ToLower(domain)
	bestDist := s.threshold + 1
	bestMatch := ""

	for _, provider := range s.knownProviders {
		if domain == provider {
			return "" // exact match, no typo
		}
		if !levenshtein.Within(domain, provider, s.threshold) {
			continue
		}
		if dist := levenshtein.Distance(domain, provider); dist < bestDist {
			bestDist = dist
			bestMatch = provider
		}
	}

	return bestMatch
}
