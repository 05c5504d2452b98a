// Package lists holds the read-only domain and local-part lists that tune
// the pipeline: the MX deny-list and the accept-all override sets.
package lists

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var rawDefaults []byte

// Lists is the set of lists. A lists file may set any subset of the keys;
// keys it omits keep their built-in values.
type Lists struct {
	DenyDomains       []string `yaml:"deny_domains"`
	UnreliableDomains []string `yaml:"unreliable_domains"`
	PlaceholderLocals []string `yaml:"placeholder_locals"`
}

var defaults Lists

func init() {
	d, err := Parse(rawDefaults)
	if err != nil {
		panic(fmt.Sprintf("lists: embedded defaults: %v", err))
	}
	defaults = d
}

// Defaults returns a copy of the built-in lists.
func Defaults() Lists {
	return Lists{
		DenyDomains:       append([]string(nil), defaults.DenyDomains...),
		UnreliableDomains: append([]string(nil), defaults.UnreliableDomains...),
		PlaceholderLocals: append([]string(nil), defaults.PlaceholderLocals...),
	}
}

// Parse decodes a YAML lists document. Entries are lower-cased and
// blank entries dropped.
func Parse(data []byte) (Lists, error) {
	var l Lists
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Lists{}, fmt.Errorf("lists: decode: %w", err)
	}
	l.DenyDomains = clean(l.DenyDomains)
	l.UnreliableDomains = clean(l.UnreliableDomains)
	l.PlaceholderLocals = clean(l.PlaceholderLocals)
	return l, nil
}

// Load reads a lists file and merges it over the built-in lists.
func Load(path string) (Lists, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lists{}, fmt.Errorf("lists: read %s: %w", path, err)
	}
	l, err := Parse(data)
	if err != nil {
		return Lists{}, err
	}
	return Merge(Defaults(), l), nil
}

// Merge returns base with every list that is set in over replaced.
// An explicitly empty list in over clears the corresponding base list.
func Merge(base, over Lists) Lists {
	if over.DenyDomains != nil {
		base.DenyDomains = over.DenyDomains
	}
	if over.UnreliableDomains != nil {
		base.UnreliableDomains = over.UnreliableDomains
	}
	if over.PlaceholderLocals != nil {
		base.PlaceholderLocals = over.PlaceholderLocals
	}
	return base
}

func clean(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !strings.HasPrefix(s, "#") {
			out = append(out, s)
		}
	}
	return out
}
