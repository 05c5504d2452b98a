package check

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/optimode/emailverify/internal/dnscache"
	"github.com/optimode/emailverify/internal/parse"
	"github.com/optimode/emailverify/types"
)

// Resolver is the subset of *net.Resolver the DNS stage needs.
// internal/dnsresolve and internal/dnscache provide implementations.
type Resolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNSConfig is the DNS checker configuration.
type DNSConfig struct {
	Timeout     time.Duration
	FallbackToA bool
	// DenyDomains fail immediately, without a network call.
	DenyDomains []string
	// Suggester proposes a correction for mistyped provider domains. Optional.
	Suggester *TypoSuggester
}

// DNSChecker verifies that the domain publishes mail exchangers.
type DNSChecker struct {
	cfg      DNSConfig
	resolver Resolver
	deny     map[string]struct{}
}

func NewDNSChecker(cfg DNSConfig, r Resolver) *DNSChecker {
	if r == nil {
		r = net.DefaultResolver
	}
	deny := make(map[string]struct{}, len(cfg.DenyDomains))
	for _, d := range cfg.DenyDomains {
		deny[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return &DNSChecker{cfg: cfg, resolver: r, deny: deny}
}

func (c *DNSChecker) Check(ctx context.Context, email parse.Email) types.CheckResult {
	res := c.check(ctx, email)
	if c.cfg.Suggester != nil && email.Valid {
		res.Suggestion = c.cfg.Suggester.Suggest(email.DomainUnicode)
	}
	return res
}

func (c *DNSChecker) check(ctx context.Context, email parse.Email) types.CheckResult {
	level := types.LevelDNS

	if !email.Valid {
		return types.NotChecked(level)
	}

	if _, denied := c.deny[email.Domain]; denied {
		return types.CheckResult{
			Level:   level,
			Passed:  false,
			Details: fmt.Sprintf("No mail servers found for %s", email.Domain),
		}
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	mxRecords, err := c.resolver.LookupMX(ctx, email.Domain)
	if err != nil && !dnscache.IsNotFound(err) {
		return types.CheckResult{
			Level:   level,
			Passed:  false,
			Details: fmt.Sprintf("Could not verify mail servers: %v", err),
		}
	}

	if len(mxRecords) == 0 {
		// RFC 5321 implicit MX: the domain itself acts as exchanger.
		if c.cfg.FallbackToA {
			addrs, aErr := c.resolver.LookupHost(ctx, email.Domain)
			if aErr == nil && len(addrs) > 0 {
				return types.CheckResult{
					Level:   level,
					Passed:  true,
					Details: "No MX record, but A record found (fallback)",
					MXHost:  email.Domain,
					MXHosts: []string{email.Domain},
				}
			}
		}
		return types.CheckResult{Level: level, Passed: false, Details: "No mail servers found for domain"}
	}

	sort.SliceStable(mxRecords, func(i, j int) bool {
		return mxRecords[i].Pref < mxRecords[j].Pref
	})

	hosts := make([]string, 0, len(mxRecords))
	for _, mx := range mxRecords {
		host := strings.TrimSuffix(mx.Host, ".")
		// A null MX (RFC 7505) means the domain accepts no mail.
		if host == "" {
			continue
		}
		hosts = append(hosts, host)
	}
	if len(hosts) == 0 {
		return types.CheckResult{Level: level, Passed: false, Details: "No mail servers found for domain"}
	}

	return types.CheckResult{
		Level:   level,
		Passed:  true,
		Details: fmt.Sprintf("Mail servers found (%d MX record(s), primary %s)", len(hosts), hosts[0]),
		MXHost:  hosts[0],
		MXHosts: hosts,
	}
}
