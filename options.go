package emailverify

import (
	"time"

	"github.com/optimode/emailverify/internal/lists"
)

// SyntaxOptions configures the syntax stage.
type SyntaxOptions struct {
	// Strict additionally runs the address through checkmail's format
	// check. Default: false
	Strict bool
}

// CacheStore is a shared second tier for the MX cache. Get returns
// nil, nil on a miss. A fiber.Storage satisfies it.
type CacheStore interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte, exp time.Duration) error
}

// DNSOptions configures the MX stage.
type DNSOptions struct {
	// Timeout is the maximum time for MX lookup. Default: 5s
	Timeout time.Duration
	// FallbackToA when true accepts A records when no MX record is found.
	// Default: false (strict MX requirement)
	FallbackToA bool
	// DenyDomains fail the stage without a lookup. Default: the built-in list
	DenyDomains []string
	// Server sends queries to this nameserver (host or host:port) instead
	// of the system resolvers.
	Server string
	// Direct queries Server with a minimal DNS client instead of the Go
	// resolver. Ignored without Server.
	Direct bool
	// CacheTTL is how long answers are cached. Default: 5m; negative disables
	CacheTTL time.Duration
	// CacheStore adds a shared cache tier, for example Redis.
	CacheStore CacheStore
	// SuggestTypos proposes a correction for mistyped provider domains.
	// Never fails the stage. Default: true
	SuggestTypos bool
	// TypoThreshold is the edit distance for typo detection. Default: 2
	TypoThreshold int
}

// DefaultDNSOptions returns the options New uses.
func DefaultDNSOptions() DNSOptions {
	return DNSOptions{
		Timeout:       5 * time.Second,
		FallbackToA:   false,
		DenyDomains:   lists.Defaults().DenyDomains,
		CacheTTL:      5 * time.Minute,
		SuggestTypos:  true,
		TypoThreshold: 2,
	}
}

// SMTPOptions configures the mailbox probe. Zero durations and an empty
// port take their defaults; Strict is used as given, so start from
// DefaultSMTPOptions to keep strict mode.
type SMTPOptions struct {
	// HeloDomain is the name sent in EHLO/HELO. Default: "localhost"
	HeloDomain string
	// MailFrom is the envelope sender. Default: "" (null sender <>)
	MailFrom string
	// Port is the SMTP port. Default: 25
	Port string
	// Timeout bounds the whole probe session. Default: 10s
	Timeout time.Duration
	// ConnectTimeout is the maximum time for TCP connection. Default: 5s
	ConnectTimeout time.Duration
	// CommandTimeout is the maximum response time for SMTP commands. Default: 5s
	CommandTimeout time.Duration
	// Strict treats temporary (4xx) RCPT rejections as failures.
	// Default: true
	Strict bool
	// MaxMXHosts is how many exchangers to try when the preferred one
	// cannot be reached. Default: 1
	MaxMXHosts int
	// ProxyURL routes probes through a proxy, e.g. socks5://host:1080.
	ProxyURL string
}

// DefaultSMTPOptions returns the options New uses.
func DefaultSMTPOptions() SMTPOptions {
	return SMTPOptions{
		HeloDomain:     "localhost",
		Port:           "25",
		Timeout:        10 * time.Second,
		ConnectTimeout: 5 * time.Second,
		CommandTimeout: 5 * time.Second,
		Strict:         true,
		MaxMXHosts:     1,
	}
}

// OverrideOptions configures the accept-all override: a positive probe
// for a placeholder local part at an unreliable provider is discarded.
type OverrideOptions struct {
	UnreliableDomains []string
	PlaceholderLocals []string
}

// DefaultOverrideOptions returns the built-in lists.
func DefaultOverrideOptions() OverrideOptions {
	l := lists.Defaults()
	return OverrideOptions{
		UnreliableDomains: l.UnreliableDomains,
		PlaceholderLocals: l.PlaceholderLocals,
	}
}

// ConcurrencyOptions configures concurrent processing for VerifyMany.
type ConcurrencyOptions struct {
	// Workers is the number of concurrent goroutines. Default: 5
	Workers int
}
