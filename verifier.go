package emailverify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/optimode/emailverify/check"
	"github.com/optimode/emailverify/internal/dnscache"
	"github.com/optimode/emailverify/internal/dnsresolve"
	"github.com/optimode/emailverify/internal/parse"
	"github.com/optimode/emailverify/internal/smtpprobe"
	"github.com/optimode/emailverify/types"
)

// DialFunc opens the TCP connection to a mail exchanger.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Observer receives timings for every stage and verdict.
// internal/metrics exports them to Prometheus.
type Observer interface {
	ObserveStage(stage string, passed bool, elapsed time.Duration)
	ObserveVerdict(valid bool, elapsed time.Duration)
}

// Verifier is the main fluent builder struct.
// Instantiate with the New() function. Configure it before the first call
// to Verify; after that it is safe for concurrent use.
type Verifier struct {
	syntaxOpts   SyntaxOptions
	dnsOpts      DNSOptions
	smtpOpts     SMTPOptions
	overrideOpts OverrideOptions
	concurrency  int64
	resolver     Resolver
	dial         DialFunc
	log          logrus.FieldLogger
	observer     Observer
	err          error // configuration error, returned on Verify()

	once     sync.Once
	syntax   *check.SyntaxChecker
	dns      *check.DNSChecker
	smtp     *check.SMTPChecker
	override *check.Override
	sem      *semaphore.Weighted
}

// New creates a Verifier running all three stages with default options.
func New() *Verifier {
	return &Verifier{
		dnsOpts:      DefaultDNSOptions(),
		smtpOpts:     DefaultSMTPOptions(),
		overrideOpts: DefaultOverrideOptions(),
		concurrency:  10,
		log:          discardLogger(),
		observer:     nopObserver{},
	}
}

// WithSyntax replaces the syntax stage options.
func (v *Verifier) WithSyntax(opts SyntaxOptions) *Verifier {
	v.syntaxOpts = opts
	return v
}

// WithDNS replaces the MX stage options. Zero durations and a nil deny
// list take their defaults.
func (v *Verifier) WithDNS(opts DNSOptions) *Verifier {
	def := DefaultDNSOptions()
	if opts.Timeout < 0 {
		v.fail(fmt.Errorf("%w: DNS timeout %s is negative", ErrInvalidOptions, opts.Timeout))
		return v
	}
	if opts.Timeout == 0 {
		opts.Timeout = def.Timeout
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = def.CacheTTL
	}
	if opts.TypoThreshold == 0 {
		opts.TypoThreshold = def.TypoThreshold
	}
	if opts.DenyDomains == nil {
		opts.DenyDomains = def.DenyDomains
	}
	v.dnsOpts = opts
	return v
}

// WithSMTP replaces the probe options. Zero durations, an empty port,
// an empty HELO name and a zero MaxMXHosts take their defaults.
func (v *Verifier) WithSMTP(opts SMTPOptions) *Verifier {
	def := DefaultSMTPOptions()
	for name, d := range map[string]time.Duration{
		"Timeout": opts.Timeout, "ConnectTimeout": opts.ConnectTimeout, "CommandTimeout": opts.CommandTimeout,
	} {
		if d < 0 {
			v.fail(fmt.Errorf("%w: SMTP %s %s is negative", ErrInvalidOptions, name, d))
			return v
		}
	}
	if opts.MaxMXHosts < 0 {
		v.fail(fmt.Errorf("%w: SMTP MaxMXHosts %d is negative", ErrInvalidOptions, opts.MaxMXHosts))
		return v
	}
	if strings.ContainsFunc(opts.HeloDomain, unicode.IsSpace) {
		v.fail(fmt.Errorf("%w: SMTP HeloDomain %q contains whitespace", ErrInvalidOptions, opts.HeloDomain))
		return v
	}
	if strings.ContainsFunc(opts.MailFrom, unicode.IsSpace) {
		v.fail(fmt.Errorf("%w: SMTP MailFrom %q contains whitespace", ErrInvalidOptions, opts.MailFrom))
		return v
	}
	if opts.MailFrom != "" && !parse.NewEmail(opts.MailFrom).Valid {
		v.fail(fmt.Errorf("%w: SMTP MailFrom %q is not an address", ErrInvalidOptions, opts.MailFrom))
		return v
	}
	if opts.Port != "" {
		if n, err := strconv.Atoi(opts.Port); err != nil || n < 1 || n > 65535 {
			v.fail(fmt.Errorf("%w: SMTP port %q", ErrInvalidOptions, opts.Port))
			return v
		}
	}
	if opts.ProxyURL != "" {
		if _, err := smtpprobe.ProxyDialer(opts.ProxyURL); err != nil {
			v.fail(fmt.Errorf("%w: SMTP proxy: %v", ErrInvalidOptions, err))
			return v
		}
	}

	if opts.HeloDomain == "" {
		opts.HeloDomain = def.HeloDomain
	}
	if opts.Port == "" {
		opts.Port = def.Port
	}
	if opts.Timeout == 0 {
		opts.Timeout = def.Timeout
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = def.CommandTimeout
	}
	if opts.MaxMXHosts == 0 {
		opts.MaxMXHosts = def.MaxMXHosts
	}
	v.smtpOpts = opts
	return v
}

// WithOverride replaces the accept-all override lists.
func (v *Verifier) WithOverride(opts OverrideOptions) *Verifier {
	v.overrideOpts = opts
	return v
}

// WithConcurrency limits how many SMTP probes run at once across all
// callers of this Verifier. Default: 10
func (v *Verifier) WithConcurrency(n int) *Verifier {
	if n <= 0 {
		v.fail(fmt.Errorf("%w: concurrency %d must be positive", ErrInvalidOptions, n))
		return v
	}
	v.concurrency = int64(n)
	return v
}

// WithResolver replaces the DNS backend. The MX cache still applies.
func (v *Verifier) WithResolver(r Resolver) *Verifier {
	v.resolver = r
	return v
}

// WithDialer replaces how probe connections are opened. It takes
// precedence over SMTPOptions.ProxyURL.
func (v *Verifier) WithDialer(d DialFunc) *Verifier {
	v.dial = d
	return v
}

// WithLogger sets the logger. By default the Verifier logs nothing.
func (v *Verifier) WithLogger(l logrus.FieldLogger) *Verifier {
	if l != nil {
		v.log = l
	}
	return v
}

// WithObserver receives stage and verdict timings.
func (v *Verifier) WithObserver(o Observer) *Verifier {
	if o != nil {
		v.observer = o
	}
	return v
}

func (v *Verifier) fail(err error) {
	if v.err == nil {
		v.err = err
	}
}

func (v *Verifier) build() {
	v.syntax = check.NewSyntaxChecker(check.SyntaxConfig{Strict: v.syntaxOpts.Strict})

	resolver := v.resolver
	if resolver == nil {
		resolver = v.defaultResolver()
	}
	if v.dnsOpts.CacheTTL > 0 {
		var opts []dnscache.Option
		if v.dnsOpts.CacheStore != nil {
			opts = append(opts, dnscache.WithStore(v.dnsOpts.CacheStore))
		}
		resolver = dnscache.New(resolver, v.dnsOpts.Timeout, v.dnsOpts.CacheTTL, opts...)
	}
	var suggester *check.TypoSuggester
	if v.dnsOpts.SuggestTypos {
		suggester = check.NewTypoSuggester(v.dnsOpts.TypoThreshold)
	}
	v.dns = check.NewDNSChecker(check.DNSConfig{
		Timeout:     v.dnsOpts.Timeout,
		FallbackToA: v.dnsOpts.FallbackToA,
		DenyDomains: v.dnsOpts.DenyDomains,
		Suggester:   suggester,
	}, resolver)

	o := v.smtpOpts
	prober := smtpprobe.New(smtpprobe.Config{
		HeloDomain:     o.HeloDomain,
		MailFrom:       o.MailFrom,
		Port:           o.Port,
		Timeout:        o.Timeout,
		ConnectTimeout: o.ConnectTimeout,
		CommandTimeout: o.CommandTimeout,
		Dial:           v.dialer(),
	})
	v.smtp = check.NewSMTPChecker(check.SMTPConfig{
		Strict:     o.Strict,
		MaxMXHosts: o.MaxMXHosts,
	}, tracingProber{next: prober, log: v.log})

	v.override = check.NewOverride(check.OverrideConfig{
		UnreliableDomains: v.overrideOpts.UnreliableDomains,
		PlaceholderLocals: v.overrideOpts.PlaceholderLocals,
	})
	v.sem = semaphore.NewWeighted(v.concurrency)
}

func (v *Verifier) defaultResolver() Resolver {
	if v.dnsOpts.Server != "" && v.dnsOpts.Direct {
		return dnsresolve.NewDirect(v.dnsOpts.Server, v.dnsOpts.Timeout)
	}
	return dnsresolve.System(v.dnsOpts.Server)
}

func (v *Verifier) dialer() smtpprobe.DialFunc {
	if v.dial != nil {
		return smtpprobe.DialFunc(v.dial)
	}
	if v.smtpOpts.ProxyURL != "" {
		// Validated in WithSMTP.
		d, _ := smtpprobe.ProxyDialer(v.smtpOpts.ProxyURL)
		return d
	}
	return nil
}

// Verify runs the pipeline on email. A failing stage short-circuits the
// rest. The returned error is non-nil only for a misconfigured Verifier
// (ErrInvalidOptions, with an empty Result) or an internal fault
// (ErrVerificationFault, with ErrorResult).
func (v *Verifier) Verify(ctx context.Context, email string) (res Result, err error) {
	if v.err != nil {
		return Result{}, v.err
	}
	v.once.Do(v.build)

	start := time.Now()
	log := v.log.WithField("email", email)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("verification fault")
			res = ErrorResult(email)
			err = fmt.Errorf("%w: %v", ErrVerificationFault, r)
		}
		elapsed := time.Since(start)
		v.observer.ObserveVerdict(res.Valid, elapsed)
		log.WithFields(logrus.Fields{
			"valid":   res.Valid,
			"reason":  res.Reason,
			"elapsed": elapsed,
		}).Info("verification finished")
	}()

	parsed := parse.NewEmail(email)

	syntax := v.stage(log, types.LevelSyntax, func() CheckResult {
		return v.syntax.Check(ctx, parsed)
	})
	if !syntax.Passed {
		return Aggregate(email, syntax, types.NotChecked(LevelDNS), types.NotChecked(LevelSMTP)), nil
	}

	domain := v.stage(log, LevelDNS, func() CheckResult {
		return v.dns.Check(ctx, parsed)
	})
	if !domain.Passed {
		return Aggregate(email, syntax, domain, types.NotChecked(LevelSMTP)), nil
	}

	mailbox := v.stage(log, LevelSMTP, func() CheckResult {
		return v.probe(ctx, parsed, domain.MXHosts)
	})
	adjusted := v.override.Adjust(parsed, mailbox)
	if adjusted.Overridden {
		log.WithField("stage", LevelSMTP).Debug("accept-all provider: positive probe discarded")
	}
	return Aggregate(email, syntax, domain, adjusted), nil
}

func (v *Verifier) stage(log logrus.FieldLogger, level CheckLevel, run func() CheckResult) CheckResult {
	start := time.Now()
	res := run()
	elapsed := time.Since(start)
	v.observer.ObserveStage(level, res.Passed, elapsed)
	log.WithFields(logrus.Fields{
		"stage":   level,
		"passed":  res.Passed,
		"detail":  res.Details,
		"elapsed": elapsed,
	}).Debug("stage finished")
	return res
}

// probe waits for a probe slot, then runs the SMTP stage.
func (v *Verifier) probe(ctx context.Context, email parse.Email, mxHosts []string) CheckResult {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		detail := check.DetailCanceled
		if errors.Is(err, context.DeadlineExceeded) {
			detail = check.DetailTimedOut
		}
		return CheckResult{Level: LevelSMTP, Details: detail}
	}
	defer v.sem.Release(1)
	return v.smtp.Check(ctx, email, mxHosts)
}

// VerifyMany verifies multiple emails concurrently.
// The result order matches the input slice order.
// Emails are sorted by domain internally so that lookups for the same
// domain hit the MX cache.
func (v *Verifier) VerifyMany(ctx context.Context, emails []string, opts ...ConcurrencyOptions) ([]Result, error) {
	if v.err != nil {
		return nil, v.err
	}

	workers := 5
	if len(opts) > 0 && opts[0].Workers > 0 {
		workers = opts[0].Workers
	}

	results := make([]Result, len(emails))
	type job struct {
		idx    int
		email  string
		domain string
	}

	jobSlice := make([]job, len(emails))
	for i, e := range emails {
		domain := ""
		if atIdx := strings.LastIndex(e, "@"); atIdx >= 0 {
			domain = strings.ToLower(e[atIdx+1:])
		}
		jobSlice[i] = job{idx: i, email: e, domain: domain}
	}
	sort.SliceStable(jobSlice, func(i, j int) bool {
		return jobSlice[i].domain < jobSlice[j].domain
	})

	bufSize := len(emails)
	if bufSize > 1000 {
		bufSize = 1000
	}
	jobs := make(chan job, bufSize)
	go func() {
		for _, j := range jobSlice {
			jobs <- j
		}
		close(jobs)
	}()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res, err := v.Verify(ctx, j.email)
				results[j.idx] = res
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("verifying %q: %w", j.email, err)
					}
					mu.Unlock()
				}
			}
		}()
	}

	wg.Wait()
	return results, firstErr
}

// tracingProber logs every probe and its transcript at debug level.
type tracingProber struct {
	next check.Prober
	log  logrus.FieldLogger
}

func (p tracingProber) Probe(ctx context.Context, mxHost, rcpt string) smtpprobe.Result {
	res := p.next.Probe(ctx, mxHost, rcpt)

	entry := p.log.WithFields(logrus.Fields{
		"stage":   LevelSMTP,
		"mx_host": mxHost,
		"rcpt":    rcpt,
		"step":    res.Step.String(),
		"outcome": res.Outcome.String(),
		"code":    res.Code,
	})
	if res.Err != nil {
		entry = entry.WithError(res.Err)
	}
	for _, ex := range res.Transcript {
		cmd := ex.Command
		if cmd == "" {
			cmd = "<greeting>"
		}
		entry.Debugf("%s -> %d %s", cmd, ex.Code, ex.Message)
	}
	entry.Debug("probe finished")
	return res
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, bool, time.Duration) {}
func (nopObserver) ObserveVerdict(bool, time.Duration)       {}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}
