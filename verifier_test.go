package emailverify_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimode/emailverify"
)

// fakeDNS answers MX queries from a fixed table. Unknown domains do not exist.
type fakeDNS struct {
	mu      sync.Mutex
	mx      map[string][]*net.MX
	panicOn string
	queries []string
}

func (f *fakeDNS) LookupMX(_ context.Context, domain string) ([]*net.MX, error) {
	f.mu.Lock()
	f.queries = append(f.queries, domain)
	f.mu.Unlock()
	if domain == f.panicOn {
		panic("resolver exploded")
	}
	if recs, ok := f.mx[domain]; ok {
		return recs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: domain, IsNotFound: true}
}

func (f *fakeDNS) LookupHost(_ context.Context, host string) ([]string, error) {
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func (f *fakeDNS) asked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func newFakeDNS() *fakeDNS {
	return &fakeDNS{mx: map[string][]*net.MX{
		"example-real-domain.com": {{Host: "mx.example-real-domain.com.", Pref: 10}},
		"gmail.com":               {{Host: "gmail-smtp-in.l.google.com.", Pref: 5}},
		"greylist.example":        {{Host: "mx.greylist.example.", Pref: 10}},
		"empty.example":           {},
	}}
}

// smtpDialer returns a dialer whose servers answer RCPT TO according to
// rcpt: the reply for a recipient, or 250 when it is not listed.
func smtpDialer(rcpt map[string]string) emailverify.DialFunc {
	return func(_ context.Context, _, _ string) (net.Conn, error) {
		client, server := net.Pipe()
		go serveSMTP(server, rcpt, nil)
		return client, nil
	}
}

// sessionLog records every line the fake servers receive.
type sessionLog struct {
	mu    sync.Mutex
	dials int
	lines []string
}

func (l *sessionLog) dial(_ context.Context, _, _ string) (net.Conn, error) {
	l.mu.Lock()
	l.dials++
	l.mu.Unlock()
	client, server := net.Pipe()
	go serveSMTP(server, rcptReplies, func(line string) {
		l.mu.Lock()
		l.lines = append(l.lines, line)
		l.mu.Unlock()
	})
	return client, nil
}

func (l *sessionLog) snapshot() (int, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dials, append([]string(nil), l.lines...)
}

func serveSMTP(conn net.Conn, rcpt map[string]string, record func(string)) {
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)
	_, _ = fmt.Fprintf(conn, "220 mx.test ESMTP\r\n")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		if record != nil {
			record(cmd)
		}
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "MAIL FROM"):
			_, _ = fmt.Fprintf(conn, "250 OK\r\n")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			addr := strings.Trim(strings.TrimPrefix(cmd, "RCPT TO:"), "<>")
			reply, ok := rcpt[addr]
			if !ok {
				reply = "250 2.1.5 OK"
			}
			_, _ = fmt.Fprintf(conn, "%s\r\n", reply)
		case cmd == "QUIT":
			_, _ = fmt.Fprintf(conn, "221 Bye\r\n")
			return
		default:
			_, _ = fmt.Fprintf(conn, "502 Command not implemented\r\n")
		}
	}
}

var rcptReplies = map[string]string{
	"ghost@example-real-domain.com": "550 5.1.1 No such user",
	"slow@greylist.example":         "451 4.7.1 Greylisted",
}

func newTestVerifier(dns *fakeDNS) *emailverify.Verifier {
	return emailverify.New().
		WithResolver(dns).
		WithDNS(emailverify.DNSOptions{Timeout: 2 * time.Second, CacheTTL: -1}).
		WithDialer(smtpDialer(rcptReplies))
}

func TestVerify_EndToEndExamples(t *testing.T) {
	v := newTestVerifier(newFakeDNS())
	ctx := context.Background()

	t.Run("not an email", func(t *testing.T) {
		res, err := v.Verify(ctx, "not-an-email")
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, "Invalid email format", res.Reason)
		assert.False(t, res.Steps.Syntax.Passed)
		assert.Equal(t, "Not checked", res.Steps.MXRecord.Details)
		assert.Equal(t, "Not checked", res.Steps.SMTP.Details)
	})

	t.Run("deny-listed domain", func(t *testing.T) {
		res, err := v.Verify(ctx, "user@invalid.com")
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Reason, "mail servers")
		assert.False(t, res.Steps.MXRecord.Passed)
		assert.Equal(t, "Not checked", res.Steps.SMTP.Details)
	})

	t.Run("placeholder at accept-all provider", func(t *testing.T) {
		res, err := v.Verify(ctx, "test@gmail.com")
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, "Mailbox does not exist", res.Reason)
		assert.False(t, res.Steps.SMTP.Passed)
		assert.Equal(t, "Mailbox verification failed", res.Steps.SMTP.Details)
	})

	t.Run("real mailbox", func(t *testing.T) {
		res, err := v.Verify(ctx, "real.person@example-real-domain.com")
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Equal(t, "Email is valid and exists", res.Reason)
		assert.Equal(t, "Mailbox exists", res.Steps.SMTP.Details)
		assert.Equal(t, "mx.example-real-domain.com", res.Steps.SMTP.MXHost)
	})
}

func TestVerify_DenyListNeverQueries(t *testing.T) {
	dns := newFakeDNS()
	_, err := newTestVerifier(dns).Verify(context.Background(), "user@invalid.com")
	require.NoError(t, err)
	assert.Empty(t, dns.asked())
}

func TestVerify_QuotedLocalPartStaysOneCommand(t *testing.T) {
	tests := []struct {
		name  string
		email string
	}{
		{"line breaks", "\"x\r\nRCPT TO:<v@evil.io>\r\nDATA\r\nspam\r\n.\r\n\"@example-real-domain.com"},
		{"bare line feed", "\"x\nDATA\"@example-real-domain.com"},
		{"space", `"john doe"@example-real-domain.com`},
		{"tab", "\"john\tdoe\"@example-real-domain.com"},
		{"control character", "\"john\x00doe\"@example-real-domain.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &sessionLog{}
			v := emailverify.New().
				WithResolver(newFakeDNS()).
				WithDNS(emailverify.DNSOptions{Timeout: 2 * time.Second, CacheTTL: -1}).
				WithDialer(log.dial)

			res, err := v.Verify(context.Background(), tt.email)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.False(t, res.Steps.Syntax.Passed, res.Steps.Syntax.Details)
			assert.Equal(t, "Invalid email format", res.Reason)

			dials, lines := log.snapshot()
			assert.Zero(t, dials)
			assert.Empty(t, lines)
		})
	}
}

func TestVerify_QuotedLocalPartIsProbedVerbatim(t *testing.T) {
	log := &sessionLog{}
	v := emailverify.New().
		WithResolver(newFakeDNS()).
		WithDNS(emailverify.DNSOptions{Timeout: 2 * time.Second, CacheTTL: -1}).
		WithDialer(log.dial)

	res, err := v.Verify(context.Background(), `"john\"q"@example-real-domain.com`)
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Reason)

	_, lines := log.snapshot()
	var rcpts []string
	for _, l := range lines {
		assert.NotEqual(t, "DATA", l)
		if strings.HasPrefix(l, "RCPT TO:") {
			rcpts = append(rcpts, l)
		}
	}
	assert.Equal(t, []string{`RCPT TO:<"john\"q"@example-real-domain.com>`}, rcpts)
}

func TestVerify_NoMailServers(t *testing.T) {
	v := newTestVerifier(newFakeDNS())
	for _, email := range []string{"user@empty.example", "user@nowhere.example"} {
		res, err := v.Verify(context.Background(), email)
		require.NoError(t, err)
		assert.False(t, res.Valid, email)
		assert.Contains(t, res.Reason, "mail servers", email)
		assert.Equal(t, "Not checked", res.Steps.SMTP.Details, email)
	}
}

func TestVerify_MailboxRejected(t *testing.T) {
	res, err := newTestVerifier(newFakeDNS()).Verify(context.Background(), "ghost@example-real-domain.com")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "Mailbox does not exist", res.Reason)
	assert.Equal(t, "Mailbox does not exist", res.Steps.SMTP.Details)
	assert.Equal(t, 550, res.Steps.SMTP.SMTPCode)
}

func TestVerify_StrictMode(t *testing.T) {
	ctx := context.Background()

	strict := newTestVerifier(newFakeDNS())
	res, err := strict.Verify(ctx, "slow@greylist.example")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "Mailbox could not be verified: temporary rejection (451)", res.Reason)

	opts := emailverify.DefaultSMTPOptions()
	opts.Strict = false
	lenient := newTestVerifier(newFakeDNS()).WithSMTP(opts)
	res, err = lenient.Verify(ctx, "slow@greylist.example")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.Steps.SMTP.Passed)
}

func TestVerify_Idempotent(t *testing.T) {
	v := newTestVerifier(newFakeDNS())
	for _, email := range []string{"not-an-email", "test@gmail.com", "real.person@example-real-domain.com"} {
		first, err := v.Verify(context.Background(), email)
		require.NoError(t, err)
		second, err := v.Verify(context.Background(), email)
		require.NoError(t, err)
		assert.Equal(t, first, second, email)
	}
}

func TestVerify_WireShape(t *testing.T) {
	res, err := newTestVerifier(newFakeDNS()).Verify(context.Background(), "not-an-email")
	require.NoError(t, err)

	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "not-an-email", wire["email"])
	assert.Equal(t, false, wire["isValid"])
	assert.Equal(t, "Invalid email format", wire["reason"])

	steps := wire["steps"].(map[string]any)
	for _, key := range []string{"syntax", "mxRecord", "smtp"} {
		step, ok := steps[key].(map[string]any)
		require.True(t, ok, key)
		assert.Contains(t, step, "valid")
		assert.Contains(t, step, "message")
	}
	assert.Equal(t, "Not checked", steps["smtp"].(map[string]any)["message"])
}

func TestVerify_FaultIsRecovered(t *testing.T) {
	dns := newFakeDNS()
	dns.panicOn = "example-real-domain.com"
	v := newTestVerifier(dns)

	res, err := v.Verify(context.Background(), "real.person@example-real-domain.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, emailverify.ErrVerificationFault)
	assert.Equal(t, emailverify.ErrorResult("real.person@example-real-domain.com"), res)
	assert.True(t, res.Steps.Syntax.Passed)
	assert.Equal(t, "Error during check", res.Steps.MXRecord.Details)
	assert.Equal(t, "Verification failed due to an error", res.Reason)

	// The Verifier keeps working afterwards.
	res, err = v.Verify(context.Background(), "test@gmail.com")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestVerify_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		v    *emailverify.Verifier
	}{
		{"bad sender", emailverify.New().WithSMTP(emailverify.SMTPOptions{MailFrom: "not an address"})},
		{"negative timeout", emailverify.New().WithSMTP(emailverify.SMTPOptions{Timeout: -time.Second})},
		{"bad port", emailverify.New().WithSMTP(emailverify.SMTPOptions{Port: "smtp"})},
		{"bad proxy", emailverify.New().WithSMTP(emailverify.SMTPOptions{ProxyURL: "ftp://127.0.0.1:21"})},
		{"negative dns timeout", emailverify.New().WithDNS(emailverify.DNSOptions{Timeout: -1})},
		{"zero concurrency", emailverify.New().WithConcurrency(0)},
		{"helo with line break", emailverify.New().WithSMTP(emailverify.SMTPOptions{HeloDomain: "probe.test\r\nDATA"})},
		{"sender with line break", emailverify.New().WithSMTP(emailverify.SMTPOptions{MailFrom: "a@b.test>\r\nDATA"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.v.Verify(context.Background(), "user@example.com")
			assert.ErrorIs(t, err, emailverify.ErrInvalidOptions)
			assert.Equal(t, emailverify.Result{}, res)

			_, err = tt.v.VerifyMany(context.Background(), []string{"user@example.com"})
			assert.ErrorIs(t, err, emailverify.ErrInvalidOptions)
		})
	}
}

func TestVerify_ProbeConcurrencyLimit(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	v := emailverify.New().
		WithResolver(newFakeDNS()).
		WithConcurrency(1).
		WithDialer(func(ctx context.Context, _, _ string) (net.Conn, error) {
			once.Do(func() { close(started) })
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, errors.New("connection refused")
		})

	done := make(chan emailverify.Result, 1)
	go func() {
		res, _ := v.Verify(context.Background(), "real.person@example-real-domain.com")
		done <- res
	}()
	<-started

	// The only slot is taken: the second caller gives up when its
	// context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := v.Verify(ctx, "real.person@example-real-domain.com")
	require.NoError(t, err)
	assert.Equal(t, "Verification timed out", res.Steps.SMTP.Details)

	close(release)
	first := <-done
	assert.Equal(t, "Connection failed", first.Steps.SMTP.Details)
}

func TestVerifyMany(t *testing.T) {
	v := newTestVerifier(newFakeDNS())
	emails := []string{
		"real.person@example-real-domain.com",
		"invalid",
		"test@gmail.com",
		"ghost@example-real-domain.com",
	}

	results, err := v.VerifyMany(context.Background(), emails, emailverify.ConcurrencyOptions{Workers: 3})
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, emails[i], r.Email)
	}
	assert.True(t, results[0].Valid)
	assert.False(t, results[1].Valid)
	assert.False(t, results[2].Valid)
	assert.False(t, results[3].Valid)
}

func TestVerifyMany_ReportsFault(t *testing.T) {
	dns := newFakeDNS()
	dns.panicOn = "gmail.com"
	results, err := newTestVerifier(dns).VerifyMany(context.Background(), []string{"a@gmail.com", "invalid"})
	assert.ErrorIs(t, err, emailverify.ErrVerificationFault)
	require.Len(t, results, 2)
	assert.Equal(t, emailverify.ReasonFault, results[0].Reason)
	assert.Equal(t, emailverify.ReasonInvalidFormat, results[1].Reason)
}

func TestVerify_Logging(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	v := newTestVerifier(newFakeDNS()).WithLogger(logger)
	_, err := v.Verify(context.Background(), "real.person@example-real-domain.com")
	require.NoError(t, err)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.InfoLevel, last.Level)
	assert.Equal(t, "verification finished", last.Message)
	assert.Equal(t, "real.person@example-real-domain.com", last.Data["email"])
	assert.Equal(t, true, last.Data["valid"])

	var stages []any
	for _, e := range hook.AllEntries() {
		if e.Message == "stage finished" {
			stages = append(stages, e.Data["stage"])
		}
	}
	assert.Equal(t, []any{"syntax", "mxRecord", "smtp"}, stages)
}

// recordingObserver keeps every observation.
type recordingObserver struct {
	mu       sync.Mutex
	stages   []string
	verdicts []bool
}

func (o *recordingObserver) ObserveStage(stage string, _ bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *recordingObserver) ObserveVerdict(valid bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verdicts = append(o.verdicts, valid)
}

func TestVerify_Observer(t *testing.T) {
	obs := &recordingObserver{}
	v := newTestVerifier(newFakeDNS()).WithObserver(obs)

	_, _ = v.Verify(context.Background(), "invalid")
	_, _ = v.Verify(context.Background(), "real.person@example-real-domain.com")

	assert.Equal(t, []string{"syntax", "syntax", "mxRecord", "smtp"}, obs.stages)
	assert.Equal(t, []bool{false, true}, obs.verdicts)
}

func TestResult_Accessors(t *testing.T) {
	res, _ := newTestVerifier(newFakeDNS()).Verify(context.Background(), "bad email")

	failed := res.FailedChecks()
	require.Len(t, failed, 3)
	assert.Equal(t, emailverify.LevelSyntax, failed[0].Level)

	c, ok := res.CheckFor(emailverify.LevelDNS)
	assert.True(t, ok)
	assert.Equal(t, "Not checked", c.Details)

	_, ok = res.CheckFor("domain")
	assert.False(t, ok)
}
