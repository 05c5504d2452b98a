// Package smtpprobe asks a mail exchanger whether it would accept mail for
// a recipient, stopping after RCPT TO so that nothing is ever delivered.
//
// A probe walks Connect → Greeting → EHLO/HELO → MAIL FROM → RCPT TO and
// always ends with QUIT (when the server greeted us and the session did
// not time out) followed by closing the socket.
package smtpprobe

import (
	"context"
	"errors"
	"net"
	"os"
	"time"
)

// Step identifies the state a probe session reached.
type Step int

const (
	StepConnect Step = iota
	StepGreeting
	StepHello
	StepMailFrom
	StepRcptTo
)

func (s Step) String() string {
	switch s {
	case StepConnect:
		return "connect"
	case StepGreeting:
		return "greeting"
	case StepHello:
		return "hello"
	case StepMailFrom:
		return "mail_from"
	case StepRcptTo:
		return "rcpt_to"
	}
	return "unknown"
}

// Outcome is the raw verdict of a probe.
type Outcome int

const (
	// OutcomeFailed means the session ended before RCPT TO was answered.
	OutcomeFailed Outcome = iota
	// OutcomeAccepted means RCPT TO got a 2xx reply.
	OutcomeAccepted
	// OutcomeRejected means RCPT TO got a 5xx reply.
	OutcomeRejected
	// OutcomeAmbiguous means RCPT TO got a 4xx (greylisting, rate
	// limiting) or any other non-definitive reply.
	OutcomeAmbiguous
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeAmbiguous:
		return "ambiguous"
	}
	return "failed"
}

// Result describes how a probe ended.
type Result struct {
	Outcome Outcome
	// Step is the state in which the session ended.
	Step Step
	// Code and Message are the last reply received, if any.
	Code    int
	Message string
	// TimedOut is set when the session or a command exceeded its deadline.
	TimedOut bool
	// Canceled is set when the caller's context was canceled.
	Canceled bool
	// Err is the transport error that ended the session, if any.
	Err        error
	Transcript []Exchange
}

// DialFunc opens the TCP connection to a mail exchanger.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config configures a Prober.
type Config struct {
	// HeloDomain is announced in EHLO/HELO.
	HeloDomain string
	// MailFrom is the envelope sender. Empty sends the null sender "<>".
	MailFrom string
	// Port is the SMTP port. Default: 25
	Port string
	// Timeout bounds the whole session. Default: 10s
	Timeout time.Duration
	// ConnectTimeout bounds the TCP connect. Default: 5s
	ConnectTimeout time.Duration
	// CommandTimeout bounds each reply. Default: 5s
	CommandTimeout time.Duration
	// Dial is injectable for testing and proxying. Defaults to net.Dialer.DialContext.
	Dial DialFunc
}

// Prober runs probe sessions. It holds no per-session state and is safe
// for concurrent use.
type Prober struct {
	cfg Config
}

// New creates a Prober, filling in defaults for unset values.
func New(cfg Config) *Prober {
	if cfg.HeloDomain == "" {
		cfg.HeloDomain = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "25"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.Dial == nil {
		d := &net.Dialer{}
		cfg.Dial = d.DialContext
	}
	return &Prober{cfg: cfg}
}

// Probe runs one session against mxHost for rcpt.
func (p *Prober) Probe(ctx context.Context, mxHost, rcpt string) Result {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	deadline, _ := ctx.Deadline()

	dialCtx, cancelDial := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	conn, err := p.cfg.Dial(dialCtx, "tcp", net.JoinHostPort(mxHost, p.cfg.Port))
	cancelDial()
	if err != nil {
		return failure(ctx, StepConnect, err)
	}

	s := newSession(conn, deadline, p.cfg.CommandTimeout)

	// Cancellation or budget expiry unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	res := p.run(ctx, s, rcpt)

	stop()
	if s.greeted && !res.TimedOut && !res.Canceled {
		s.quit()
	}
	_ = conn.Close()

	res.Transcript = s.transcript
	return res
}

func (p *Prober) run(ctx context.Context, s *session, rcpt string) Result {
	code, msg, err := s.greeting()
	if err != nil {
		return failure(ctx, StepGreeting, err)
	}
	if code/100 != 2 {
		return Result{Outcome: OutcomeFailed, Step: StepGreeting, Code: code, Message: msg}
	}

	code, msg, err = s.command("EHLO %s", p.cfg.HeloDomain)
	if err != nil {
		return failure(ctx, StepHello, err)
	}
	// Servers that predate ESMTP answer EHLO with 500/502.
	if code/100 == 5 {
		code, msg, err = s.command("HELO %s", p.cfg.HeloDomain)
		if err != nil {
			return failure(ctx, StepHello, err)
		}
	}
	if code/100 != 2 {
		return Result{Outcome: OutcomeFailed, Step: StepHello, Code: code, Message: msg}
	}

	code, msg, err = s.command("MAIL FROM:<%s>", p.cfg.MailFrom)
	if err != nil {
		return failure(ctx, StepMailFrom, err)
	}
	if code/100 != 2 {
		return Result{Outcome: OutcomeFailed, Step: StepMailFrom, Code: code, Message: msg}
	}

	code, msg, err = s.command("RCPT TO:<%s>", rcpt)
	if err != nil {
		return failure(ctx, StepRcptTo, err)
	}

	res := Result{Step: StepRcptTo, Code: code, Message: msg}
	switch code / 100 {
	case 2:
		res.Outcome = OutcomeAccepted
	case 5:
		res.Outcome = OutcomeRejected
	default:
		res.Outcome = OutcomeAmbiguous
	}
	return res
}

// failure classifies a transport error at the given step. A connect that
// merely exceeded ConnectTimeout is a connection failure, not a timeout of
// the session budget.
func failure(ctx context.Context, step Step, err error) Result {
	res := Result{Outcome: OutcomeFailed, Step: step, Err: err}
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		res.Canceled = true
	case ctx.Err() != nil:
		res.TimedOut = true
	case step != StepConnect && isTimeout(err):
		res.TimedOut = true
	}
	return res
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
