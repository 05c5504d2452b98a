// Package emailverify decides whether an email address is well-formed,
// whether its domain can receive mail, and whether the mailbox plausibly
// exists, without sending the recipient anything.
//
// Every verification runs three stages in order: syntax, MX lookup and an
// SMTP RCPT TO probe. A failing stage short-circuits the rest, which are
// reported as "Not checked".
//
// Basic usage:
//
//	result, err := emailverify.New().Verify(ctx, "user@example.com")
//
// Tuned pipeline:
//
//	result, err := emailverify.New().
//	    WithDNS(emailverify.DNSOptions{Timeout: 3 * time.Second}).
//	    WithSMTP(emailverify.SMTPOptions{
//	        HeloDomain: "verify.myapp.com",
//	        MailFrom:   "bounce@myapp.com",
//	        Strict:     true,
//	    }).
//	    WithLogger(logger).
//	    Verify(ctx, "user@example.com")
package emailverify

import (
	"github.com/optimode/emailverify/check"
	"github.com/optimode/emailverify/types"
)

// CheckResult is a re-export from the types package so that consumers
// don't need to import the types package directly.
type CheckResult = types.CheckResult

// CheckLevel is a re-export.
type CheckLevel = types.CheckLevel

// Level constants re-exported.
const (
	LevelSyntax = types.LevelSyntax
	LevelDNS    = types.LevelDNS
	LevelSMTP   = types.LevelSMTP
)

// Resolver is the DNS backend used by the MX stage. *net.Resolver
// implements it.
type Resolver = check.Resolver
