// Package check contains the verification stages for emailverify:
// syntax, MX resolution, the SMTP mailbox probe and the heuristic
// override applied to its verdict.
// These types can be used directly, but the recommended approach is
// to use the fluent builder API from the github.com/optimode/emailverify package.
package check
