package emailverify

import "errors"

var (
	// ErrInvalidOptions is returned by Verify when the Verifier was
	// configured with unusable options. The wrapped error names the option.
	ErrInvalidOptions = errors.New("emailverify: invalid options")

	// ErrVerificationFault is returned together with an ErrorResult when
	// a verification hit an unexpected internal fault.
	ErrVerificationFault = errors.New("emailverify: verification fault")
)
