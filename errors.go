package sncloud

import (
	"errors"
	"fmt"
)

// Sentinel errors for failure classification.
// Use errors.Is to check; errors.As extracts the typed errors below.
var (
	// ErrAuthentication marks any login or verification failure.
	ErrAuthentication = errors.New("sncloud: authentication failed")

	// ErrVerificationRequired marks logins the service suspended pending an
	// emailed one-time code. It is a subtype of ErrAuthentication:
	// errors.Is(err, ErrAuthentication) also holds.
	ErrVerificationRequired = errors.New("sncloud: email verification required")

	// ErrFolder marks folder listing and creation failures.
	ErrFolder = errors.New("sncloud: folder operation failed")

	// ErrNotAuthenticated is returned by operations that require a session.
	ErrNotAuthenticated = errors.New("sncloud: not authenticated; call Login first")
)

// AuthenticationError is a login or verification rejection. Code is the
// service's error code when one was given.
type AuthenticationError struct {
	Code    string
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("sncloud: authentication failed: %s (%s)", e.Message, e.Code)
	}

	return "sncloud: authentication failed: " + e.Message
}

func (e *AuthenticationError) Unwrap() error {
	return ErrAuthentication
}

// VerificationRequiredError is returned by Login when the service demands
// email verification. Context must be round-tripped to Verify along with
// the code the account holder received. This is an expected branch of a
// normal login, not a terminal failure.
type VerificationRequiredError struct {
	Message string
	Context VerificationContext
}

func (e *VerificationRequiredError) Error() string {
	return "sncloud: " + e.Message
}

func (e *VerificationRequiredError) Unwrap() []error {
	return []error{ErrVerificationRequired, ErrAuthentication}
}

// FolderError wraps a failed folder listing or creation with the operation
// and cloud path for context.
type FolderError struct {
	Op   string // "list" or "mkdir"
	Path string
	Err  error
}

func (e *FolderError) Error() string {
	return fmt.Sprintf("sncloud: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FolderError) Unwrap() []error {
	return []error{ErrFolder, e.Err}
}
