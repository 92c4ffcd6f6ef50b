// Package bomerr classifies errors into the kinds the workflow and HTTP
// surface route on. Kinds are sentinel values wrapped with errors.Is/As,
// matching the codebase's fmt.Errorf("...: %w", err) convention rather than a
// bespoke error-code framework.
package bomerr

import "errors"

// Kind is a contract, not a type hierarchy: classification is done with
// errors.Is against these sentinels.
type Kind error

var (
	Validation         Kind = errors.New("validation")
	Unauthenticated    Kind = errors.New("unauthenticated")
	Forbidden          Kind = errors.New("forbidden")
	NotFound           Kind = errors.New("not-found")
	Conflict           Kind = errors.New("conflict")
	Transient          Kind = errors.New("transient")
	RateLimited        Kind = errors.New("rate-limited")
	PermanentDownstream Kind = errors.New("permanent-downstream")
	CoordinatorFatal   Kind = errors.New("coordinator-fatal")
)

// Wrap attaches a kind to err so errors.Is(wrapped, kind) succeeds while
// preserving the original message and chain.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

// New creates a classified error from a message.
func New(kind Kind, msg string) error {
	return &classified{kind: kind, err: errors.New(msg)}
}

type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.kind.Error() + ": " + c.err.Error() }
func (c *classified) Unwrap() error { return c.err }
func (c *classified) Is(target error) bool {
	return target == c.kind
}

// Is reports whether err was classified (directly or via wrapping) as kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}

// IsRetryable reports whether the workflow may retry the operation that
// produced err.
func IsRetryable(err error) bool {
	return Is(err, Transient) || Is(err, RateLimited)
}
