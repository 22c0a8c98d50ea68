// Package provider talks to the upstream service that physically mints and revokes
// invite tokens.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gateway mints and revokes access tokens upstream. Implementations hold no record of
// what they issued; the link store is the source of truth.
type Gateway interface {
	// Mint creates a token scoped to the resource that admits at most budget joins.
	Mint(ctx context.Context, req MintRequest) (string, error)
	// Revoke invalidates a token. A token that is already invalid or unknown upstream
	// is not an error.
	Revoke(ctx context.Context, resourceID, token string) error
}

// MintRequest carries the parameters of a mint call.
type MintRequest struct {
	ResourceID  string
	UsageBudget int
	// ExpiresAt is passed upstream as a hint; the link store enforces the real window.
	ExpiresAt time.Time
	Name      string
}

// Kind classifies provider failures.
type Kind int

const (
	KindTransient Kind = iota
	KindRateLimited
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind       Kind
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %s (retry after %s): %v", e.Kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrUnknownToken is returned by gateways that report an already-gone token
// explicitly. Callers treat it as a successful revoke.
var ErrUnknownToken = errors.New("token unknown or already revoked")

// Transient wraps err as a retryable failure.
func Transient(err error) error { return &Error{Kind: KindTransient, Err: err} }

// RateLimited wraps err as an upstream rate-limit rejection.
func RateLimited(retryAfter time.Duration, err error) error {
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}

// Permanent wraps err as a failure that retrying will not fix.
func Permanent(err error) error { return &Error{Kind: KindPermanent, Err: err} }

// IsPermanent reports whether err is a classified permanent failure.
func IsPermanent(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindPermanent
}

// RetryAfter returns the upstream-requested delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindRateLimited && pe.RetryAfter > 0 {
		return pe.RetryAfter, true
	}
	return 0, false
}
