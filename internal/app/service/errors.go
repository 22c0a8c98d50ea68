package service

import "errors"

var (
	// ErrInvalidInput signals a malformed request (empty ids, non-positive budgets).
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound signals that the addressed resource or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateResource signals a register call for an id that is already present.
	ErrDuplicateResource = errors.New("resource already registered")
	// ErrResourceUnavailable signals an issue request for a missing or inactive resource.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrProviderUnavailable signals that the upstream provider could not mint a token.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrLinkNotRedeemable signals a known link that is inactive, expired or used up.
	ErrLinkNotRedeemable = errors.New("link expired or already used")
	// ErrDuplicateRedemption signals a redemption event that was already recorded.
	ErrDuplicateRedemption = errors.New("redemption already recorded")
	// ErrUnknownToken signals a token that was never issued (or has been purged).
	ErrUnknownToken = errors.New("unknown link token")
)
