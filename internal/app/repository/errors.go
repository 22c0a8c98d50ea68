package repository

import "errors"

var (
	// ErrResourceNotFound signals that the requested resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrDuplicateResource signals that a resource with the same id is already registered.
	ErrDuplicateResource = errors.New("resource already exists")
	// ErrLinkNotFound signals that no link carries the requested token.
	ErrLinkNotFound = errors.New("link not found")
	// ErrLinkNotRedeemable signals that the link exists but is inactive, expired or used up.
	ErrLinkNotRedeemable = errors.New("link not redeemable")
	// ErrDuplicateRedemption signals a redemption key that has already been recorded.
	ErrDuplicateRedemption = errors.New("redemption already recorded")
	// ErrUserNotFound signals that the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")
)
