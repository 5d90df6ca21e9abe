package goSession

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when a required field is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized is returned for bad credentials and invalid, expired or revoked tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned when an e-mail address or phone number is already taken.
	ErrConflict = errors.New("conflict")
	// ErrNotFound is returned when no principal matches.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited is returned once a login or recovery budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidCode is returned when a recovery code is absent, expired, mismatched or
	// cannot be checked.
	ErrInvalidCode = errors.New("invalid or expired code")
	// ErrRecoveryUnavailable is returned when a recovery code cannot be issued.
	ErrRecoveryUnavailable = errors.New("recovery backend unavailable")
	// ErrDispatchFailed is returned when a recovery code could not be delivered.
	ErrDispatchFailed = errors.New("code dispatch failed")
	// ErrUpstreamCredential is returned when the principal has no usable external credential.
	ErrUpstreamCredential = errors.New("external credential unavailable")
	// ErrUpstreamUnavailable is returned for external API transport failures, 5xx
	// responses and undecodable payloads.
	ErrUpstreamUnavailable = errors.New("external service unavailable")
	// ErrPermissionRequired is returned when the external API refuses the action for
	// the account tier.
	ErrPermissionRequired = errors.New("external account lacks permission")
	// ErrNoActiveTarget is returned when a playback action has no active device.
	ErrNoActiveTarget = errors.New("no active playback device")
	// ErrEngineNotReady is returned by an Engine that was not produced by Builder.Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ConflictError names the unique field that collided.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	if e == nil || e.Field == "" {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s already in use", e.Field)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ErrorKind classifies any error returned by the Engine for transport mapping.
type ErrorKind string

const (
	KindInvalidInput        ErrorKind = "invalid_input"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindConflict            ErrorKind = "conflict"
	KindNotFound            ErrorKind = "not_found"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindPermissionRequired  ErrorKind = "permission_required"
	KindNoActiveTarget      ErrorKind = "no_active_target"
	KindDispatchFailed      ErrorKind = "dispatch_failed"
	KindRateLimited         ErrorKind = "rate_limited"
	KindInternal            ErrorKind = "internal"
)

// KindOf maps err to its ErrorKind. It returns "" for a nil error and KindInternal
// for anything it does not recognise.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCode):
		return KindUnauthorized
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrPermissionRequired):
		return KindPermissionRequired
	case errors.Is(err, ErrNoActiveTarget):
		return KindNoActiveTarget
	case errors.Is(err, ErrDispatchFailed):
		return KindDispatchFailed
	case errors.Is(err, ErrUpstreamCredential),
		errors.Is(err, ErrUpstreamUnavailable),
		errors.Is(err, ErrRecoveryUnavailable):
		return KindUpstreamUnavailable
	default:
		return KindInternal
	}
}
