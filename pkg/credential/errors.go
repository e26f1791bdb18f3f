package credential

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/studio-engine/pkg/apierror"
)

// Common errors returned by the pool and its stores.
var (
	// ErrAllCredentialsFailed is returned when no candidate credential could
	// serve the call, including when there were no candidates at all.
	ErrAllCredentialsFailed = errors.New("all credentials failed")

	// ErrPrimaryUnusable is returned when the pinned credential is missing,
	// invalid or exhausted. The caller must switch to rotation explicitly.
	ErrPrimaryUnusable = errors.New("primary credential unusable")

	// ErrNotFound is returned for unknown credential ids.
	ErrNotFound = errors.New("credential not found")

	// ErrSystemCredential is returned when removing the system credential.
	ErrSystemCredential = errors.New("system credential cannot be removed")
)

// Kind is the outcome classification of a failed pool call.
type Kind string

const (
	KindAuth            Kind = "auth"
	KindSafety          Kind = "safety"
	KindQuota           Kind = "quota"
	KindTransient       Kind = "transient"
	KindAllFailed       Kind = "all_failed"
	KindPrimaryUnusable Kind = "primary_unusable"
	KindCancelled       Kind = "cancelled"
)

// Error is returned by Pool.Do and Call for every failure.
type Error struct {
	Kind         Kind
	CredentialID string
	Err          error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.CredentialID != "" {
		return fmt.Sprintf("credential %s: %s: %v", e.CredentialID, e.Kind, e.Err)
	}
	return fmt.Sprintf("credential pool: %s: %v", e.Kind, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the pool outcome kind of err, or "" if err did not come
// from the pool.
func KindOf(err error) Kind {
	var poolErr *Error
	if errors.As(err, &poolErr) {
		return poolErr.Kind
	}
	return ""
}

// IsAllFailed reports whether err means no credential could serve the call.
func IsAllFailed(err error) bool {
	return KindOf(err) == KindAllFailed
}

// IsSafety reports whether err is a content-safety rejection.
func IsSafety(err error) bool {
	return KindOf(err) == KindSafety
}

// IsPrimaryUnusable reports whether err means the pinned credential could not
// be tried at all.
func IsPrimaryUnusable(err error) bool {
	return KindOf(err) == KindPrimaryUnusable
}

// kindForClass maps a remote failure class onto the pool outcome kind used
// when a pinned credential fails.
func kindForClass(class apierror.ErrorClass) Kind {
	switch class {
	case apierror.ClassAuth:
		return KindAuth
	case apierror.ClassSafety:
		return KindSafety
	case apierror.ClassQuota:
		return KindQuota
	default:
		return KindTransient
	}
}
