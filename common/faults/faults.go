package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a pipeline failure. The orchestrator decides retry
// behavior from the kind alone, never from error message text.
type Kind string

const (
	// KindAuthentication means a webhook signature did not verify.
	KindAuthentication Kind = "authentication"

	// KindUnknownProject means a notification referenced an unmapped repository.
	KindUnknownProject Kind = "unknown_project"

	// KindDiffUnavailable means the provider cannot produce the requested
	// commit range (force push, rewritten history). Fatal, never retried.
	KindDiffUnavailable Kind = "diff_unavailable"

	// KindRateLimited means a collaborator returned a rate-limit response.
	KindRateLimited Kind = "rate_limited"

	// KindTimeout means a call exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindTransient covers connection resets and other transient network errors.
	KindTransient Kind = "transient_network"

	// KindAuthFailed means a collaborator rejected our credential.
	// Fatal and surfaced prominently: it requires operator action.
	KindAuthFailed Kind = "auth_failed"

	// KindMalformedResponse means a generation call returned output the
	// caller could not parse. Retried once per call site, then that unit
	// of work is skipped where partial progress is acceptable.
	KindMalformedResponse Kind = "malformed_response"

	// KindCancelled means an operator cancelled the job.
	KindCancelled Kind = "cancelled"

	// KindSuperseded means a newer job for the same project replaced this one.
	KindSuperseded Kind = "superseded"

	// KindInternal is the catch-all for programming or storage errors.
	KindInternal Kind = "internal"
)

// Fault is an error with a classification kind and the operation that failed.
type Fault struct {
	Kind Kind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// New creates a fault with no underlying cause
func New(kind Kind, op string) *Fault {
	return &Fault{Kind: kind, Op: op}
}

// Wrap creates a fault wrapping an underlying cause
func Wrap(kind Kind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

// Retryable reports whether the kind is worth another attempt
// within the stage retry budget.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindTransient:
		return true
	}
	return false
}

// KindOf extracts the kind from an error chain. Non-fault errors are
// classified as transient when they look like network trouble, timeout
// when the context deadline fired, internal otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransient
	}

	return KindInternal
}

// Retryable reports whether an error should be retried
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

// Is reports whether the error chain carries the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromStatusCode maps an HTTP status from a collaborator into a kind.
// Used by both the source-control client and the backend providers.
func FromStatusCode(op string, status int, err error) *Fault {
	switch {
	case status == 401 || status == 403:
		return Wrap(KindAuthFailed, op, err)
	case status == 429:
		return Wrap(KindRateLimited, op, err)
	case status == 408 || status == 504:
		return Wrap(KindTimeout, op, err)
	case status >= 500:
		return Wrap(KindTransient, op, err)
	default:
		return Wrap(KindInternal, op, err)
	}
}
