// Package probe implements the typed adapters over external systems: EC2
// instances, EKS-style managed node pools, cluster workloads, pods,
// ingresses/configmaps, and a plain HTTP HEAD check. Every adapter
// classifies errors into the same small enumeration so callers (the
// orchestrator, the status aggregator, discovery) can apply one uniform
// error policy regardless of which external system failed.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Kind classifies a probe error. This is a classification, not a Go error
// type hierarchy; adapters wrap the underlying error and attach a Kind.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindTransient        Kind = "transient"
	KindTimeout          Kind = "timeout"
	KindFatal            Kind = "fatal"
)

// Error wraps an underlying error with a Kind classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with the given classification and operation name. A
// nil err returns nil.
func NewError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindFatal for errors
// that were never classified by an adapter.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindFatal
}

// IsNotFound reports whether err is classified NotFound.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsTransient reports whether err is classified Transient.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsTimeout reports whether err is classified Timeout.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsPermissionDenied reports whether err is classified PermissionDenied.
func IsPermissionDenied(err error) bool { return KindOf(err) == KindPermissionDenied }

// retryTransient runs call up to 3 times with exponential backoff when it
// returns a Transient-classified error, and returns immediately on any
// other outcome.
func retryTransient[T any](ctx context.Context, call func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond

	return backoff.Retry(ctx, func() (T, error) {
		v, err := call()
		if err != nil && IsTransient(err) {
			return v, err
		}
		if err != nil {
			return v, backoff.Permanent(err)
		}
		return v, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(3))
}
