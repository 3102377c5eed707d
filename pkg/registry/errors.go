package registry

import "errors"

// ErrNotFound is returned by Get when no item exists at the given key.
var ErrNotFound = errors.New("registry: item not found")

// ErrConditionFailed is returned by Put/Delete when the supplied condition
// does not hold. It is distinct from ErrNotFound: a condition can fail
// either because the item is absent when presence was required, or because
// an existing item's version does not match.
var ErrConditionFailed = errors.New("registry: condition failed")
