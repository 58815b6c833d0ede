package interfaces

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ValidationError indicates caller input that can only be fixed by the caller.
// It is always returned before any store write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RequiredError is a ValidationError for a missing field.
func RequiredError(field string) error {
	return &ValidationError{Field: field}
}

// OwnershipError indicates a cross-tenant access attempt: the resource exists
// but belongs to a different account. Handlers must treat it exactly like a
// missing resource to avoid leaking existence.
type OwnershipError struct {
	Resource string
	ID       string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("%s %s is not owned by the calling account", e.Resource, e.ID)
}

// EnsureOwnership returns an OwnershipError when ownerAccountID differs from
// callerAccountID.
func EnsureOwnership(ownerAccountID, callerAccountID, resource, id string) error {
	if ownerAccountID != callerAccountID {
		return &OwnershipError{Resource: resource, ID: id}
	}
	return nil
}

// DispatchError wraps a failure to hand a request to the TEE executor channel
// after the configured retries were exhausted. The request record stays
// persisted in pending state; callers may retry out of band.
type DispatchError struct {
	RequestID string
	Attempts  int
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch of request %s failed after %d attempt(s): %v", e.RequestID, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
