// Package remote defines the boundary to the shore-side API that applies
// offline actions, and classifies its outcomes for the sync executor.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flowmarine/offline/internal/models"
)

// Applier applies a single offline action against the remote system.
//
// A nil return means the remote accepted the action. A *ConflictError means
// the remote's state diverged from what the action assumed and carries the
// remote's current representation. A *RejectedError means the remote refused
// the action permanently. Every other error is treated as transient.
type Applier interface {
	Apply(ctx context.Context, action *models.OfflineAction) error
}

// ConflictError reports that the targeted resource diverged remotely.
type ConflictError struct {
	// Remote is the remote's current representation of the resource.
	Remote json.RawMessage
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return "remote reports conflicting state"
}

// RejectedError reports a permanent remote rejection. Retrying an action
// that was rejected this way cannot succeed.
type RejectedError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("remote rejected action (status %d): %s", e.StatusCode, e.Body)
}

// AsConflict extracts a ConflictError from err, if present.
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

// Retryable reports whether a failed apply attempt may succeed later.
// Conflicts and permanent rejections are not retryable; everything else
// (timeouts, transport failures, server errors) is.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return false
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return false
	}
	return true
}
