// Package models provides data model definitions for the FlowMarine offline layer.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// ActionType identifies the kind of mutation an action carries.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// Valid reports whether the action type is one of the known kinds.
func (t ActionType) Valid() bool {
	switch t {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ActionStatus represents the lifecycle state of an offline action.
type ActionStatus string

const (
	StatusPending  ActionStatus = "pending"
	StatusSyncing  ActionStatus = "syncing"
	StatusSynced   ActionStatus = "synced"
	StatusFailed   ActionStatus = "failed"
	StatusConflict ActionStatus = "conflict"
)

// OfflineAction is a durable record of an intended mutation awaiting
// application to the shore-side API.
type OfflineAction struct {
	ID              UUID            `db:"id" json:"id"`
	Type            ActionType      `db:"action_type" json:"action_type"`
	Entity          string          `db:"entity" json:"entity"` // requisition, approval, delivery, ...
	Payload         json.RawMessage `db:"payload" json:"payload"`
	OwnerID         string          `db:"owner_id" json:"owner_id,omitempty"`
	ScopeID         string          `db:"scope_id" json:"scope_id,omitempty"` // vessel or site partition
	RetryCount      int             `db:"retry_count" json:"retry_count"`
	MaxRetries      int             `db:"max_retries" json:"max_retries"`
	Status          ActionStatus    `db:"status" json:"status"`
	ConflictPayload json.RawMessage `db:"conflict_payload" json:"conflict_payload,omitempty"`
	LastError       string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt       int64           `db:"created_at" json:"created_at"`
	UpdatedAt       int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for OfflineAction.
func (OfflineAction) TableName() string {
	return "offline_actions"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (a *OfflineAction) CreatedAtTime() time.Time {
	return time.UnixMilli(a.CreatedAt)
}

// Retryable reports whether the action still has retry budget.
func (a *OfflineAction) Retryable() bool {
	return a.RetryCount < a.MaxRetries
}

// NewActionInput is the caller-supplied description of an action to enqueue.
type NewActionInput struct {
	Type       ActionType      `json:"action_type"`
	Entity     string          `json:"entity"`
	Payload    json.RawMessage `json:"payload"`
	OwnerID    string          `json:"owner_id,omitempty"`
	ScopeID    string          `json:"scope_id,omitempty"`
	MaxRetries int             `json:"max_retries,omitempty"` // 0 means the engine default
}

// Validate checks the input for enqueue.
func (in *NewActionInput) Validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("invalid action type: %q", in.Type)
	}
	if in.Entity == "" {
		return fmt.Errorf("entity is required")
	}
	if len(in.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if in.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

// QueueStats is a read-only aggregate over the action store.
type QueueStats struct {
	Pending   int        `json:"pending"`
	Syncing   int        `json:"syncing"`
	Synced    int        `json:"synced"`
	Failed    int        `json:"failed"`
	Conflicts int        `json:"conflicts"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
}
