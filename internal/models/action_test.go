package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActionTypeValid(t *testing.T) {
	require.True(t, ActionCreate.Valid())
	require.True(t, ActionUpdate.Valid())
	require.True(t, ActionDelete.Valid())
	require.False(t, ActionType("upsert").Valid())
	require.False(t, ActionType("").Valid())
}

func TestNewActionInputValidate(t *testing.T) {
	valid := NewActionInput{
		Type:    ActionCreate,
		Entity:  "requisition",
		Payload: json.RawMessage(`{"qty":5}`),
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name  string
		input NewActionInput
	}{
		{"unknown type", NewActionInput{Type: "upsert", Entity: "requisition", Payload: json.RawMessage(`{}`)}},
		{"missing entity", NewActionInput{Type: ActionCreate, Payload: json.RawMessage(`{}`)}},
		{"missing payload", NewActionInput{Type: ActionCreate, Entity: "requisition"}},
		{"negative retries", NewActionInput{Type: ActionCreate, Entity: "requisition", Payload: json.RawMessage(`{}`), MaxRetries: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.input.Validate())
		})
	}
}

func TestActionRetryable(t *testing.T) {
	action := &OfflineAction{RetryCount: 0, MaxRetries: 3}
	require.True(t, action.Retryable())

	action.RetryCount = 3
	require.False(t, action.Retryable())
}

func TestUUIDScan(t *testing.T) {
	var u UUID
	require.NoError(t, u.Scan("a9f4c3f2-91ab-4c7e-8f2d-0123456789ab"))
	require.Equal(t, "a9f4c3f2-91ab-4c7e-8f2d-0123456789ab", u.String())

	require.NoError(t, u.Scan([]byte("b9f4c3f2-91ab-4c7e-8f2d-0123456789ab")))
	require.Equal(t, "b9f4c3f2-91ab-4c7e-8f2d-0123456789ab", u.String())

	require.NoError(t, u.Scan(nil))
	require.Empty(t, u.String())

	require.Error(t, u.Scan(42))
}
