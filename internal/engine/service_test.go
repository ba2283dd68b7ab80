package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowmarine/offline/internal/apperr"
	"github.com/flowmarine/offline/internal/logging"
	"github.com/flowmarine/offline/internal/models"
	"github.com/flowmarine/offline/internal/network"
	"github.com/flowmarine/offline/internal/store"
)

func newTestService(t *testing.T, applier *fakeApplier, online bool) (*Service, *store.ActionStore) {
	t.Helper()

	st := newEngineStore(t)
	monitor := network.NewManualMonitor(online, logging.Nop())
	svc := NewService(st, applier, monitor, Options{Interval: time.Hour}, logging.Nop())
	return svc, st
}

func TestEnqueueAppliesDefaultMaxRetries(t *testing.T) {
	svc, st := newTestService(t, &fakeApplier{}, false)

	id, err := svc.Enqueue(models.NewActionInput{
		Type:    models.ActionCreate,
		Entity:  "requisition",
		Payload: json.RawMessage(`{"qty":5}`),
	})
	require.NoError(t, err)

	got, err := st.Get(id.String())
	require.NoError(t, err)
	require.Equal(t, 3, got.MaxRetries)
}

func TestEnqueueHonorsExplicitMaxRetries(t *testing.T) {
	svc, st := newTestService(t, &fakeApplier{}, false)

	id, err := svc.Enqueue(models.NewActionInput{
		Type:       models.ActionUpdate,
		Entity:     "approval",
		Payload:    json.RawMessage(`{}`),
		MaxRetries: 5,
	})
	require.NoError(t, err)

	got, err := st.Get(id.String())
	require.NoError(t, err)
	require.Equal(t, 5, got.MaxRetries)
}

func TestEnqueueValidatesInput(t *testing.T) {
	svc, _ := newTestService(t, &fakeApplier{}, false)

	_, err := svc.Enqueue(models.NewActionInput{
		Type:    models.ActionType("upsert"),
		Entity:  "requisition",
		Payload: json.RawMessage(`{}`),
	})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.CodeInvalid))

	_, err = svc.Enqueue(models.NewActionInput{
		Type:    models.ActionCreate,
		Payload: json.RawMessage(`{}`),
	})
	require.Error(t, err)

	_, err = svc.Enqueue(models.NewActionInput{
		Type:   models.ActionCreate,
		Entity: "requisition",
	})
	require.Error(t, err)
}

func TestEnqueueWhileOnlineTriggersSync(t *testing.T) {
	applier := &fakeApplier{}
	svc, st := newTestService(t, applier, true)

	svc.Start()
	defer svc.Stop()

	id, err := svc.Enqueue(models.NewActionInput{
		Type:    models.ActionCreate,
		Entity:  "requisition",
		Payload: json.RawMessage(`{"qty":5}`),
	})
	require.NoError(t, err)

	require.Eventually(t, actionSynced(st, id), time.Second, 5*time.Millisecond)
}

func TestForceSyncReturnsAggregateResult(t *testing.T) {
	applier := &fakeApplier{fn: func(action *models.OfflineAction) error {
		if action.Entity == "approval" {
			return errors.New("transient")
		}
		return nil
	}}
	svc, _ := newTestService(t, applier, true)

	_, err := svc.Enqueue(models.NewActionInput{
		Type: models.ActionCreate, Entity: "requisition", Payload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	_, err = svc.Enqueue(models.NewActionInput{
		Type: models.ActionUpdate, Entity: "approval", Payload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	result, err := svc.ForceSync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Synced)
	require.Equal(t, 1, result.Retried)
}

func TestPendingAndConflictListings(t *testing.T) {
	svc, st := newTestService(t, &fakeApplier{}, false)

	pendingID, err := svc.Enqueue(models.NewActionInput{
		Type: models.ActionCreate, Entity: "requisition", Payload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	conflictID, err := svc.Enqueue(models.NewActionInput{
		Type: models.ActionUpdate, Entity: "approval", Payload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	require.NoError(t, st.SetStatus(conflictID.String(), models.StatusConflict,
		json.RawMessage(`{"remote":true}`), ""))

	pending, err := svc.PendingActions("")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, pendingID, pending[0].ID)

	conflicts, err := svc.Conflicts("")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, conflictID, conflicts[0].ID)
}

func TestResolveConflictThroughService(t *testing.T) {
	svc, st := newTestService(t, &fakeApplier{}, false)

	id, err := svc.Enqueue(models.NewActionInput{
		Type: models.ActionUpdate, Entity: "requisition", Payload: json.RawMessage(`{"qty":5}`),
	})
	require.NoError(t, err)
	require.NoError(t, st.SetStatus(id.String(), models.StatusConflict,
		json.RawMessage(`{"qty":9}`), ""))

	require.NoError(t, svc.ResolveConflict(id.String(), StrategyRemote, nil))

	got, err := st.Get(id.String())
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, got.Status)
	require.JSONEq(t, `{"qty":9}`, string(got.Payload))
}

func TestRequeueFailedAllowsFurtherAttempts(t *testing.T) {
	attempt := 0
	applier := &fakeApplier{fn: func(action *models.OfflineAction) error {
		attempt++
		if attempt <= 1 {
			return errors.New("transient")
		}
		return nil
	}}
	svc, st := newTestService(t, applier, true)

	id, err := svc.Enqueue(models.NewActionInput{
		Type: models.ActionCreate, Entity: "requisition",
		Payload: json.RawMessage(`{}`), MaxRetries: 1,
	})
	require.NoError(t, err)

	_, err = svc.ForceSync(context.Background())
	require.NoError(t, err)

	got, err := st.Get(id.String())
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)

	// Not failed actions cannot be requeued.
	require.Error(t, svc.RequeueFailed("00000000-0000-4000-8000-000000000000"))

	require.NoError(t, svc.RequeueFailed(id.String()))

	_, err = svc.ForceSync(context.Background())
	require.NoError(t, err)

	got, err = st.Get(id.String())
	require.NoError(t, err)
	require.Equal(t, models.StatusSynced, got.Status)
}

func TestServiceStatsAndPurge(t *testing.T) {
	svc, st := newTestService(t, &fakeApplier{}, true)

	id, err := svc.Enqueue(models.NewActionInput{
		Type: models.ActionCreate, Entity: "requisition", Payload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	_, err = svc.ForceSync(context.Background())
	require.NoError(t, err)

	stats, err := svc.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.Synced)
	require.NotNil(t, stats.LastSync)

	// Freshly synced actions survive the default retention window.
	purged, err := svc.PurgeSynced(7 * 24 * time.Hour)
	require.NoError(t, err)
	require.Zero(t, purged)

	_, err = st.Get(id.String())
	require.NoError(t, err)
}
