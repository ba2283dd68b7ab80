package engine

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/flowmarine/offline/internal/apperr"
	"github.com/flowmarine/offline/internal/models"
	"github.com/flowmarine/offline/internal/network"
	"github.com/flowmarine/offline/internal/store"
)

// Strategy selects how a conflicted action's payload is rewritten before
// it re-enters the queue.
type Strategy string

const (
	// StrategyLocal keeps the action's existing payload unchanged.
	StrategyLocal Strategy = "local"

	// StrategyRemote replaces the payload with the stored remote version.
	StrategyRemote Strategy = "remote"

	// StrategyMerge replaces the payload with a caller-supplied merge.
	StrategyMerge Strategy = "merge"
)

// Resolver applies a caller decision to a conflicted action and re-queues
// it for the next sync run.
type Resolver struct {
	store   *store.ActionStore
	monitor network.Monitor
	trigger func()
	logger  *zap.Logger
}

// NewResolver creates a Resolver. trigger is invoked (without blocking)
// after a successful resolution while the monitor reports online; pass a
// no-op when no proactive sync is wanted.
func NewResolver(st *store.ActionStore, monitor network.Monitor, trigger func(), logger *zap.Logger) *Resolver {
	if trigger == nil {
		trigger = func() {}
	}
	return &Resolver{store: st, monitor: monitor, trigger: trigger, logger: logger}
}

// Resolve rewrites a conflicted action per the chosen strategy, clears its
// conflict payload, resets the retry count and returns it to pending.
// Fails with NOT_A_CONFLICT when the action is not currently conflicted.
func (r *Resolver) Resolve(id string, strategy Strategy, mergedPayload json.RawMessage) error {
	action, err := r.store.Get(id)
	if err != nil {
		return err
	}
	if action.Status != models.StatusConflict {
		return apperr.New(apperr.CodeNotConflict,
			fmt.Sprintf("action %s is %s, not in conflict", id, action.Status))
	}

	payload, err := resolvedPayload(action, strategy, mergedPayload)
	if err != nil {
		return err
	}

	updated, err := r.store.Resolve(id, payload)
	if err != nil {
		return err
	}
	if !updated {
		// The action left conflict between the read and the update.
		return apperr.New(apperr.CodeNotConflict,
			fmt.Sprintf("action %s is no longer in conflict", id))
	}

	r.logger.Info("conflict resolved",
		zap.String("action_id", id),
		zap.String("entity", action.Entity),
		zap.String("strategy", string(strategy)))

	if r.monitor.IsOnline() {
		r.trigger()
	}

	return nil
}

func resolvedPayload(action *models.OfflineAction, strategy Strategy, merged json.RawMessage) (json.RawMessage, error) {
	switch strategy {
	case StrategyLocal:
		return action.Payload, nil
	case StrategyRemote:
		if len(action.ConflictPayload) == 0 {
			return nil, apperr.New(apperr.CodeInternal,
				fmt.Sprintf("conflicted action %s has no conflict payload", action.ID))
		}
		return action.ConflictPayload, nil
	case StrategyMerge:
		if len(merged) == 0 {
			return nil, apperr.New(apperr.CodeInvalid, "merge strategy requires a merged payload")
		}
		return merged, nil
	default:
		return nil, apperr.New(apperr.CodeInvalid, fmt.Sprintf("unknown strategy: %q", strategy))
	}
}
