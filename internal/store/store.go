package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flowmarine/offline/internal/apperr"
	"github.com/flowmarine/offline/internal/models"
	"github.com/flowmarine/offline/internal/uuid"
)

const actionColumns = `id, action_type, entity, payload, owner_id, scope_id,
	retry_count, max_retries, status, conflict_payload, last_error, created_at, updated_at`

// metaLastSync is the sync_meta key holding the last sync completion time.
const metaLastSync = "last_sync_at"

// ActionStore provides durable CRUD operations over offline actions.
// All methods are safe for concurrent use.
type ActionStore struct {
	db  *sql.DB
	now func() time.Time

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and reused afterwards.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewActionStore creates an ActionStore over an open database.
func NewActionStore(db *sql.DB) *ActionStore {
	return &ActionStore{db: db, now: time.Now}
}

// SetClock overrides the store's time source. Intended for tests.
func (s *ActionStore) SetClock(now func() time.Time) {
	s.now = now
}

// prepareStmt gets or creates a prepared statement from the cache.
func (s *ActionStore) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *ActionStore) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// Enqueue persists a new action with status pending and retry count zero.
// The ID and timestamps are assigned here.
func (s *ActionStore) Enqueue(action *models.OfflineAction) error {
	now := s.now().UnixMilli()
	action.ID = models.UUID(uuid.New())
	action.RetryCount = 0
	action.Status = models.StatusPending
	action.ConflictPayload = nil
	action.CreatedAt = now
	action.UpdatedAt = now

	query := `
	INSERT INTO offline_actions (id, action_type, entity, payload, owner_id, scope_id,
		retry_count, max_retries, status, conflict_payload, last_error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, '', ?, ?)
	`
	_, err := s.db.Exec(query, action.ID, action.Type, action.Entity, []byte(action.Payload),
		action.OwnerID, action.ScopeID, action.RetryCount, action.MaxRetries, action.Status,
		action.CreatedAt, action.UpdatedAt)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorage, "failed to enqueue action", err)
	}
	return nil
}

// Get retrieves an action by ID.
func (s *ActionStore) Get(id string) (*models.OfflineAction, error) {
	query := `SELECT ` + actionColumns + ` FROM offline_actions WHERE id = ?`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, "failed to get action", err)
	}

	action, err := scanAction(stmt.QueryRow(id))
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("action not found: %s", id))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, "failed to get action", err)
	}
	return action, nil
}

// ListActionable returns actions the executor may attempt: pending actions
// plus failed actions that still have retry budget, oldest first.
func (s *ActionStore) ListActionable() ([]*models.OfflineAction, error) {
	query := `
	SELECT ` + actionColumns + ` FROM offline_actions
	WHERE status = 'pending' OR (status = 'failed' AND retry_count < max_retries)
	ORDER BY created_at ASC, seq ASC
	`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, "failed to list actionable", err)
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, "failed to list actionable", err)
	}
	defer rows.Close()

	return collectActions(rows)
}

// ListByStatus returns actions with the given status, oldest first.
// An empty ownerID matches all owners.
func (s *ActionStore) ListByStatus(status models.ActionStatus, ownerID string) ([]*models.OfflineAction, error) {
	base := `SELECT ` + actionColumns + ` FROM offline_actions WHERE status = ?`
	order := ` ORDER BY created_at ASC, seq ASC`

	var query string
	var args []interface{}
	if ownerID != "" {
		query = base + ` AND owner_id = ?` + order
		args = []interface{}{status, ownerID}
	} else {
		query = base + order
		args = []interface{}{status}
	}

	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, "failed to list actions", err)
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, "failed to list actions", err)
	}
	defer rows.Close()

	return collectActions(rows)
}

// SetStatus atomically updates a single action's status. The conflict
// payload is stored when transitioning into conflict and cleared on every
// other transition. lastError records the most recent remote failure.
func (s *ActionStore) SetStatus(id string, status models.ActionStatus, conflictPayload json.RawMessage, lastError string) error {
	if status == models.StatusConflict && len(conflictPayload) == 0 {
		return apperr.New(apperr.CodeInvalid, "conflict status requires a conflict payload")
	}
	if status != models.StatusConflict {
		conflictPayload = nil
	}

	query := `
	UPDATE offline_actions
	SET status = ?, conflict_payload = ?, last_error = ?, updated_at = ?
	WHERE id = ?
	`
	result, err := s.db.Exec(query, status, payloadArg(conflictPayload), lastError, s.now().UnixMilli(), id)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorage, "failed to update status", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("action not found: %s", id))
	}
	return nil
}

// IncrementRetry atomically records a retry attempt and returns the action
// to pending so a subsequent sync run picks it up again.
func (s *ActionStore) IncrementRetry(id string, newCount int, lastError string) error {
	query := `
	UPDATE offline_actions
	SET retry_count = ?, status = 'pending', last_error = ?, updated_at = ?
	WHERE id = ? AND retry_count < max_retries
	`
	result, err := s.db.Exec(query, newCount, lastError, s.now().UnixMilli(), id)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorage, "failed to increment retry", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("action not found or retry budget exhausted: %s", id))
	}
	return nil
}

// RecoverInterrupted returns actions stranded in syncing to pending.
// A syncing row at rest means the process died mid-run; call this once at
// startup before any sync run. Returns the number of recovered actions.
func (s *ActionStore) RecoverInterrupted() (int64, error) {
	query := `
	UPDATE offline_actions
	SET status = 'pending', updated_at = ?
	WHERE status = 'syncing'
	`
	result, err := s.db.Exec(query, s.now().UnixMilli())
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeStorage, "failed to recover interrupted actions", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeStorage, "failed to recover interrupted actions", err)
	}
	return rows, nil
}

// Reject marks an action permanently failed after the remote refused it.
// The retry count is raised to the ceiling in the same update so the
// action leaves the actionable set until an explicit requeue.
func (s *ActionStore) Reject(id string, lastError string) error {
	query := `
	UPDATE offline_actions
	SET retry_count = max_retries, status = 'failed', last_error = ?, updated_at = ?
	WHERE id = ?
	`
	result, err := s.db.Exec(query, lastError, s.now().UnixMilli(), id)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorage, "failed to reject action", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("action not found: %s", id))
	}
	return nil
}

// FailWithRetry records the attempt that exhausted the retry budget:
// the final retry count and the failed status land in one atomic update.
func (s *ActionStore) FailWithRetry(id string, newCount int, lastError string) error {
	query := `
	UPDATE offline_actions
	SET retry_count = ?, status = 'failed', last_error = ?, updated_at = ?
	WHERE id = ?
	`
	result, err := s.db.Exec(query, newCount, lastError, s.now().UnixMilli(), id)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorage, "failed to mark action failed", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("action not found: %s", id))
	}
	return nil
}

// Resolve atomically replaces the payload of a conflicted action, clears
// the conflict payload, resets the retry count, and re-enters pending.
// Returns false if the action is not currently in conflict.
func (s *ActionStore) Resolve(id string, payload json.RawMessage) (bool, error) {
	query := `
	UPDATE offline_actions
	SET payload = ?, conflict_payload = NULL, retry_count = 0, status = 'pending', last_error = '', updated_at = ?
	WHERE id = ? AND status = 'conflict'
	`
	result, err := s.db.Exec(query, []byte(payload), s.now().UnixMilli(), id)
	if err != nil {
		return false, apperr.Wrap(apperr.CodeStorage, "failed to resolve action", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// Requeue resets a terminally failed action to pending with a fresh retry
// budget. Returns false if the action is not currently failed.
func (s *ActionStore) Requeue(id string) (bool, error) {
	query := `
	UPDATE offline_actions
	SET retry_count = 0, status = 'pending', last_error = '', updated_at = ?
	WHERE id = ? AND status = 'failed'
	`
	result, err := s.db.Exec(query, s.now().UnixMilli(), id)
	if err != nil {
		return false, apperr.Wrap(apperr.CodeStorage, "failed to requeue action", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// PurgeSynced deletes synced actions older than the given age. Other
// statuses are never touched. Returns the number of deleted rows.
func (s *ActionStore) PurgeSynced(olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	result, err := s.db.Exec(
		`DELETE FROM offline_actions WHERE status = 'synced' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeStorage, "failed to purge synced actions", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeStorage, "failed to purge synced actions", err)
	}
	return rows, nil
}

// Stats returns a read-only aggregate over the store, recomputed on demand.
func (s *ActionStore) Stats() (*models.QueueStats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM offline_actions GROUP BY status`)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, "failed to read stats", err)
	}
	defer rows.Close()

	stats := &models.QueueStats{}
	for rows.Next() {
		var status models.ActionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperr.Wrap(apperr.CodeStorage, "failed to read stats", err)
		}
		switch status {
		case models.StatusPending:
			stats.Pending = count
		case models.StatusSyncing:
			stats.Syncing = count
		case models.StatusSynced:
			stats.Synced = count
		case models.StatusFailed:
			stats.Failed = count
		case models.StatusConflict:
			stats.Conflicts = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, "failed to read stats", err)
	}

	lastSync, err := s.LastSync()
	if err != nil {
		return nil, err
	}
	stats.LastSync = lastSync

	return stats, nil
}

// SetLastSync records the completion time of the most recent sync run.
func (s *ActionStore) SetLastSync(t time.Time) error {
	query := `
	INSERT INTO sync_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := s.db.Exec(query, metaLastSync, fmt.Sprintf("%d", t.UnixMilli()))
	if err != nil {
		return apperr.Wrap(apperr.CodeStorage, "failed to record last sync time", err)
	}
	return nil
}

// LastSync returns the completion time of the most recent sync run, or nil
// if no run has completed yet.
func (s *ActionStore) LastSync() (*time.Time, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM sync_meta WHERE key = ?`, metaLastSync).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, "failed to read last sync time", err)
	}

	var millis int64
	if _, err := fmt.Sscanf(value, "%d", &millis); err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, "corrupt last sync time", err)
	}
	t := time.UnixMilli(millis)
	return &t, nil
}

// scanner abstracts sql.Row and sql.Rows for scanAction.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row scanner) (*models.OfflineAction, error) {
	var action models.OfflineAction
	var payload, conflictPayload []byte

	err := row.Scan(
		&action.ID, &action.Type, &action.Entity, &payload, &action.OwnerID, &action.ScopeID,
		&action.RetryCount, &action.MaxRetries, &action.Status, &conflictPayload,
		&action.LastError, &action.CreatedAt, &action.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	action.Payload = json.RawMessage(payload)
	if len(conflictPayload) > 0 {
		action.ConflictPayload = json.RawMessage(conflictPayload)
	}
	return &action, nil
}

func collectActions(rows *sql.Rows) ([]*models.OfflineAction, error) {
	var actions []*models.OfflineAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeStorage, "failed to scan action", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeStorage, "failed to scan actions", err)
	}
	return actions, nil
}

// payloadArg converts an optional payload to a driver-friendly value.
func payloadArg(p json.RawMessage) interface{} {
	if len(p) == 0 {
		return nil
	}
	return []byte(p)
}
