package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flowmarine/offline/internal/models"
)

// maxErrorBody bounds how much of an error response is kept for diagnostics.
const maxErrorBody = 4 << 10

// HTTPApplier applies actions over the shore-side REST API.
//
// Routing is per entity: create POSTs, update PUTs and delete DELETEs
// against {base}/api/v1/{entity}, with the action payload as the body.
// The remote signals a conflict with HTTP 409 and its current
// representation of the resource in the response body.
type HTTPApplier struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPApplier creates an HTTPApplier. The timeout bounds one apply attempt.
func NewHTTPApplier(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPApplier {
	return &HTTPApplier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Apply sends one action to the remote API and classifies the outcome.
func (a *HTTPApplier) Apply(ctx context.Context, action *models.OfflineAction) error {
	method, err := methodFor(action.Type)
	if err != nil {
		return &RejectedError{StatusCode: 0, Body: err.Error()}
	}

	url := fmt.Sprintf("%s/api/v1/%s", a.baseURL, action.Entity)

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(action.Payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Idempotency key so the remote can deduplicate replayed actions.
	req.Header.Set("X-Action-ID", action.ID.String())
	if action.ScopeID != "" {
		req.Header.Set("X-Vessel-ID", action.ScopeID)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote apply failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusConflict:
		remote, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read conflict body: %w", err)
		}
		a.logger.Warn("remote reported conflict",
			zap.String("action_id", action.ID.String()),
			zap.String("entity", action.Entity))
		return &ConflictError{Remote: remote}

	case retryableStatus(resp.StatusCode):
		return fmt.Errorf("remote temporarily unavailable (status %d)", resp.StatusCode)

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RejectedError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

func methodFor(t models.ActionType) (string, error) {
	switch t {
	case models.ActionCreate:
		return http.MethodPost, nil
	case models.ActionUpdate:
		return http.MethodPut, nil
	case models.ActionDelete:
		return http.MethodDelete, nil
	default:
		return "", fmt.Errorf("unknown action type: %q", t)
	}
}

// retryableStatus reports whether an HTTP status indicates a transient
// condition. Server errors, timeouts and throttling are transient; other
// client errors are permanent rejections.
func retryableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}
