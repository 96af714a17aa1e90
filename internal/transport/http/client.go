package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"vlat-exam-service/internal/app"
	"vlat-exam-service/internal/domain"
)

// LocalLedgerClient adapts the in-process ledger service to the LedgerClient
// interface, bound to one user. Used when the session stack and the ledger run
// in the same process.
type LocalLedgerClient struct {
	ledger *app.LedgerService
	userID string
}

func NewLocalLedgerClient(ledger *app.LedgerService, userID string) *LocalLedgerClient {
	return &LocalLedgerClient{ledger: ledger, userID: userID}
}

func (c *LocalLedgerClient) GetProgress(ctx context.Context, setID int) (domain.ProgressDocument, error) {
	return c.ledger.GetProgress(ctx, c.userID, setID)
}

func (c *LocalLedgerClient) GetAllProgress(ctx context.Context) ([]domain.ProgressDocument, error) {
	return c.ledger.GetAllProgress(ctx, c.userID)
}

func (c *LocalLedgerClient) SubmitAttempt(ctx context.Context, setID int, payload domain.AttemptPayload) (domain.ProgressDocument, error) {
	return c.ledger.SubmitAttempt(ctx, c.userID, setID, payload)
}

func (c *LocalLedgerClient) SaveInProgress(ctx context.Context, setID int, status domain.Status) (domain.ProgressDocument, error) {
	return c.ledger.SaveInProgress(ctx, c.userID, setID, status)
}

var _ app.LedgerClient = (*LocalLedgerClient)(nil)

// HTTPLedgerClient talks to a remote attempt ledger over its REST API. Error
// kinds in the response envelope map back to the domain sentinels so callers
// can distinguish ledger rejections from transport failures.
type HTTPLedgerClient struct {
	baseURL string
	userID  string
	client  *http.Client
}

func NewHTTPLedgerClient(baseURL, userID string, timeout time.Duration) *HTTPLedgerClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLedgerClient{
		baseURL: baseURL,
		userID:  userID,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPLedgerClient) GetProgress(ctx context.Context, setID int) (domain.ProgressDocument, error) {
	var data struct {
		Progress domain.ProgressDocument `json:"progress"`
	}
	err := c.call(ctx, http.MethodGet, "/api/test/progress/"+strconv.Itoa(setID), nil, &data)
	return data.Progress, err
}

func (c *HTTPLedgerClient) GetAllProgress(ctx context.Context) ([]domain.ProgressDocument, error) {
	var data struct {
		Progress []domain.ProgressDocument `json:"progress"`
	}
	err := c.call(ctx, http.MethodGet, "/api/test/progress", nil, &data)
	return data.Progress, err
}

func (c *HTTPLedgerClient) SubmitAttempt(ctx context.Context, setID int, payload domain.AttemptPayload) (domain.ProgressDocument, error) {
	var data struct {
		Progress domain.ProgressDocument `json:"progress"`
	}
	err := c.call(ctx, http.MethodPost, "/api/test/submit/"+strconv.Itoa(setID), payload, &data)
	return data.Progress, err
}

func (c *HTTPLedgerClient) SaveInProgress(ctx context.Context, setID int, status domain.Status) (domain.ProgressDocument, error) {
	body := struct {
		Status domain.Status `json:"status"`
	}{Status: status}
	var data struct {
		Progress domain.ProgressDocument `json:"progress"`
	}
	err := c.call(ctx, http.MethodPost, "/api/test/progress/"+strconv.Itoa(setID), body, &data)
	return data.Progress, err
}

func (c *HTTPLedgerClient) GetStats(ctx context.Context) (domain.Stats, error) {
	var data struct {
		Stats domain.Stats `json:"stats"`
	}
	err := c.call(ctx, http.MethodGet, "/api/test/stats", nil, &data)
	return data.Stats, err
}

var _ app.LedgerClient = (*HTTPLedgerClient)(nil)

func (c *HTTPLedgerClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-User-ID", c.userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Kind    string          `json:"kind"`
		Message string          `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if !envelope.Success {
		return kindError(envelope.Kind, envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

// kindError maps an API error kind back onto the matching domain sentinel.
func kindError(kind, message string) error {
	switch kind {
	case kindAttemptLimit:
		return domain.ErrAttemptLimit
	case kindValidation:
		return fmt.Errorf("%w: %s", domain.ErrValidation, message)
	case kindNotFound:
		return domain.ErrProgressNotFound
	default:
		return fmt.Errorf("ledger request rejected: %s", message)
	}
}
