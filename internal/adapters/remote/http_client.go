package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taskmaster/workspace/internal/domain/entities"
	"github.com/taskmaster/workspace/internal/ports"
)

const (
	apiKeyHeader    = "X-API-Key"
	maxResponseBody = 32 << 20
)

// StateURL returns the state endpoint for a configured sync URL. Both the
// server root and the full endpoint are accepted.
func StateURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(base, "/state") {
		return base
	}
	return base + "/state"
}

// Client talks to the state API over HTTP.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a new state API client with the given request timeout.
func NewClient(timeout time.Duration, userAgent string) *Client {
	return NewClientWithHTTP(&http.Client{Timeout: timeout}, userAgent)
}

// NewClientWithHTTP creates a client on top of an existing http.Client.
func NewClientWithHTTP(httpClient *http.Client, userAgent string) *Client {
	return &Client{httpClient: httpClient, userAgent: userAgent}
}

type stateEnvelope struct {
	State     json.RawMessage `json:"state"`
	UpdatedAt int64           `json:"updatedAt"`
	Error     string          `json:"error"`
}

type putBody struct {
	State         json.RawMessage `json:"state"`
	BaseUpdatedAt *int64          `json:"baseUpdatedAt,omitempty"`
}

// Fetch reads the remote document.
func (c *Client) Fetch(ctx context.Context, endpoint, apiKey string) (*ports.RemoteSnapshot, error) {
	status, body, err := c.do(ctx, http.MethodGet, endpoint, apiKey, nil)
	if err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(status, body)
	if status != http.StatusOK {
		return nil, statusError(status, env, true)
	}
	if err != nil {
		return nil, &entities.RemoteError{Status: status, Code: "invalid_response"}
	}
	if !entities.IsJSONObject(env.State) {
		return nil, &entities.RemoteError{Status: status, Code: ports.CodeInvalidState}
	}

	return &ports.RemoteSnapshot{State: env.State, UpdatedAt: env.UpdatedAt}, nil
}

// Store writes the document. baseUpdatedAt is the remote timestamp the local
// copy was derived from, or nil for an unconditional write.
func (c *Client) Store(ctx context.Context, endpoint, apiKey string, state json.RawMessage, baseUpdatedAt *int64) (int64, error) {
	payload, err := json.Marshal(putBody{State: state, BaseUpdatedAt: baseUpdatedAt})
	if err != nil {
		return 0, &entities.ValidationError{Reason: "encode state", Err: err}
	}

	status, body, err := c.do(ctx, http.MethodPut, endpoint, apiKey, payload)
	if err != nil {
		return 0, err
	}

	env, _ := decodeEnvelope(status, body)
	if status != http.StatusOK {
		return 0, statusError(status, env, false)
	}
	return env.UpdatedAt, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, apiKey string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, StateURL(endpoint), reader)
	if err != nil {
		return 0, nil, &entities.NetworkError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &entities.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, &entities.NetworkError{Err: fmt.Errorf("reading response body: %w", err)}
	}
	return resp.StatusCode, body, nil
}

func decodeEnvelope(status int, body []byte) (stateEnvelope, error) {
	var env stateEnvelope
	if len(bytes.TrimSpace(body)) == 0 {
		return env, fmt.Errorf("empty response body (status %d)", status)
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("decoding response: %w", err)
	}
	return env, nil
}

// statusError maps a non-200 status. A 404 only means "no document yet" on reads.
func statusError(status int, env stateEnvelope, read bool) error {
	switch {
	case status == http.StatusUnauthorized:
		return &entities.AuthError{}
	case status == http.StatusNotFound && read:
		return &entities.NotFoundError{}
	case status == http.StatusConflict:
		return &entities.ConflictError{UpdatedAt: env.UpdatedAt, State: env.State}
	default:
		return &entities.RemoteError{Status: status, Code: env.Error}
	}
}

var _ ports.RemoteStateClient = (*Client)(nil)
