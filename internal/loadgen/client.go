package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/duel/internal/domain/types"
)

// ErrUnexpectedStatus is returned when the server answers outside the 2xx range.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Client talks to the duel HTTP API.
type Client struct {
	client  *http.Client
	baseURL string
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Health checks that the metrics endpoint answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Matchup starts or resumes a session and returns its first pair.
func (c *Client) Matchup(ctx context.Context, sessionID string, tags []string) (matchupResponse, error) {
	var out matchupResponse
	body := map[string]any{"session_id": sessionID, "tags": tags}
	err := c.do(ctx, http.MethodPost, "/matchup", body, &out)
	return out, err
}

// Choose resolves the current pair with "A", "B" or "skip".
func (c *Client) Choose(ctx context.Context, sessionID, choice string) (choiceResponse, error) {
	var out choiceResponse
	body := map[string]string{"session_id": sessionID, "choice": choice}
	err := c.do(ctx, http.MethodPost, "/choice", body, &out)
	return out, err
}

// Leaderboard fetches up to limit rows.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]types.Entry, error) {
	var out []types.Entry
	err := c.do(ctx, http.MethodGet, "/leaderboard?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %w %d %s", method, path, ErrUnexpectedStatus, resp.StatusCode, e.Code)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
