package platform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultCallTimeout bounds individual platform API calls. This is distinct
// from the sandbox's own execution timeout: a hung control-plane call must
// not hang the orchestrator's per-session work.
const DefaultCallTimeout = 30 * time.Second

// Client is an HTTP implementation of Platform against the sandbox
// provider's REST API.
type Client struct {
	baseURL     string
	token       string
	httpc       *http.Client
	callTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client (used by tests).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpc = h }
}

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.callTimeout = d }
}

// NewClient creates a platform client for the given API base URL and token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     baseURL,
		token:       token,
		httpc:       &http.Client{},
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createResponse struct {
	ID string `json:"id"`
}

// Create requests a new sandbox and returns its handle.
func (c *Client) Create(ctx context.Context, req CreateRequest) (Handle, error) {
	var resp createResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes", req, &resp); err != nil {
		return "", err
	}
	return Handle(resp.ID), nil
}

// GetStatus reads a sandbox's current status. Returns ErrNotFound if the
// handle is stale or the sandbox has been reaped.
func (c *Client) GetStatus(ctx context.Context, h Handle) (Info, error) {
	var info Info
	err := c.do(ctx, http.MethodGet, "/v1/sandboxes/"+string(h), nil, &info)
	return info, err
}

// Stop terminates a sandbox.
func (c *Client) Stop(ctx context.Context, h Handle) error {
	return c.do(ctx, http.MethodPost, "/v1/sandboxes/"+string(h)+"/stop", nil, nil)
}

// Snapshot captures the sandbox filesystem. The platform stops the source
// sandbox as a side effect.
func (c *Client) Snapshot(ctx context.Context, h Handle) (Snapshot, error) {
	var snap Snapshot
	err := c.do(ctx, http.MethodPost, "/v1/sandboxes/"+string(h)+"/snapshot", nil, &snap)
	return snap, err
}

// ListSnapshots returns all snapshots the platform currently holds.
func (c *Client) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	var snaps []Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/snapshots", nil, &snaps)
	return snaps, err
}

// DeleteSnapshot removes a snapshot from the platform.
func (c *Client) DeleteSnapshot(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/snapshots/"+id, nil, nil)
}

// StreamOutput attaches to a sandbox's live output. The response body is a
// stream of newline-delimited JSON chunks. The returned stream stays open
// for the sandbox's lifetime, so no per-call timeout is applied; the caller
// cancels via ctx or Close.
func (c *Client) StreamOutput(ctx context.Context, h Handle) (OutputStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/sandboxes/"+string(h)+"/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attaching output stream: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("attaching output stream: unexpected status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 256*1024), 256*1024)

	return &ndjsonStream{body: resp.Body, scanner: sc}, nil
}

// do performs a JSON request/response round-trip with the per-call timeout.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// ndjsonStream reads Chunks from a newline-delimited JSON response body.
type ndjsonStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *ndjsonStream) Next(ctx context.Context) (Chunk, error) {
	// The underlying body read is unblocked by Close or request-context
	// cancellation, so Scan does not need its own select.
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return Chunk{}, err
		}
		return Chunk{}, io.EOF
	}
	var ch Chunk
	if err := json.Unmarshal(s.scanner.Bytes(), &ch); err != nil {
		return Chunk{}, fmt.Errorf("decoding chunk: %w", err)
	}
	return ch, nil
}

func (s *ndjsonStream) Close() error {
	return s.body.Close()
}
