// Package meshclient is the sanctioned integration point for external
// collaborators: a thin HTTP client over a mesh node's REST surface,
// carrying none of the mesh's internal routing, bonding or consensus
// logic. Anything beyond submitting work and reading its outcome belongs
// inside the mesh, not in a caller's own code.
package meshclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ocx/delegation-mesh/internal/core"
)

// Client talks to one mesh node's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("meshclient: %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out != nil {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

// Health reports the node's health check payload.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

// SubmitTask delegates a raw task through a mesh node's RFQ/auction path
// by broadcasting it as an RFQ; it returns once the node acknowledges
// receipt, not once the task completes. This client has no call that
// reads the task's later outcome.
func (c *Client) SubmitTask(ctx context.Context, rfq core.RFQ) error {
	return c.do(ctx, http.MethodPost, "/api/swarm/rfq", rfq, nil)
}

type dispatchResponse struct {
	OK     bool                 `json:"ok"`
	Result core.SwarmTaskResult `json:"result"`
}

// DispatchTask sends a task.request directly to a node and blocks for its
// synchronous execution result.
func (c *Client) DispatchTask(ctx context.Context, req core.SwarmTaskRequest) (core.SwarmTaskResult, error) {
	var out dispatchResponse
	err := c.do(ctx, http.MethodPost, "/api/swarm/task.request", req, &out)
	return out.Result, err
}
