// Package backend is the dispatch-side client for the worker daemon's
// submission API. The dispatcher treats the daemon as a black box that
// either returns a ticket or fails; any failure here is retriable and
// triggers the sync fallback when enabled.
package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// submitTimeout keeps the hook's implicit deadline: a wedged daemon must not
// stall the commit.
const submitTimeout = 3 * time.Second

// Client submits items to a running worker daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client for the daemon listening at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: submitTimeout},
	}
}

type submitRequest struct {
	Target   string `json:"target"`
	Revision string `json:"revision,omitempty"`
}

type submitResponse struct {
	Ticket string `json:"ticket"`
}

// Submit hands one item to the daemon and returns its ticket. Transport
// errors and non-201 responses come back as errors; the caller decides
// whether to fall back.
func (c *Client) Submit(target, revision string) (string, error) {
	body, err := json.Marshal(submitRequest{Target: target, Revision: revision})
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}

	resp, err := c.http.Post(c.baseURL+"/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("submit %s: daemon answered %d: %s", target, resp.StatusCode, bytes.TrimSpace(detail))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.Ticket == "" {
		return "", fmt.Errorf("submit %s: daemon returned empty ticket", target)
	}
	return out.Ticket, nil
}
