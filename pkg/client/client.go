package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultTimeout applies to every request
const DefaultTimeout = 10 * time.Second

// Client talks to a burrow agent over its HTTP JSON API
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for addr ("host:port" or a full URL)
func NewClient(addr string) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("agent address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid agent address %q: %w", addr, err)
	}

	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}, nil
}

// ListTargets returns the iSCSI targets registered on the agent
func (c *Client) ListTargets(ctx context.Context) ([]types.TargetInfo, error) {
	var resp types.ListTargetsResponse
	if err := c.get(ctx, "/btrfs/targets", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, responseError(resp.AgentResponse)
	}
	return resp.Targets, nil
}

// ListJournal returns up to limit recorded operations, newest first.
// A limit of 0 returns all of them.
func (c *Client) ListJournal(ctx context.Context, limit int) ([]types.JournalEntry, error) {
	path := "/btrfs/journal"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var resp types.ListJournalResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, responseError(resp.AgentResponse)
	}
	return resp.Entries, nil
}

// Readiness returns the agent readiness report. A not-ready agent is not an
// error.
func (c *Client) Readiness(ctx context.Context) (*metrics.HealthStatus, error) {
	var status metrics.HealthStatus
	if err := c.do(ctx, http.MethodGet, "/ready", nil, &status, http.StatusOK, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &status, nil
}

// CheckBitsExistence asks the agent whether path exists
func (c *Client) CheckBitsExistence(ctx context.Context, path string) (bool, error) {
	var resp types.CheckBitsResponse
	if err := c.do(ctx, http.MethodPost, "/btrfs/bits/checkifexists", &types.CheckBitsRequest{Path: path}, &resp, http.StatusOK); err != nil {
		return false, err
	}
	if !resp.Success {
		return false, responseError(resp.AgentResponse)
	}
	return resp.IsExisting, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out, http.StatusOK)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, accept ...int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach agent: %w", err)
	}
	defer resp.Body.Close()

	if !accepted(resp.StatusCode, accept) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func accepted(code int, accept []int) bool {
	for _, c := range accept {
		if c == code {
			return true
		}
	}
	return false
}

func responseError(r types.AgentResponse) error {
	return &types.Error{Code: r.ErrorCode, Message: r.Error}
}
