package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	reconcilerevents "github.com/fatalmerlin/dnssync/internal/server/reconciler/events"
)

// Client wraps REST access to the dnssyncd API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// New creates a client with the provided base URL (e.g. http://127.0.0.1:8053).
func New(rawURL string) (*Client, error) {
	if rawURL == "" {
		rawURL = "http://127.0.0.1:8053"
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	return &Client{
		baseURL: parsed,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Record represents the API response for one persisted hostname.
type Record struct {
	Hostname string `json:"hostname"`
	Router   string `json:"router"`
}

// Status mirrors the daemon's status endpoint payload.
type Status struct {
	Zone struct {
		Server   string `json:"server"`
		Zone     string `json:"zone"`
		TargetIP string `json:"target_ip"`
		Interval string `json:"interval"`
	} `json:"zone"`
	Status struct {
		LastSyncAt time.Time `json:"last_sync_at"`
		Desired    int       `json:"desired"`
		Added      int       `json:"added"`
		Removed    int       `json:"removed"`
		Errors     int       `json:"errors"`
		LastError  string    `json:"last_error,omitempty"`
		Ticks      uint64    `json:"ticks"`
	} `json:"status"`
}

// RecordEvent represents a reconcile event streamed from the daemon.
type RecordEvent = reconcilerevents.RecordEvent

func (c *Client) ListRecords(ctx context.Context) ([]Record, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/records", nil)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := c.do(req, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) GetRecord(ctx context.Context, hostname string) (*Record, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/records/"+url.PathEscape(hostname), nil)
	if err != nil {
		return nil, err
	}
	var record Record
	if err := c.do(req, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *Client) RetireRecord(ctx context.Context, hostname string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/records/"+url.PathEscape(hostname), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) TriggerSync(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/sync", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) SystemStatus(ctx context.Context) (*Status, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/system/status", nil)
	if err != nil {
		return nil, err
	}
	var status Status
	if err := c.do(req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WatchRecordEvents streams reconcile events and invokes handler for each
// payload until the context is cancelled or the server closes the connection.
func (c *Client) WatchRecordEvents(ctx context.Context, handler func(RecordEvent)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/events/records", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: watch events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: watch events http %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var event RecordEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return fmt.Errorf("client: decode event: %w", err)
		}
		if handler != nil {
			handler(event)
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return fmt.Errorf("client: event stream error: %w", err)
		}
	}

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	resolved := c.baseURL.ResolveReference(&url.URL{Path: path})
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("client: encode body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), &buf)
	if err != nil {
		return nil, fmt.Errorf("client: new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return fmt.Errorf("client: http %d", resp.StatusCode)
		}
		if msg, ok := apiErr["error"].(string); ok {
			return fmt.Errorf("client: http %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("client: http %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
