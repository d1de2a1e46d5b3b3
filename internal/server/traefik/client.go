package traefik

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Router is a single routing rule reported by the proxy's administrative API.
type Router struct {
	EntryPoints []string `json:"entryPoints"`
	Service     string   `json:"service"`
	Rule        string   `json:"rule"`
	RuleSyntax  string   `json:"ruleSyntax"`
	Priority    int      `json:"priority"`
	Status      string   `json:"status"`
	Using       []string `json:"using"`
	Name        string   `json:"name"`
	Provider    string   `json:"provider"`
}

// APIError captures error responses returned by the Traefik API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("traefik returned status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("traefik returned status %d", e.Status)
}

// Client reads routing state from Traefik's administrative API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a configured client. The endpoint must include scheme and host,
// e.g. http://localhost:8080.
func New(endpoint string, client *http.Client, logger *slog.Logger) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse traefik endpoint: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("traefik endpoint must include scheme and host")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	base := *parsed
	base.Path = strings.TrimRight(parsed.Path, "/")
	return &Client{baseURL: &base, httpClient: client, logger: logger}, nil
}

// FetchRouters retrieves the current HTTP routers. Malformed individual
// entries are skipped with a logged warning; a single bad entry does not fail
// the whole fetch. Network and non-2xx failures propagate as errors.
func (c *Client) FetchRouters(ctx context.Context) ([]Router, error) {
	resolved := *c.baseURL
	resolved.Path += "/api/http/routers"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new routers request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch routers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode routers: %w", err)
	}

	routers := make([]Router, 0, len(raw))
	for i, entry := range raw {
		var router Router
		if err := json.Unmarshal(entry, &router); err != nil {
			c.logger.Warn("skipping malformed router entry", "index", i, "error", err)
			continue
		}
		if router.Name == "" || router.Rule == "" {
			c.logger.Warn("skipping router entry with missing fields", "index", i, "name", router.Name)
			continue
		}
		routers = append(routers, router)
	}

	c.logger.Debug("fetched routers", "total", len(raw), "valid", len(routers))
	return routers, nil
}
