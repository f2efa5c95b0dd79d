// Package ci implements the CI collaborator binding: triggering builds over
// HTTP and mapping CI webhook payloads back into pipeline events, grounded
// on the teacher's services/datafeed HTTP-source client pattern and
// infrastructure/httputil base-URL normalization.
package ci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/r3e-network/mergequeue/internal/pipeline"
	"github.com/r3e-network/mergequeue/internal/ratelimit"
)

// Client triggers CI builds over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *ratelimit.Client
}

// NewClient normalizes baseURL the way the teacher's httputil package does
// for its HTTP collaborators, then wraps client in a rate limiter.
func NewClient(baseURL, token string, httpClient *http.Client, limitCfg ratelimit.Config) (*Client, error) {
	normalized, _, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: normalized,
		token:   token,
		http:    ratelimit.NewClient(httpClient, limitCfg),
	}, nil
}

func normalizeBaseURL(raw string) (string, *url.URL, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", nil, fmt.Errorf("CI base URL is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", nil, fmt.Errorf("CI base URL must be a valid URL")
	}
	if parsed.User != nil {
		return "", nil, fmt.Errorf("CI base URL must not include user info")
	}
	return trimmed, parsed, nil
}

// triggerRequest is the body posted to the CI system to start a build.
type triggerRequest struct {
	Commit string `json:"commit"`
}

// StartBuild implements pipeline.Ci by POSTing a trigger request for
// commit. The pipeline ID rides along as a header so the CI system's
// webhook callback can be correlated back without parsing the commit.
func (c *Client) StartBuild(id pipeline.PipelineId, commit pipeline.Commit) error {
	body, err := json.Marshal(triggerRequest{Commit: commit.String()})
	if err != nil {
		return fmt.Errorf("marshal trigger request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/builds", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pipeline-Id", fmt.Sprintf("%d", int64(id)))
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trigger build: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("trigger build: unexpected status %d", resp.StatusCode)
	}
	return nil
}
