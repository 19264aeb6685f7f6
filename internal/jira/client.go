// Package jira provides a client for the Jira Cloud REST API (v3).
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// SearchPageSize caps a project search at a single page. A sync cycle
	// processes at most this many issues per project.
	SearchPageSize = 100

	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 10 * time.Second

	// MaxRetries is the number of retry attempts after the initial request.
	MaxRetries = 3
)

// Issue represents a Jira issue from the REST API.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// IssueFields contains the subset of issue fields the sync core reads.
type IssueFields struct {
	Summary string       `json:"summary"`
	Status  *StatusField `json:"status"`
	Updated string       `json:"updated"`
}

// StatusField represents a Jira issue status.
type StatusField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StatusName returns the issue's status name, or "" when absent.
func (i *Issue) StatusName() string {
	if i.Fields.Status == nil {
		return ""
	}
	return i.Fields.Status.Name
}

// SearchResult represents a Jira JQL search response.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// Transition is one available workflow transition for an issue.
type Transition struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	To   *StatusField `json:"to"`
}

// Client provides HTTP access to a Jira instance.
type Client struct {
	URL        string
	Username   string
	APIToken   string
	HTTPClient *http.Client
}

// NewClient creates a new Jira client.
func NewClient(baseURL, username, apiToken string) *Client {
	return &Client{
		URL:      strings.TrimSuffix(baseURL, "/"),
		Username: username,
		APIToken: apiToken,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// SearchProjectIssues returns the first page of issues in the project,
// most recently updated first. Pagination is deliberately not followed:
// one page per project per cycle keeps a cycle's Jira cost bounded.
func (c *Client) SearchProjectIssues(ctx context.Context, projectKey string) ([]Issue, error) {
	jql := fmt.Sprintf("project = %q ORDER BY updated DESC", projectKey)
	params := url.Values{
		"jql":        {jql},
		"fields":     {"summary,status,updated"},
		"maxResults": {fmt.Sprintf("%d", SearchPageSize)},
	}

	apiURL := fmt.Sprintf("%s/rest/api/3/search?%s", c.URL, params.Encode())

	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("search project %s: %w", projectKey, err)
	}

	var result SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	return result.Issues, nil
}

// GetTransitions lists the workflow transitions currently available for
// an issue.
func (c *Client) GetTransitions(ctx context.Context, issueKey string) ([]Transition, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/transitions", c.URL, url.PathEscape(issueKey))

	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("get transitions for %s: %w", issueKey, err)
	}

	var result struct {
		Transitions []Transition `json:"transitions"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse transitions response: %w", err)
	}
	return result.Transitions, nil
}

// TransitionIssue applies a workflow transition to an issue.
func (c *Client) TransitionIssue(ctx context.Context, issueKey, transitionID string) error {
	payload, err := json.Marshal(map[string]any{
		"transition": map[string]string{"id": transitionID},
	})
	if err != nil {
		return fmt.Errorf("marshal transition request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/transitions", c.URL, url.PathEscape(issueKey))

	if _, err := c.doRequest(ctx, http.MethodPost, apiURL, payload); err != nil {
		return fmt.Errorf("transition issue %s: %w", issueKey, err)
	}
	return nil
}

// doRequest executes an authenticated HTTP request, retrying transient
// failures (network errors, 429, 5xx) with exponential backoff. Other
// HTTP errors are permanent. Returns the response body.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("jira URL not configured")
	}
	if c.APIToken == "" {
		return nil, fmt.Errorf("jira API token not configured")
	}

	var respBody []byte
	operation := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		c.setAuth(req)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "pulse-jira-sync/1.0")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("jira request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		// Transitions POST returns 204 No Content on success
		case resp.StatusCode == http.StatusNoContent:
			respBody = nil
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("jira API returned %d", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("jira API returned %d: %s", resp.StatusCode, string(b)))
		}

		respBody = b
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return respBody, nil
}

// setAuth sets the appropriate authentication header on the request.
// Jira Cloud wants basic auth with email:token; server installs take a
// bearer token.
func (c *Client) setAuth(req *http.Request) {
	if c.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.APIToken))
		req.Header.Set("Authorization", "Basic "+auth)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}
}
