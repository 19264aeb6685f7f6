// Package github provides a client for the GitHub GraphQL API.
//
// The sync core only needs commit history, so the client exposes a single
// paged query over a repository's default branch. REST endpoints are not
// used: commit stats (additions/deletions/changedFiles) are only available
// per-commit over REST, which would cost one request per commit instead of
// one per page.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultEndpoint is the GitHub GraphQL API endpoint.
	DefaultEndpoint = "https://api.github.com/graphql"

	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 10 * time.Second

	// PageSize is the number of commit nodes requested per page.
	PageSize = 50

	// MaxRetries is the number of retry attempts after the initial request.
	MaxRetries = 3
)

// commitHistoryQuery pages through the default branch history. rateLimit
// is included so callers can throttle before exhausting the quota.
const commitHistoryQuery = `
query CommitHistory($owner: String!, $repo: String!, $since: GitTimestamp, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    defaultBranchRef {
      target {
        ... on Commit {
          history(first: 50, since: $since, after: $cursor) {
            pageInfo { hasNextPage endCursor }
            nodes {
              oid
              message
              committedDate
              additions
              deletions
              changedFilesIfAvailable
              author { name email }
            }
          }
        }
      }
    }
  }
  rateLimit { remaining resetAt }
}`

// Commit is one commit node from the history query.
type Commit struct {
	SHA          string
	Message      string
	AuthorName   string
	AuthorEmail  string
	Additions    int
	Deletions    int
	FilesChanged int
	CommittedAt  time.Time
}

// CommitPage is one page of commit history plus pagination and quota state.
type CommitPage struct {
	Commits       []Commit
	HasNextPage   bool
	EndCursor     string
	RateRemaining int
	RateResetAt   time.Time
}

// Client talks to the GitHub GraphQL API.
type Client struct {
	Token      string
	Endpoint   string
	HTTPClient *http.Client
}

// NewClient creates a client authenticated with token.
func NewClient(token string) *Client {
	return &Client{
		Token:    token,
		Endpoint: DefaultEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithEndpoint returns a new client pointed at a custom endpoint (tests,
// GitHub Enterprise).
func (c *Client) WithEndpoint(endpoint string) *Client {
	return &Client{
		Token:      c.Token,
		Endpoint:   endpoint,
		HTTPClient: c.HTTPClient,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type historyResponse struct {
	Data struct {
		Repository *struct {
			DefaultBranchRef *struct {
				Target struct {
					History struct {
						PageInfo struct {
							HasNextPage bool   `json:"hasNextPage"`
							EndCursor   string `json:"endCursor"`
						} `json:"pageInfo"`
						Nodes []struct {
							OID                     string    `json:"oid"`
							Message                 string    `json:"message"`
							CommittedDate           time.Time `json:"committedDate"`
							Additions               int       `json:"additions"`
							Deletions               int       `json:"deletions"`
							ChangedFilesIfAvailable int       `json:"changedFilesIfAvailable"`
							Author                  struct {
								Name  string `json:"name"`
								Email string `json:"email"`
							} `json:"author"`
						} `json:"nodes"`
					} `json:"history"`
				} `json:"target"`
			} `json:"defaultBranchRef"`
		} `json:"repository"`
		RateLimit struct {
			Remaining int       `json:"remaining"`
			ResetAt   time.Time `json:"resetAt"`
		} `json:"rateLimit"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// FetchCommitPage fetches one page of commit history for "owner/repo".
// since restricts history to commits after that instant; pass nil for the
// full history. cursor resumes pagination; pass "" for the first page.
func (c *Client) FetchCommitPage(ctx context.Context, repoFullName string, since *time.Time, cursor string) (*CommitPage, error) {
	owner, repo, ok := strings.Cut(repoFullName, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("invalid repository name %q: want owner/repo", repoFullName)
	}

	variables := map[string]any{
		"owner":  owner,
		"repo":   repo,
		"since":  nil,
		"cursor": nil,
	}
	if since != nil {
		variables["since"] = since.UTC().Format(time.RFC3339)
	}
	if cursor != "" {
		variables["cursor"] = cursor
	}

	body, err := c.post(ctx, graphQLRequest{Query: commitHistoryQuery, Variables: variables})
	if err != nil {
		return nil, err
	}

	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse commit history response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("github graphql: %s", resp.Errors[0].Message)
	}
	if resp.Data.Repository == nil {
		return nil, fmt.Errorf("repository %s not found or not accessible", repoFullName)
	}

	page := &CommitPage{
		RateRemaining: resp.Data.RateLimit.Remaining,
		RateResetAt:   resp.Data.RateLimit.ResetAt,
	}
	if ref := resp.Data.Repository.DefaultBranchRef; ref != nil {
		h := ref.Target.History
		page.HasNextPage = h.PageInfo.HasNextPage
		page.EndCursor = h.PageInfo.EndCursor
		for _, n := range h.Nodes {
			page.Commits = append(page.Commits, Commit{
				SHA:          n.OID,
				Message:      n.Message,
				AuthorName:   n.Author.Name,
				AuthorEmail:  n.Author.Email,
				Additions:    n.Additions,
				Deletions:    n.Deletions,
				FilesChanged: n.ChangedFilesIfAvailable,
				CommittedAt:  n.CommittedDate,
			})
		}
	}
	return page, nil
}

// post executes the GraphQL request, retrying transient failures (network
// errors, 429, 5xx) with exponential backoff. Other HTTP errors and
// GraphQL-level errors are permanent.
func (c *Client) post(ctx context.Context, reqBody graphQLRequest) ([]byte, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	var respBody []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("github graphql request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("github API returned %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("github API returned %d: %s", resp.StatusCode, string(body)))
		}

		respBody = body
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return respBody, nil
}
