package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchProjectIssues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/search", r.URL.Path)
		assert.Equal(t, `project = "PULSE" ORDER BY updated DESC`, r.URL.Query().Get("jql"))
		assert.Equal(t, "100", r.URL.Query().Get("maxResults"))
		assert.Equal(t, "Basic ZGV2QGFjbWUudGVzdDp0b2s=", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(SearchResult{
			Total: 2,
			Issues: []Issue{
				{Key: "PULSE-1", Fields: IssueFields{Summary: "First", Status: &StatusField{Name: "In Progress"}}},
				{Key: "PULSE-2", Fields: IssueFields{Summary: "Second", Status: &StatusField{Name: "Done"}}},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "dev@acme.test", "tok")
	issues, err := client.SearchProjectIssues(context.Background(), "PULSE")
	require.NoError(t, err)

	require.Len(t, issues, 2)
	assert.Equal(t, "PULSE-1", issues[0].Key)
	assert.Equal(t, "In Progress", issues[0].StatusName())
	assert.Equal(t, "Done", issues[1].StatusName())
}

func TestSearchProjectIssuesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorMessages":["project missing"]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "dev@acme.test", "tok")
	_, err := client.SearchProjectIssues(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestGetTransitions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/issue/PULSE-1/transitions", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transitions": []Transition{
				{ID: "21", Name: "Start Progress", To: &StatusField{Name: "In Progress"}},
				{ID: "31", Name: "Done", To: &StatusField{Name: "Done"}},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "dev@acme.test", "tok")
	transitions, err := client.GetTransitions(context.Background(), "PULSE-1")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "21", transitions[0].ID)
	assert.Equal(t, "In Progress", transitions[0].To.Name)
}

func TestTransitionIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body struct {
			Transition struct {
				ID string `json:"id"`
			} `json:"transition"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "21", body.Transition.ID)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "dev@acme.test", "tok")
	require.NoError(t, client.TransitionIssue(context.Background(), "PULSE-1", "21"))
}

func TestSearchRetriesRateLimit(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(SearchResult{
			Total:  1,
			Issues: []Issue{{Key: "PULSE-1"}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "dev@acme.test", "tok")
	issues, err := client.SearchProjectIssues(context.Background(), "PULSE")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestTransitionRetriesServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "dev@acme.test", "tok")
	require.NoError(t, client.TransitionIssue(context.Background(), "PULSE-1", "21"))
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClientDoesNotRetryAuthErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"errorMessages":["unauthorized"]}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "dev@acme.test", "tok")
	_, err := client.SearchProjectIssues(context.Background(), "PULSE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClientRequiresConfiguration(t *testing.T) {
	client := NewClient("", "", "")
	_, err := client.SearchProjectIssues(context.Background(), "PULSE")
	require.Error(t, err)

	client = NewClient("https://acme.atlassian.net", "dev@acme.test", "")
	_, err = client.SearchProjectIssues(context.Background(), "PULSE")
	require.Error(t, err)
}

func TestBearerAuthWithoutUsername(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(SearchResult{})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", "tok")
	_, err := client.SearchProjectIssues(context.Background(), "PULSE")
	require.NoError(t, err)
}
