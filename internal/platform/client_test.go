package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/rappterbook/internal/types"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{
		Owner:      "kody-w",
		Repo:       "rappterbook",
		RawBaseURL: srv.URL + "/raw",
		APIBaseURL: srv.URL + "/api",
		GraphQLURL: srv.URL + "/graphql",
		Timeout:    2 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient_RequiresOwnerAndRepo(t *testing.T) {
	_, err := NewClient(Options{Owner: "kody-w"})
	require.Error(t, err)

	c, err := NewClient(Options{Owner: " kody-w ", Repo: "rappterbook"})
	require.NoError(t, err)
	assert.Equal(t, "kody-w", c.Owner())
	assert.Equal(t, "rappterbook", c.Repo())
}

func TestFetchJSON_UsesRawLayoutAndCacheBust(t *testing.T) {
	var gotPath, gotBust, gotUA string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBust = r.URL.Query().Get("t")
		gotUA = r.UserAgent()
		writeJSON(w, http.StatusOK, map[string]any{"total_posts": 3})
	}))

	var doc map[string]int
	require.NoError(t, c.FetchJSON(context.Background(), ResourceStats, &doc))
	assert.Equal(t, "/raw/kody-w/rappterbook/main/state/stats.json", gotPath)
	assert.NotEmpty(t, gotBust)
	assert.Equal(t, defaultUserAgent, gotUA)
	assert.Equal(t, 3, doc["total_posts"])
}

func TestFetchJSON_StatusErrorCarriesCode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "maintenance"})
	}))

	var doc map[string]any
	err := c.FetchJSON(context.Background(), ResourceAgents, &doc)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Contains(t, err.Error(), "returned status 503: maintenance")
	assert.False(t, IsNotFound(err))
}

func TestAgents_NormalizesAndSorts(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"agents": map[string]any{
				"zion-coder-02": map[string]any{"name": "Coder Two", "status": "DORMANT", "heartbeat_last": "2026-02-10T08:00:00Z"},
				"zion-bard-01":  map[string]any{"status": "weird", "post_count": 4, "subscribed_channels": []string{"poetry"}},
			},
		})
	}))

	agents, err := c.Agents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "zion-bard-01", agents[0].ID)
	assert.Equal(t, "zion-bard-01", agents[0].Name)
	assert.Equal(t, types.AgentActive, agents[0].Status)
	assert.Equal(t, []string{"poetry"}, agents[0].Channels)
	assert.Equal(t, types.AgentDormant, agents[1].Status)
	assert.Equal(t, time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC), agents[1].HeartbeatLast)
}

func TestPostLog_KeepsStorageOrder(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"posts": []map[string]any{
				{"number": 1, "title": "first", "author": "zion-a", "channel": "general"},
				{"number": 2, "title": "second", "channel": "code", "upvotes": 5, "commentCount": 2},
			},
		})
	}))

	posts, err := c.PostLog(context.Background())
	require.NoError(t, err)
	want := []types.Post{
		{Number: 1, Title: "first", Author: "zion-a", AuthorKey: "zion-a", Channel: "general"},
		{Number: 2, Title: "second", Author: "unknown", AuthorKey: "unknown", Channel: "code", Upvotes: 5, CommentCount: 2},
	}
	if diff := cmp.Diff(want, posts); diff != "" {
		t.Fatalf("post log mismatch (-want +got):\n%s", diff)
	}
}

func TestChanges_PicksSubject(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/raw/kody-w/rappterbook/main/"+ResourceChanges, r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"changes": []map[string]any{
				{"ts": "2026-02-12T10:00:00Z", "type": "new_agent", "id": "zion-a"},
				{"ts": "2026-02-12T11:00:00Z", "type": "poke", "target": "zion-b"},
				{"ts": "2026-02-12T12:00:00Z", "type": "new_channel", "slug": "code"},
			},
		})
	}))

	changes, err := c.Changes(context.Background())
	require.NoError(t, err)
	want := []types.Change{
		{Type: "new_agent", Subject: "zion-a", Timestamp: time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC)},
		{Type: "poke", Subject: "zion-b", Timestamp: time.Date(2026, 2, 12, 11, 0, 0, 0, time.UTC)},
		{Type: "new_channel", Subject: "code", Timestamp: time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)},
	}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
}

func TestStats_KeepsNumericCounters(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"total_agents": 100, "total_posts": 2500, "last_updated": "2026-02-12T00:00:00Z", "note": "x",
		})
	}))

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, stats.Count("total_agents"))
	assert.Equal(t, 2500, stats.Count("total_posts"))
	assert.Equal(t, 0, stats.Count("note"))
	assert.Equal(t, 2026, stats.LastUpdated.Year())
}

func TestSoul_MissingAndTraversal(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.HasSuffix(r.URL.Path, "/state/memory/zion-a.md") {
			_, _ = io.WriteString(w, "# Soul\nremembers things")
			return
		}
		http.NotFound(w, r)
	}))
	ctx := context.Background()

	text, ok, err := c.Soul(ctx, "zion-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, text, "remembers things")

	_, ok, err = c.Soul(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Soul(ctx, "../secrets")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(2), calls.Load())
}
