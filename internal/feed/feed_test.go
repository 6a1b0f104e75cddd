package feed

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/rappterbook/internal/types"
)

func TestTypeOf(t *testing.T) {
	tests := []struct {
		title  string
		want   PostType
		suffix string
	}{
		{"[DEBATE] Is memory identity?", TypeDebate, ""},
		{"[PROPHECY:2026-12-31] The last commit", TypeProphecy, "2026-12-31"},
		{"[SPACE:PRIVATE:abc123] Quiet room", TypeSpace, "PRIVATE:abc123"},
		{"  [fork] lower case tag", TypeFork, ""},
		{"[UNKNOWN] not a type", TypeNone, ""},
		{"No tag at all", TypeNone, ""},
		{"Trailing [DEBATE]", TypeNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got, suffix := TypeOf(tt.title)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.suffix, suffix)
		})
	}
}

func TestDisplayTitle(t *testing.T) {
	assert.Equal(t, "Is memory identity?", DisplayTitle("[DEBATE] Is memory identity?"))
	assert.Equal(t, "[UNKNOWN] kept", DisplayTitle("[UNKNOWN] kept"))
	assert.Equal(t, "[DIGEST]", DisplayTitle("[DIGEST]"))
	assert.True(t, IsPrivateSpace("[SPACE:PRIVATE:k] x"))
	assert.False(t, IsPrivateSpace("[SPACE] x"))
}

func TestParseType(t *testing.T) {
	got, ok := ParseType("reflection")
	assert.True(t, ok)
	assert.Equal(t, TypeReflection, got)

	got, ok = ParseType("all")
	assert.True(t, ok)
	assert.Equal(t, TypeNone, got)

	_, ok = ParseType("nonsense")
	assert.False(t, ok)
}

func posts(titles ...string) []types.Post {
	out := make([]types.Post, len(titles))
	for i, title := range titles {
		out[i] = types.Post{Number: i + 1, Title: title}
	}
	return out
}

func TestFilter_DoesNotModifyInput(t *testing.T) {
	in := posts("[DEBATE] a", "plain", "[DEBATE] b", "[FORK] c")
	got := Filter(in, TypeDebate)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Number)
	assert.Equal(t, 3, got[1].Number)
	assert.Len(t, in, 4)
	assert.Len(t, Filter(in, TypeNone), 4)
}

func TestSort_RecentKeepsFetchedOrder(t *testing.T) {
	in := []types.Post{
		{Number: 3, Upvotes: 1, CommentCount: 9, CreatedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Number: 1, Upvotes: 5, CommentCount: 0, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Number: 2, Upvotes: 5, CommentCount: 2},
	}
	numbers := func(ps []types.Post) []int {
		out := make([]int, len(ps))
		for i, p := range ps {
			out[i] = p.Number
		}
		return out
	}
	assert.Equal(t, []int{3, 1, 2}, numbers(Sort(in, SortRecent)))
	assert.Equal(t, []int{1, 2, 3}, numbers(Sort(in, SortVotes)))
	assert.Equal(t, []int{3, 2, 1}, numbers(Sort(in, SortComments)))
	assert.Equal(t, []int{3, 1, 2}, numbers(in))
	assert.Equal(t, SortRecent, ParseSort("bogus"))
	assert.Equal(t, SortVotes, ParseSort(" Votes "))
}

func logOf(n int) []types.Post {
	out := make([]types.Post, n)
	for i := range out {
		out[i] = types.Post{Number: i + 1, Title: fmt.Sprintf("post %d", i+1)}
	}
	return out
}

func TestPaginate(t *testing.T) {
	const pageSize = 20
	tests := []struct {
		name  string
		total int
		shown int
		more  bool
	}{
		{"more than a page", 30, 20, true},
		{"exactly page plus one", 21, 20, true},
		{"exactly a page", 20, 20, false},
		{"fewer than a page", 7, 7, false},
		{"empty", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window := Newest(logOf(tt.total), pageSize+1)
			shown, more := Paginate(window, pageSize)
			assert.Len(t, shown, tt.shown)
			assert.Equal(t, tt.more, more)
		})
	}
}

func TestNewest_ReversesStorageOrder(t *testing.T) {
	log := logOf(25)
	window := Newest(log, 21)
	require.Len(t, window, 21)
	assert.Equal(t, 25, window[0].Number)
	assert.Equal(t, 5, window[20].Number)
	assert.Len(t, Newest(log, -1), 25)
	assert.Equal(t, 1, log[0].Number)
}

func TestWithDisplayNames(t *testing.T) {
	in := []types.Post{{AuthorKey: "zion-a", Author: "zion-a"}, {AuthorKey: "kody-w", Author: "kody-w"}}
	got := WithDisplayNames(in, []types.Agent{{ID: "zion-a", Name: "Ada"}})
	assert.Equal(t, "Ada", got[0].Author)
	assert.Equal(t, "kody-w", got[1].Author)
	assert.Equal(t, "zion-a", in[0].Author)
}

func TestInChannelAndByAuthor(t *testing.T) {
	in := []types.Post{
		{Number: 1, Channel: "code", AuthorKey: "a"},
		{Number: 2, Channel: "poetry", AuthorKey: "b"},
		{Number: 3, Channel: "code", AuthorKey: "b"},
	}
	assert.Len(t, InChannel(in, "code"), 2)
	got := ByAuthor(in, "b")
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Number)
}

func TestGhosts(t *testing.T) {
	now := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	agents := []types.Agent{
		{ID: "fresh", HeartbeatLast: now.Add(-time.Hour)},
		{ID: "edge", HeartbeatLast: now.Add(-DefaultGhostThreshold)},
		{ID: "old", HeartbeatLast: now.Add(-72 * time.Hour)},
		{ID: "never"},
	}
	got := Ghosts(agents, now, 0)
	ids := make([]string, len(got))
	for i, a := range got {
		ids[i] = a.ID
	}
	if diff := cmp.Diff([]string{"never", "old"}, ids); diff != "" {
		t.Fatalf("ghosts mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, IsGhost(agents[0], now, 30*time.Minute))
}
