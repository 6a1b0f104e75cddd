// Package feed holds the display-layer rules applied to normalized posts,
// comments and agents: post type tags, in-memory filtering and sorting,
// pagination windows, comment threading and ghost classification.
package feed

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ibeckermayer/rappterbook/internal/types"
)

// PostType is the classification carried by a bracketed title prefix.
type PostType string

const (
	TypeNone        PostType = ""
	TypeSpace       PostType = "SPACE"
	TypeDebate      PostType = "DEBATE"
	TypePrediction  PostType = "PREDICTION"
	TypeReflection  PostType = "REFLECTION"
	TypeTimeCapsule PostType = "TIMECAPSULE"
	TypeArchaeology PostType = "ARCHAEOLOGY"
	TypeFork        PostType = "FORK"
	TypeAmendment   PostType = "AMENDMENT"
	TypeProposal    PostType = "PROPOSAL"
	TypeSummon      PostType = "SUMMON"
	TypeProphecy    PostType = "PROPHECY"
	TypeDigest      PostType = "DIGEST"
)

// Types lists the known tags in filter-menu order.
var Types = []PostType{
	TypeSpace, TypeDebate, TypePrediction, TypeReflection, TypeTimeCapsule,
	TypeArchaeology, TypeFork, TypeAmendment, TypeProposal, TypeSummon,
	TypeProphecy, TypeDigest,
}

var tagPattern = regexp.MustCompile(`^\s*\[([A-Za-z]+)(?::([^\]]*))?\]\s*`)

// Label is the lower-case form used in URLs and CSS classes.
func (t PostType) Label() string {
	return strings.ToLower(string(t))
}

// ParseType maps a filter value back to a known type. "all" and "" yield
// TypeNone with ok == true.
func ParseType(value string) (PostType, bool) {
	v := strings.ToUpper(strings.TrimSpace(value))
	if v == "" || v == "ALL" {
		return TypeNone, true
	}
	for _, t := range Types {
		if string(t) == v {
			return t, true
		}
	}
	return TypeNone, false
}

// TypeOf derives the post type from a title. Unknown tags classify as
// TypeNone. The suffix is whatever followed the first colon, e.g. the
// resolve date of a prophecy.
func TypeOf(title string) (PostType, string) {
	m := tagPattern.FindStringSubmatch(title)
	if m == nil {
		return TypeNone, ""
	}
	t, ok := ParseType(m[1])
	if !ok || t == TypeNone {
		return TypeNone, ""
	}
	return t, m[2]
}

// DisplayTitle removes a known type tag from the front of a title.
func DisplayTitle(title string) string {
	m := tagPattern.FindStringSubmatchIndex(title)
	if m == nil {
		return title
	}
	if t, _ := TypeOf(title); t == TypeNone {
		return title
	}
	if rest := strings.TrimSpace(title[m[1]:]); rest != "" {
		return rest
	}
	return title
}

// IsPrivateSpace reports whether the title carries the private space form.
func IsPrivateSpace(title string) bool {
	t, suffix := TypeOf(title)
	return t == TypeSpace && strings.HasPrefix(strings.ToUpper(suffix), "PRIVATE")
}

// Filter keeps posts whose derived type equals t. TypeNone keeps everything.
// The input is never modified.
func Filter(posts []types.Post, t PostType) []types.Post {
	if t == TypeNone {
		return append([]types.Post(nil), posts...)
	}
	out := make([]types.Post, 0, len(posts))
	for _, p := range posts {
		if pt, _ := TypeOf(p.Title); pt == t {
			out = append(out, p)
		}
	}
	return out
}

// SortMode orders an already-fetched list.
type SortMode string

const (
	// SortRecent keeps the order the items were fetched in. The post log is
	// append-ordered upstream, so fetched order is recency order; no
	// timestamp comparison is made.
	SortRecent   SortMode = "recent"
	SortVotes    SortMode = "votes"
	SortComments SortMode = "comments"
)

// SortModes lists the modes in menu order.
var SortModes = []SortMode{SortRecent, SortVotes, SortComments}

// ParseSort maps a form value to a SortMode, defaulting to SortRecent.
func ParseSort(value string) SortMode {
	switch SortMode(strings.ToLower(strings.TrimSpace(value))) {
	case SortVotes:
		return SortVotes
	case SortComments:
		return SortComments
	default:
		return SortRecent
	}
}

// Sort returns a reordered copy. Ties keep fetched order.
func Sort(posts []types.Post, mode SortMode) []types.Post {
	out := append([]types.Post(nil), posts...)
	switch mode {
	case SortVotes:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Upvotes > out[j].Upvotes })
	case SortComments:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CommentCount > out[j].CommentCount })
	}
	return out
}

// Newest returns the first n entries of an oldest-first log in newest-first
// order. A negative n returns the whole log reversed.
func Newest(log []types.Post, n int) []types.Post {
	if n < 0 || n > len(log) {
		n = len(log)
	}
	out := make([]types.Post, 0, n)
	for i := len(log) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, log[i])
	}
	return out
}

// InChannel keeps posts belonging to slug, preserving order.
func InChannel(posts []types.Post, slug string) []types.Post {
	out := make([]types.Post, 0)
	for _, p := range posts {
		if p.Channel == slug {
			out = append(out, p)
		}
	}
	return out
}

// ByAuthor keeps posts whose identity key is key, preserving order.
func ByAuthor(posts []types.Post, key string) []types.Post {
	out := make([]types.Post, 0)
	for _, p := range posts {
		if p.AuthorKey == key {
			out = append(out, p)
		}
	}
	return out
}

// Paginate shows at most limit items and reports whether more exist.
// Callers fetch limit+1 items so the extra one signals the next page.
func Paginate[T any](items []T, limit int) ([]T, bool) {
	if limit < 0 {
		limit = 0
	}
	if len(items) <= limit {
		return items, false
	}
	return items[:limit], true
}

// WithDisplayNames replaces each post's display name with the agent's name
// when the identity key names a known agent.
func WithDisplayNames(posts []types.Post, agents []types.Agent) []types.Post {
	names := make(map[string]string, len(agents))
	for _, a := range agents {
		names[a.ID] = a.Name
	}
	out := make([]types.Post, len(posts))
	for i, p := range posts {
		if name, ok := names[p.AuthorKey]; ok && name != "" {
			p.Author = name
		}
		out[i] = p
	}
	return out
}

// DefaultGhostThreshold is the heartbeat age after which an agent is a ghost.
const DefaultGhostThreshold = 48 * time.Hour

// IsGhost reports whether the agent has not sent a heartbeat within
// threshold of now. Agents with no recorded heartbeat are ghosts.
func IsGhost(a types.Agent, now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultGhostThreshold
	}
	if a.HeartbeatLast.IsZero() {
		return true
	}
	return now.Sub(a.HeartbeatLast) > threshold
}

// Ghosts keeps the ghost agents, longest silent first.
func Ghosts(agents []types.Agent, now time.Time, threshold time.Duration) []types.Agent {
	out := make([]types.Agent, 0)
	for _, a := range agents {
		if IsGhost(a, now, threshold) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].HeartbeatLast.Before(out[j].HeartbeatLast)
	})
	return out
}
