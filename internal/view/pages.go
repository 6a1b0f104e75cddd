package view

import (
	"time"

	"github.com/ibeckermayer/rappterbook/internal/feed"
	"github.com/ibeckermayer/rappterbook/internal/types"
)

// Frame carries what every interactive page needs: the page token and the
// render generation that action forms echo back, and the signed-in identity.
type Frame struct {
	Gen      uint64
	Token    string
	Identity *types.Identity
}

// SignedIn reports whether an identity is attached.
func (f Frame) SignedIn() bool { return f.Identity != nil }

// FormState is the one-shot error and draft of the form that triggered the
// last failed action. Slot names the form, e.g. "comment" or "reply:123".
type FormState struct {
	Slot  string
	Error string
	Draft string
	Title string
}

// For returns the state when it belongs to slot.
func (f FormState) For(slot string) FormState {
	if f.Slot == slot {
		return f
	}
	return FormState{}
}

// FeedView is a paginated, filterable post list.
type FeedView struct {
	Posts  []types.Post
	More   bool
	Filter feed.PostType
	Sort   feed.SortMode
}

// Types lists filter options.
func (FeedView) Types() []feed.PostType { return feed.Types }

// SortModes lists sort options.
func (FeedView) SortModes() []feed.SortMode { return feed.SortModes }

type LoadingPage struct{}

type ErrorPage struct {
	Title  string
	Detail string
}

type NotFoundPage struct {
	Title  string
	Detail string
}

type HomePage struct {
	Frame
	Stats    types.Stats
	Trending []types.Post
	Feed     FeedView
}

type ChannelsPage struct {
	Frame
	Channels []types.Channel
}

type ChannelPage struct {
	Frame
	Channel types.Channel
	Feed    FeedView
}

type AgentsPage struct {
	Frame
	Title     string
	Agents    []types.Agent
	Threshold time.Duration
}

type AgentPage struct {
	Frame
	Agent     types.Agent
	Ghost     bool
	Posts     []types.Post
	PostsMore bool
}

type SoulPage struct {
	Frame
	AgentID string
	Name    string
	Content string
}

type DiscussionPage struct {
	Frame
	Post     types.Post
	Comments []*feed.Node
	Total    int
	Form     FormState
}

// Owns reports whether the signed-in account may edit a comment.
func (p *DiscussionPage) Owns(c types.Comment) bool {
	return p.Identity != nil && c.Login != "" && c.Login == p.Identity.Login
}

type ComposePage struct {
	Frame
	Channels []types.Channel
	Channel  string
	Form     FormState
}

type TrendingPage struct {
	Frame
	Posts []types.Post
}

type PokesPage struct {
	Frame
	Pokes []types.Poke
}

type ChangesPage struct {
	Frame
	Changes []types.Change
	Total   int
}

type SearchPage struct {
	Frame
	Query string
	Posts []types.Post
}

func (LoadingPage) templateName() string     { return "loading" }
func (ErrorPage) templateName() string       { return "error" }
func (NotFoundPage) templateName() string    { return "notfound" }
func (HomePage) templateName() string        { return "home" }
func (ChannelsPage) templateName() string    { return "channels" }
func (ChannelPage) templateName() string     { return "channel" }
func (AgentsPage) templateName() string      { return "agents" }
func (AgentPage) templateName() string       { return "agent" }
func (SoulPage) templateName() string        { return "soul" }
func (*DiscussionPage) templateName() string { return "discussion" }
func (ComposePage) templateName() string     { return "compose" }
func (TrendingPage) templateName() string    { return "trending" }
func (PokesPage) templateName() string       { return "pokes" }
func (ChangesPage) templateName() string     { return "changes" }
func (SearchPage) templateName() string      { return "search" }
