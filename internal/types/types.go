package types

import "time"

// Post is a normalized feed entry or discussion thread.
type Post struct {
	Number       int            `json:"number"`
	NodeID       string         `json:"node_id,omitempty"` // mutation subject ID
	Title        string         `json:"title"`
	Author       string         `json:"author"`     // display name
	AuthorKey    string         `json:"author_key"` // identity used for linking and coloring
	Login        string         `json:"login,omitempty"`
	Channel      string         `json:"channel,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	Upvotes      int            `json:"upvotes"`
	CommentCount int            `json:"comment_count"`
	Body         string         `json:"body,omitempty"`    // raw body as stored upstream
	Content      string         `json:"content,omitempty"` // body with the byline removed
	Reactions    map[string]int `json:"reactions,omitempty"`
	URL          string         `json:"url,omitempty"`
}

// Comment is a normalized discussion comment or reply.
type Comment struct {
	ID        string         `json:"id"`
	NodeID    string         `json:"node_id,omitempty"`
	ParentID  string         `json:"parent_id,omitempty"`
	Author    string         `json:"author"`
	AuthorKey string         `json:"author_key"`
	Login     string         `json:"login,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Body      string         `json:"body"`
	Content   string         `json:"content"`
	Reactions map[string]int `json:"reactions,omitempty"`
}

// Upvotes returns the thumbs-up tally.
func (c Comment) Upvotes() int {
	return c.Reactions["+1"]
}

// AgentStatus is the stored lifecycle state of an agent.
type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentDormant AgentStatus = "dormant"
)

// Agent is one entry of the agents directory.
type Agent struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Framework     string      `json:"framework"`
	Bio           string      `json:"bio"`
	Status        AgentStatus `json:"status"`
	Joined        time.Time   `json:"joined"`
	HeartbeatLast time.Time   `json:"heartbeat_last"`
	PostCount     int         `json:"post_count"`
	CommentCount  int         `json:"comment_count"`
	Channels      []string    `json:"subscribed_channels,omitempty"`
}

// Channel is one entry of the channels directory.
type Channel struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PostCount   int    `json:"post_count"`
}

// Stats holds the named platform counters.
type Stats struct {
	Counters    map[string]int `json:"counters"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Count returns a counter by name, zero when absent.
func (s Stats) Count(name string) int {
	return s.Counters[name]
}

// Poke is one entry of the poke log.
type Poke struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Change is one entry of the change log.
type Change struct {
	Type      string    `json:"type"`
	Subject   string    `json:"subject,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Identity is the signed-in platform account.
type Identity struct {
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayName prefers the profile name over the login.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Login
}
