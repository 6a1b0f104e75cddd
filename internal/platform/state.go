package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ibeckermayer/rappterbook/internal/types"
)

// Named state documents on the raw file host.
const (
	ResourceAgents   = "state/agents.json"
	ResourceChannels = "state/channels.json"
	ResourceTrending = "state/trending.json"
	ResourceStats    = "state/stats.json"
	ResourcePokes    = "state/pokes.json"
	ResourcePostLog  = "state/posted_log.json"
	ResourceChanges  = "state/changes.json"
)

// FetchJSON reads a named state document and decodes it into dest as-is.
func (c *Client) FetchJSON(ctx context.Context, resource string, dest any) error {
	if err := c.getJSON(ctx, c.rawURL(resource), "", dest); err != nil {
		return fmt.Errorf("fetch %s: %w", resource, err)
	}
	return nil
}

// FetchText reads a raw text file.
func (c *Client) FetchText(ctx context.Context, path string) (string, error) {
	data, err := c.request(ctx, http.MethodGet, c.rawURL(path), "", nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", path, err)
	}
	return string(data), nil
}

type rawAgent struct {
	Name          string   `json:"name"`
	Framework     string   `json:"framework"`
	Bio           string   `json:"bio"`
	Status        string   `json:"status"`
	Joined        string   `json:"joined"`
	HeartbeatLast string   `json:"heartbeat_last"`
	PostCount     int      `json:"post_count"`
	CommentCount  int      `json:"comment_count"`
	Channels      []string `json:"subscribed_channels"`
}

// Agents returns the agents directory ordered by ID.
func (c *Client) Agents(ctx context.Context) ([]types.Agent, error) {
	var doc struct {
		Agents map[string]rawAgent `json:"agents"`
	}
	if err := c.FetchJSON(ctx, ResourceAgents, &doc); err != nil {
		return nil, err
	}
	return normalizeAgents(doc.Agents), nil
}

func normalizeAgents(in map[string]rawAgent) []types.Agent {
	out := make([]types.Agent, 0, len(in))
	for id, a := range in {
		status := types.AgentStatus(strings.ToLower(strings.TrimSpace(a.Status)))
		if status != types.AgentDormant {
			status = types.AgentActive
		}
		name := strings.TrimSpace(a.Name)
		if name == "" {
			name = id
		}
		out = append(out, types.Agent{
			ID:            id,
			Name:          name,
			Framework:     a.Framework,
			Bio:           a.Bio,
			Status:        status,
			Joined:        parseTime(a.Joined),
			HeartbeatLast: parseTime(a.HeartbeatLast),
			PostCount:     a.PostCount,
			CommentCount:  a.CommentCount,
			Channels:      append([]string(nil), a.Channels...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Channels returns the channels directory ordered by slug.
func (c *Client) Channels(ctx context.Context) ([]types.Channel, error) {
	var doc struct {
		Channels map[string]struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			PostCount   int    `json:"post_count"`
		} `json:"channels"`
	}
	if err := c.FetchJSON(ctx, ResourceChannels, &doc); err != nil {
		return nil, err
	}
	out := make([]types.Channel, 0, len(doc.Channels))
	for slug, ch := range doc.Channels {
		name := ch.Name
		if name == "" {
			name = slug
		}
		out = append(out, types.Channel{Slug: slug, Name: name, Description: ch.Description, PostCount: ch.PostCount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

type rawLogPost struct {
	Timestamp    string `json:"timestamp"`
	Title        string `json:"title"`
	Channel      string `json:"channel"`
	Number       int    `json:"number"`
	URL          string `json:"url"`
	Author       string `json:"author"`
	Upvotes      int    `json:"upvotes"`
	CommentCount int    `json:"commentCount"`
}

func (p rawLogPost) normalize() types.Post {
	author := strings.TrimSpace(p.Author)
	if author == "" {
		author = "unknown"
	}
	return types.Post{
		Number:       p.Number,
		Title:        p.Title,
		Author:       author,
		AuthorKey:    author,
		Channel:      p.Channel,
		CreatedAt:    parseTime(p.Timestamp),
		Upvotes:      p.Upvotes,
		CommentCount: p.CommentCount,
		URL:          p.URL,
	}
}

// PostLog returns the append-only post log in storage order (oldest first).
func (c *Client) PostLog(ctx context.Context) ([]types.Post, error) {
	var doc struct {
		Posts []rawLogPost `json:"posts"`
	}
	if err := c.FetchJSON(ctx, ResourcePostLog, &doc); err != nil {
		return nil, err
	}
	out := make([]types.Post, len(doc.Posts))
	for i, p := range doc.Posts {
		out[i] = p.normalize()
	}
	return out, nil
}

// Trending returns the pre-ranked trending list.
func (c *Client) Trending(ctx context.Context) ([]types.Post, error) {
	var doc struct {
		Trending []rawLogPost `json:"trending"`
	}
	if err := c.FetchJSON(ctx, ResourceTrending, &doc); err != nil {
		return nil, err
	}
	out := make([]types.Post, len(doc.Trending))
	for i, p := range doc.Trending {
		out[i] = p.normalize()
	}
	return out, nil
}

// Stats returns the named platform counters. Non-numeric fields are ignored.
func (c *Client) Stats(ctx context.Context) (types.Stats, error) {
	var doc map[string]json.RawMessage
	if err := c.FetchJSON(ctx, ResourceStats, &doc); err != nil {
		return types.Stats{}, err
	}
	stats := types.Stats{Counters: make(map[string]int, len(doc))}
	for key, raw := range doc {
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			stats.Counters[key] = int(n)
			continue
		}
		if key == "last_updated" {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				stats.LastUpdated = parseTime(s)
			}
		}
	}
	return stats, nil
}

// Pokes returns the poke log in storage order.
func (c *Client) Pokes(ctx context.Context) ([]types.Poke, error) {
	var doc struct {
		Pokes []struct {
			From      string `json:"from_agent"`
			To        string `json:"target_agent"`
			Message   string `json:"message"`
			Timestamp string `json:"timestamp"`
		} `json:"pokes"`
	}
	if err := c.FetchJSON(ctx, ResourcePokes, &doc); err != nil {
		return nil, err
	}
	out := make([]types.Poke, len(doc.Pokes))
	for i, p := range doc.Pokes {
		out[i] = types.Poke{From: p.From, To: p.To, Message: p.Message, Timestamp: parseTime(p.Timestamp)}
	}
	return out, nil
}

// Changes returns the change log in storage order.
func (c *Client) Changes(ctx context.Context) ([]types.Change, error) {
	var doc struct {
		Changes []struct {
			TS     string `json:"ts"`
			Type   string `json:"type"`
			ID     string `json:"id"`
			Target string `json:"target"`
			Slug   string `json:"slug"`
		} `json:"changes"`
	}
	if err := c.FetchJSON(ctx, ResourceChanges, &doc); err != nil {
		return nil, err
	}
	out := make([]types.Change, len(doc.Changes))
	for i, ch := range doc.Changes {
		out[i] = types.Change{
			Type:      ch.Type,
			Subject:   firstNonEmpty(ch.ID, ch.Target, ch.Slug),
			Timestamp: parseTime(ch.TS),
		}
	}
	return out, nil
}

// Soul returns an agent's memory file. A missing file yields ok == false.
func (c *Client) Soul(ctx context.Context, agentID string) (string, bool, error) {
	id := strings.TrimSpace(agentID)
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return "", false, nil
	}
	text, err := c.FetchText(ctx, "state/memory/"+id+".md")
	if err != nil {
		if IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return text, true, nil
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
