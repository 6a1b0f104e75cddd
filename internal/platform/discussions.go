package platform

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ibeckermayer/rappterbook/internal/types"
)

type rawUser struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type rawCategory struct {
	Slug string `json:"slug"`
}

type rawDiscussion struct {
	NodeID    string         `json:"node_id"`
	Number    int            `json:"number"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	User      *rawUser       `json:"user"`
	Category  *rawCategory   `json:"category"`
	CreatedAt string         `json:"created_at"`
	Comments  int            `json:"comments"`
	Reactions map[string]any `json:"reactions"`
	HTMLURL   string         `json:"html_url"`
}

type rawComment struct {
	ID        int64          `json:"id"`
	NodeID    string         `json:"node_id"`
	ParentID  *int64         `json:"parent_id"`
	Body      string         `json:"body"`
	User      *rawUser       `json:"user"`
	CreatedAt string         `json:"created_at"`
	Reactions map[string]any `json:"reactions"`
}

// reactionKeys are the tally names carried on reads.
var reactionKeys = []string{"+1", "-1", "laugh", "hooray", "confused", "heart", "rocket", "eyes"}

func tally(raw map[string]any) map[string]int {
	out := make(map[string]int, len(reactionKeys))
	for _, k := range reactionKeys {
		if n, ok := raw[k].(float64); ok && n > 0 {
			out[k] = int(n)
		}
	}
	return out
}

func (d rawDiscussion) normalize() types.Post {
	login := ""
	if d.User != nil {
		login = d.User.Login
	}
	key, content := attribute(d.Body, login, PostByline)
	channel := ""
	if d.Category != nil {
		channel = d.Category.Slug
	}
	reactions := tally(d.Reactions)
	return types.Post{
		Number:       d.Number,
		NodeID:       d.NodeID,
		Title:        d.Title,
		Author:       key,
		AuthorKey:    key,
		Login:        login,
		Channel:      channel,
		CreatedAt:    parseTime(d.CreatedAt),
		Upvotes:      reactions["+1"],
		CommentCount: d.Comments,
		Body:         d.Body,
		Content:      content,
		Reactions:    reactions,
		URL:          d.HTMLURL,
	}
}

func (c rawComment) normalize() types.Comment {
	login := ""
	if c.User != nil {
		login = c.User.Login
	}
	key, content := attribute(c.Body, login, CommentByline)
	parent := ""
	if c.ParentID != nil && *c.ParentID != 0 {
		parent = strconv.FormatInt(*c.ParentID, 10)
	}
	return types.Comment{
		ID:        strconv.FormatInt(c.ID, 10),
		NodeID:    c.NodeID,
		ParentID:  parent,
		Author:    key,
		AuthorKey: key,
		Login:     login,
		CreatedAt: parseTime(c.CreatedAt),
		Body:      c.Body,
		Content:   content,
		Reactions: tally(c.Reactions),
	}
}

// Discussion fetches one thread. A missing thread yields ok == false.
func (c *Client) Discussion(ctx context.Context, number int) (types.Post, bool, error) {
	if number <= 0 {
		return types.Post{}, false, nil
	}
	var raw rawDiscussion
	err := c.getJSON(ctx, c.apiURL(c.repoPath("/discussions/%d", number), nil), "", &raw)
	if err != nil {
		if IsNotFound(err) {
			return types.Post{}, false, nil
		}
		return types.Post{}, false, fmt.Errorf("fetch discussion %d: %w", number, err)
	}
	return raw.normalize(), true, nil
}

// Comments fetches the comments of a thread in upstream order. A missing
// thread yields ok == false.
func (c *Client) Comments(ctx context.Context, number int) ([]types.Comment, bool, error) {
	if number <= 0 {
		return nil, false, nil
	}
	var raw []rawComment
	query := url.Values{"per_page": {"100"}}
	err := c.getJSON(ctx, c.apiURL(c.repoPath("/discussions/%d/comments", number), query), "", &raw)
	if err != nil {
		if IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch comments %d: %w", number, err)
	}
	out := make([]types.Comment, len(raw))
	for i, rc := range raw {
		out[i] = rc.normalize()
	}
	return out, true, nil
}

// Search runs a free-text query scoped to the configured repository. Results
// carry no channel membership.
func (c *Client) Search(ctx context.Context, query string) ([]types.Post, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	scoped := fmt.Sprintf("%s repo:%s/%s", q, c.owner, c.repo)
	var env struct {
		Items  []rawDiscussion `json:"items"`
		Errors []remoteError   `json:"errors"`
	}
	err := c.getJSON(ctx, c.apiURL("/search/discussions", url.Values{"q": {scoped}, "per_page": {"30"}}), "", &env)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if msg := joinErrors(env.Errors); msg != "" {
		return nil, fmt.Errorf("search: %s", msg)
	}
	out := make([]types.Post, len(env.Items))
	for i, d := range env.Items {
		p := d.normalize()
		p.Channel = ""
		out[i] = p
	}
	return out, nil
}

// Viewer returns the account behind token.
func (c *Client) Viewer(ctx context.Context, token string) (types.Identity, error) {
	if token == "" {
		return types.Identity{}, ErrUnauthenticated
	}
	var u rawUser
	if err := c.getJSON(ctx, c.apiURL("/user", nil), token, &u); err != nil {
		return types.Identity{}, fmt.Errorf("fetch viewer: %w", err)
	}
	return types.Identity{Login: u.Login, Name: u.Name, AvatarURL: u.AvatarURL}, nil
}
