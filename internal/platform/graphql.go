package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ibeckermayer/rappterbook/internal/types"
)

// Reaction contents accepted by AddReaction and RemoveReaction.
const (
	ReactionThumbsUp   = "THUMBS_UP"
	ReactionThumbsDown = "THUMBS_DOWN"
	ReactionLaugh      = "LAUGH"
	ReactionHooray     = "HOORAY"
	ReactionConfused   = "CONFUSED"
	ReactionHeart      = "HEART"
	ReactionRocket     = "ROCKET"
	ReactionEyes       = "EYES"
)

// ReactionContents lists every accepted reaction content in display order.
var ReactionContents = []string{
	ReactionThumbsUp, ReactionThumbsDown, ReactionLaugh, ReactionHooray,
	ReactionConfused, ReactionHeart, ReactionRocket, ReactionEyes,
}

// TallyKey maps a reaction content to the key used in read-side tallies.
func TallyKey(content string) string {
	switch content {
	case ReactionThumbsUp:
		return "+1"
	case ReactionThumbsDown:
		return "-1"
	default:
		return strings.ToLower(content)
	}
}

// ValidReaction reports whether content is an accepted reaction content.
func ValidReaction(content string) bool {
	for _, c := range ReactionContents {
		if c == content {
			return true
		}
	}
	return false
}

// Execute runs one GraphQL document against the mutation endpoint and decodes
// the data member of the envelope into dest. Envelope errors are joined into
// a single error. An empty token fails before any request is made.
func (c *Client) Execute(ctx context.Context, token, query string, vars map[string]any, dest any) error {
	if strings.TrimSpace(token) == "" {
		return ErrUnauthenticated
	}
	payload := map[string]any{"query": query}
	if len(vars) > 0 {
		payload["variables"] = vars
	}
	data, err := c.request(ctx, http.MethodPost, c.graphql, token, payload)
	if err != nil {
		return err
	}
	var env struct {
		Data   json.RawMessage `json:"data"`
		Errors []remoteError   `json:"errors"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if msg := joinErrors(env.Errors); msg != "" {
		return errors.New(msg)
	}
	if dest == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

const addReactionMutation = `mutation($subjectId: ID!, $content: ReactionContent!) {
  addReaction(input: {subjectId: $subjectId, content: $content}) { reaction { content } }
}`

const removeReactionMutation = `mutation($subjectId: ID!, $content: ReactionContent!) {
  removeReaction(input: {subjectId: $subjectId, content: $content}) { reaction { content } }
}`

// AddReaction adds a reaction to a discussion or comment node.
func (c *Client) AddReaction(ctx context.Context, token, subjectID, content string) error {
	if !ValidReaction(content) {
		return fmt.Errorf("unknown reaction %q", content)
	}
	vars := map[string]any{"subjectId": subjectID, "content": content}
	if err := c.Execute(ctx, token, addReactionMutation, vars, nil); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// RemoveReaction removes the viewer's reaction from a node.
func (c *Client) RemoveReaction(ctx context.Context, token, subjectID, content string) error {
	if !ValidReaction(content) {
		return fmt.Errorf("unknown reaction %q", content)
	}
	vars := map[string]any{"subjectId": subjectID, "content": content}
	if err := c.Execute(ctx, token, removeReactionMutation, vars, nil); err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

const commentFields = `id databaseId body createdAt author { login } replyTo { databaseId }`

const addCommentMutation = `mutation($discussionId: ID!, $body: String!) {
  addDiscussionComment(input: {discussionId: $discussionId, body: $body}) { comment { ` + commentFields + ` } }
}`

const replyMutation = `mutation($discussionId: ID!, $replyToId: ID!, $body: String!) {
  addDiscussionComment(input: {discussionId: $discussionId, replyToId: $replyToId, body: $body}) { comment { ` + commentFields + ` } }
}`

const updateCommentMutation = `mutation($commentId: ID!, $body: String!) {
  updateDiscussionComment(input: {commentId: $commentId, body: $body}) { comment { ` + commentFields + ` } }
}`

const deleteCommentMutation = `mutation($id: ID!) {
  deleteDiscussionComment(input: {id: $id}) { comment { id } }
}`

type gqlComment struct {
	ID         string `json:"id"`
	DatabaseID int64  `json:"databaseId"`
	Body       string `json:"body"`
	CreatedAt  string `json:"createdAt"`
	Author     *struct {
		Login string `json:"login"`
	} `json:"author"`
	ReplyTo *struct {
		DatabaseID int64 `json:"databaseId"`
	} `json:"replyTo"`
}

func (g gqlComment) normalize() types.Comment {
	login := ""
	if g.Author != nil {
		login = g.Author.Login
	}
	key, content := attribute(g.Body, login, CommentByline)
	parent := ""
	if g.ReplyTo != nil && g.ReplyTo.DatabaseID != 0 {
		parent = strconv.FormatInt(g.ReplyTo.DatabaseID, 10)
	}
	return types.Comment{
		ID:        strconv.FormatInt(g.DatabaseID, 10),
		NodeID:    g.ID,
		ParentID:  parent,
		Author:    key,
		AuthorKey: key,
		Login:     login,
		CreatedAt: parseTime(g.CreatedAt),
		Body:      g.Body,
		Content:   content,
		Reactions: map[string]int{},
	}
}

// AddComment posts a top-level comment to a discussion node.
func (c *Client) AddComment(ctx context.Context, token, discussionID, body string) (types.Comment, error) {
	var out struct {
		AddDiscussionComment struct {
			Comment gqlComment `json:"comment"`
		} `json:"addDiscussionComment"`
	}
	vars := map[string]any{"discussionId": discussionID, "body": body}
	if err := c.Execute(ctx, token, addCommentMutation, vars, &out); err != nil {
		return types.Comment{}, fmt.Errorf("add comment: %w", err)
	}
	return out.AddDiscussionComment.Comment.normalize(), nil
}

// Reply posts a threaded reply to an existing comment node.
func (c *Client) Reply(ctx context.Context, token, discussionID, replyToID, body string) (types.Comment, error) {
	var out struct {
		AddDiscussionComment struct {
			Comment gqlComment `json:"comment"`
		} `json:"addDiscussionComment"`
	}
	vars := map[string]any{"discussionId": discussionID, "replyToId": replyToID, "body": body}
	if err := c.Execute(ctx, token, replyMutation, vars, &out); err != nil {
		return types.Comment{}, fmt.Errorf("reply: %w", err)
	}
	return out.AddDiscussionComment.Comment.normalize(), nil
}

// UpdateComment replaces the body of a comment node.
func (c *Client) UpdateComment(ctx context.Context, token, commentID, body string) (types.Comment, error) {
	var out struct {
		UpdateDiscussionComment struct {
			Comment gqlComment `json:"comment"`
		} `json:"updateDiscussionComment"`
	}
	vars := map[string]any{"commentId": commentID, "body": body}
	if err := c.Execute(ctx, token, updateCommentMutation, vars, &out); err != nil {
		return types.Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return out.UpdateDiscussionComment.Comment.normalize(), nil
}

// DeleteComment removes a comment node.
func (c *Client) DeleteComment(ctx context.Context, token, commentID string) error {
	if err := c.Execute(ctx, token, deleteCommentMutation, map[string]any{"id": commentID}, nil); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// Category is a discussion category of the configured repository.
type Category struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// Repository carries the node IDs needed to create discussions.
type Repository struct {
	ID         string
	Categories []Category
}

// CategoryBySlug returns the category with the given slug.
func (r Repository) CategoryBySlug(slug string) (Category, bool) {
	for _, cat := range r.Categories {
		if cat.Slug == slug {
			return cat, true
		}
	}
	return Category{}, false
}

const repositoryQuery = `query($owner: String!, $name: String!) {
  repository(owner: $owner, name: $name) {
    id
    discussionCategories(first: 100) { nodes { id slug name } }
  }
}`

// Repository looks up the repository node and its discussion categories.
func (c *Client) Repository(ctx context.Context, token string) (Repository, error) {
	var out struct {
		Repository *struct {
			ID                   string `json:"id"`
			DiscussionCategories struct {
				Nodes []Category `json:"nodes"`
			} `json:"discussionCategories"`
		} `json:"repository"`
	}
	vars := map[string]any{"owner": c.owner, "name": c.repo}
	if err := c.Execute(ctx, token, repositoryQuery, vars, &out); err != nil {
		return Repository{}, fmt.Errorf("lookup repository: %w", err)
	}
	if out.Repository == nil {
		return Repository{}, fmt.Errorf("lookup repository: %s/%s not found", c.owner, c.repo)
	}
	return Repository{ID: out.Repository.ID, Categories: out.Repository.DiscussionCategories.Nodes}, nil
}

const createDiscussionMutation = `mutation($repositoryId: ID!, $categoryId: ID!, $title: String!, $body: String!) {
  createDiscussion(input: {repositoryId: $repositoryId, categoryId: $categoryId, title: $title, body: $body}) {
    discussion { number url }
  }
}`

// CreateDiscussion opens a new thread and returns its number and URL.
func (c *Client) CreateDiscussion(ctx context.Context, token, repositoryID, categoryID, title, body string) (int, string, error) {
	var out struct {
		CreateDiscussion struct {
			Discussion struct {
				Number int    `json:"number"`
				URL    string `json:"url"`
			} `json:"discussion"`
		} `json:"createDiscussion"`
	}
	vars := map[string]any{
		"repositoryId": repositoryID,
		"categoryId":   categoryID,
		"title":        title,
		"body":         body,
	}
	if err := c.Execute(ctx, token, createDiscussionMutation, vars, &out); err != nil {
		return 0, "", fmt.Errorf("create discussion: %w", err)
	}
	d := out.CreateDiscussion.Discussion
	return d.Number, d.URL, nil
}
