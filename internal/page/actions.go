package page

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ibeckermayer/rappterbook/internal/feed"
	"github.com/ibeckermayer/rappterbook/internal/platform"
	"github.com/ibeckermayer/rappterbook/internal/types"
	"github.com/ibeckermayer/rappterbook/internal/view"
)

// Outcome tells the HTTP layer where to send the browser after an action.
type Outcome struct {
	Redirect string
}

// formError is a message meant for the form that triggered an action.
type formError string

func (e formError) Error() string { return string(e) }

const (
	errEmptyBody       formError = "Write something first."
	errEmptyTitle      formError = "Give the post a title."
	errNotLoaded       formError = "This page changed while you were on it. Try again."
	errUnknownTarget   formError = "That comment no longer exists."
	errNotOwner        formError = "You can only change your own comments."
	errExpired         formError = "Your sign-in expired. Sign in again to continue."
	errUnknownReaction formError = "Unknown reaction."
	errUnknownChannel  formError = "Pick an existing channel."
	errUnknownAction   formError = "Unknown action."
)

// Perform runs one action submitted from a rendered page. Forms carry the
// page token and the generation of the render that offered them. The action
// runs when the latest committed render of that page, within the same visit,
// bound it; otherwise it is rejected and the browser is sent back to the
// page.
func (c *Controller) Perform(ctx context.Context, s *Screen, form url.Values) Outcome {
	action := form.Get("action")
	gen, _ := strconv.ParseUint(form.Get("gen"), 10, 64)

	s.mu.Lock()
	key := s.current
	if page := form.Get("page"); page != "" {
		key = canonical(page)
	}
	v, ok := s.visits[key]
	bound := ok && v.accepts(gen, action)
	var state NavigationState
	if ok {
		state = v.state
	}
	session := s.session
	s.mu.Unlock()

	if key == "" || !c.Known(key) {
		key = "/"
	}
	if !bound {
		c.logger.Info("rejecting stale action",
			zap.String("session", session),
			zap.String("token", key),
			zap.String("action", action),
			zap.Uint64("gen", gen))
		return Outcome{Redirect: key}
	}

	pageSize := c.options().PageSize
	switch action {
	case ActionMore:
		c.update(s, key, false, func(st *NavigationState) { st.Visible += pageSize })
	case ActionFilter:
		t, ok := feed.ParseType(form.Get("type"))
		if !ok {
			t = feed.TypeNone
		}
		c.update(s, key, true, func(st *NavigationState) { st.Filter = t })
	case ActionSort:
		order := feed.ParseSort(form.Get("sort"))
		c.update(s, key, true, func(st *NavigationState) { st.Sort = order })
	default:
		return c.mutate(ctx, s, session, key, action, state, form)
	}
	return Outcome{Redirect: key}
}

// update changes the navigation state of a page and re-renders it.
func (c *Controller) update(s *Screen, key string, reuse bool, change func(*NavigationState)) {
	s.mu.Lock()
	if v, ok := s.visits[key]; ok {
		change(&v.state)
	}
	s.mu.Unlock()
	c.dispatch(s, key, mode{reuse: reuse, fresh: true, keep: true})
}

func slotFor(action string, form url.Values) string {
	switch action {
	case ActionReply, ActionEdit, ActionDelete:
		return action + ":" + form.Get("comment")
	default:
		return action
	}
}

func (c *Controller) mutate(ctx context.Context, s *Screen, session, current, action string, state NavigationState, form url.Values) Outcome {
	token, err := c.auth.Token(ctx, session)
	if err != nil {
		c.logger.Warn("failed to read credential", zap.String("session", session), zap.Error(err))
	}
	if token == "" {
		return Outcome{Redirect: loginPath(current)}
	}

	ident, err := c.auth.Identity(ctx, session)
	if err != nil {
		c.logger.Warn("identity lookup failed", zap.String("session", session), zap.Error(err))
	}
	if ident == nil {
		// The credential was rejected while resolving the identity.
		return Outcome{Redirect: loginPath(current)}
	}

	redirect, err := c.apply(ctx, token, *ident, action, state, form)
	if err != nil {
		if errors.Is(err, platform.ErrUnauthenticated) {
			return Outcome{Redirect: loginPath(current)}
		}
		if errors.Is(err, platform.ErrUnauthorized) {
			c.auth.Invalidate(ctx, session, err)
			err = errExpired
		}
		c.logger.Warn("action failed",
			zap.String("session", session),
			zap.String("action", action),
			zap.Error(err))
		fs := view.FormState{
			Slot:  slotFor(action, form),
			Error: err.Error(),
			Draft: form.Get("body"),
			Title: form.Get("title"),
		}
		c.update(s, current, true, func(st *NavigationState) { st.Form = fs })
		return Outcome{Redirect: current}
	}

	c.logger.Info("action applied", zap.String("session", session), zap.String("action", action))
	c.cache.Clear()
	if redirect != "" && redirect != current {
		return Outcome{Redirect: redirect}
	}
	c.update(s, current, false, func(st *NavigationState) { st.Form = view.FormState{} })
	return Outcome{Redirect: current}
}

// apply performs one mutation. A non-empty redirect replaces the current page.
func (c *Controller) apply(ctx context.Context, token string, ident types.Identity, action string, state NavigationState, form url.Values) (string, error) {
	body := strings.TrimSpace(form.Get("body"))

	if action == ActionCreate {
		return c.create(ctx, token, ident, form.Get("channel"), strings.TrimSpace(form.Get("title")), body)
	}

	data, ok := state.loaded.(discussionData)
	if !ok {
		return "", errNotLoaded
	}

	switch action {
	case ActionVote:
		return "", c.gateway.AddReaction(ctx, token, data.post.NodeID, platform.ReactionThumbsUp)

	case ActionReact:
		content := strings.ToUpper(strings.TrimSpace(form.Get("content")))
		if !platform.ValidReaction(content) {
			return "", errUnknownReaction
		}
		if form.Get("remove") != "" {
			return "", c.gateway.RemoveReaction(ctx, token, data.post.NodeID, content)
		}
		return "", c.gateway.AddReaction(ctx, token, data.post.NodeID, content)

	case ActionComment:
		if body == "" {
			return "", errEmptyBody
		}
		_, err := c.gateway.AddComment(ctx, token, data.post.NodeID, platform.FormatCommentBody(ident.Login, body))
		return "", err

	case ActionReply:
		if body == "" {
			return "", errEmptyBody
		}
		target, ok := data.comment(form.Get("comment"))
		if !ok {
			return "", errUnknownTarget
		}
		// Replies nest one level; answering a reply answers its thread.
		if target.ParentID != "" {
			if parent, ok := data.comment(target.ParentID); ok {
				target = parent
			}
		}
		_, err := c.gateway.Reply(ctx, token, data.post.NodeID, target.NodeID, platform.FormatCommentBody(ident.Login, body))
		return "", err

	case ActionEdit:
		if body == "" {
			return "", errEmptyBody
		}
		target, err := owned(data, form.Get("comment"), ident)
		if err != nil {
			return "", err
		}
		_, err = c.gateway.UpdateComment(ctx, token, target.NodeID, platform.FormatCommentBody(ident.Login, body))
		return "", err

	case ActionDelete:
		target, err := owned(data, form.Get("comment"), ident)
		if err != nil {
			return "", err
		}
		return "", c.gateway.DeleteComment(ctx, token, target.NodeID)

	default:
		return "", errUnknownAction
	}
}

func owned(data discussionData, id string, ident types.Identity) (types.Comment, error) {
	target, ok := data.comment(id)
	if !ok {
		return types.Comment{}, errUnknownTarget
	}
	if target.Login == "" || target.Login != ident.Login {
		return types.Comment{}, errNotOwner
	}
	return target, nil
}

func (c *Controller) create(ctx context.Context, token string, ident types.Identity, channel, title, body string) (string, error) {
	switch {
	case title == "":
		return "", errEmptyTitle
	case body == "":
		return "", errEmptyBody
	}
	repo, err := c.gateway.Repository(ctx, token)
	if err != nil {
		return "", err
	}
	category, ok := repo.CategoryBySlug(channel)
	if !ok {
		return "", errUnknownChannel
	}
	number, _, err := c.gateway.CreateDiscussion(ctx, token, repo.ID, category.ID, title, platform.FormatPostBody(ident.Login, body))
	if err != nil {
		return "", err
	}
	return "/discussions/" + strconv.Itoa(number), nil
}
