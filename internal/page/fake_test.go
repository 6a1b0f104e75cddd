package page

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ibeckermayer/rappterbook/internal/cache"
	"github.com/ibeckermayer/rappterbook/internal/platform"
	"github.com/ibeckermayer/rappterbook/internal/types"
	"github.com/ibeckermayer/rappterbook/internal/view"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls map[string]int
	// errs fail the next call of a method once.
	errs map[string]error
	// holds block a method until the channel is closed.
	holds map[string]chan struct{}

	agents      []types.Agent
	channels    []types.Channel
	log         []types.Post
	trending    []types.Post
	stats       types.Stats
	pokes       []types.Poke
	changes     []types.Change
	souls       map[string]string
	discussions map[int]types.Post
	comments    map[int][]types.Comment
	results     []types.Post
	repo        platform.Repository

	mutationErr error
	reactions   []string
	bodies      []string
	created     []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		calls:       map[string]int{},
		errs:        map[string]error{},
		holds:       map[string]chan struct{}{},
		souls:       map[string]string{},
		discussions: map[int]types.Post{},
		comments:    map[int][]types.Comment{},
	}
}

func (f *fakeGateway) enter(ctx context.Context, name string) error {
	f.mu.Lock()
	f.calls[name]++
	err := f.errs[name]
	delete(f.errs, name)
	hold := f.holds[name]
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeGateway) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGateway) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.calls {
		n += v
	}
	return n
}

func (f *fakeGateway) Agents(ctx context.Context) ([]types.Agent, error) {
	return f.agents, f.enter(ctx, "Agents")
}

func (f *fakeGateway) Channels(ctx context.Context) ([]types.Channel, error) {
	return f.channels, f.enter(ctx, "Channels")
}

func (f *fakeGateway) PostLog(ctx context.Context) ([]types.Post, error) {
	return f.log, f.enter(ctx, "PostLog")
}

func (f *fakeGateway) Trending(ctx context.Context) ([]types.Post, error) {
	return f.trending, f.enter(ctx, "Trending")
}

func (f *fakeGateway) Stats(ctx context.Context) (types.Stats, error) {
	return f.stats, f.enter(ctx, "Stats")
}

func (f *fakeGateway) Pokes(ctx context.Context) ([]types.Poke, error) {
	return f.pokes, f.enter(ctx, "Pokes")
}

func (f *fakeGateway) Changes(ctx context.Context) ([]types.Change, error) {
	return f.changes, f.enter(ctx, "Changes")
}

func (f *fakeGateway) Soul(ctx context.Context, id string) (string, bool, error) {
	if err := f.enter(ctx, "Soul"); err != nil {
		return "", false, err
	}
	s, ok := f.souls[id]
	return s, ok, nil
}

func (f *fakeGateway) Discussion(ctx context.Context, number int) (types.Post, bool, error) {
	if err := f.enter(ctx, "Discussion"); err != nil {
		return types.Post{}, false, err
	}
	p, ok := f.discussions[number]
	return p, ok, nil
}

func (f *fakeGateway) Comments(ctx context.Context, number int) ([]types.Comment, bool, error) {
	if err := f.enter(ctx, "Comments"); err != nil {
		return nil, false, err
	}
	c, ok := f.comments[number]
	return c, ok, nil
}

func (f *fakeGateway) Search(ctx context.Context, query string) ([]types.Post, error) {
	return f.results, f.enter(ctx, "Search")
}

func (f *fakeGateway) mutation(ctx context.Context, name, record string) error {
	if err := f.enter(ctx, name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutationErr != nil {
		return f.mutationErr
	}
	f.bodies = append(f.bodies, record)
	return nil
}

func (f *fakeGateway) AddReaction(ctx context.Context, token, subjectID, content string) error {
	err := f.mutation(ctx, "AddReaction", content)
	if err == nil {
		f.mu.Lock()
		f.reactions = append(f.reactions, "+"+subjectID+":"+content)
		f.mu.Unlock()
	}
	return err
}

func (f *fakeGateway) RemoveReaction(ctx context.Context, token, subjectID, content string) error {
	err := f.mutation(ctx, "RemoveReaction", content)
	if err == nil {
		f.mu.Lock()
		f.reactions = append(f.reactions, "-"+subjectID+":"+content)
		f.mu.Unlock()
	}
	return err
}

func (f *fakeGateway) AddComment(ctx context.Context, token, discussionID, body string) (types.Comment, error) {
	return types.Comment{ID: "new"}, f.mutation(ctx, "AddComment", discussionID+"|"+body)
}

func (f *fakeGateway) Reply(ctx context.Context, token, discussionID, replyToID, body string) (types.Comment, error) {
	return types.Comment{ID: "new"}, f.mutation(ctx, "Reply", replyToID+"|"+body)
}

func (f *fakeGateway) UpdateComment(ctx context.Context, token, commentID, body string) (types.Comment, error) {
	return types.Comment{ID: commentID}, f.mutation(ctx, "UpdateComment", commentID+"|"+body)
}

func (f *fakeGateway) DeleteComment(ctx context.Context, token, commentID string) error {
	return f.mutation(ctx, "DeleteComment", commentID)
}

func (f *fakeGateway) Repository(ctx context.Context, token string) (platform.Repository, error) {
	return f.repo, f.enter(ctx, "Repository")
}

func (f *fakeGateway) CreateDiscussion(ctx context.Context, token, repositoryID, categoryID, title, body string) (int, string, error) {
	if err := f.mutation(ctx, "CreateDiscussion", body); err != nil {
		return 0, "", err
	}
	f.mu.Lock()
	f.created = append(f.created, repositoryID+"/"+categoryID+"/"+title)
	f.mu.Unlock()
	return 42, "https://example.test/discussions/42", nil
}

type fakeAuth struct {
	mu          sync.Mutex
	tokens      map[string]string
	idents      map[string]*types.Identity
	invalidated []string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{tokens: map[string]string{}, idents: map[string]*types.Identity{}}
}

func (a *fakeAuth) signIn(session, login string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[session] = "token-" + login
	a.idents[session] = &types.Identity{Login: login}
}

func (a *fakeAuth) Token(_ context.Context, session string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokens[session], nil
}

func (a *fakeAuth) Identity(_ context.Context, session string) (*types.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.idents[session], nil
}

func (a *fakeAuth) Invalidate(_ context.Context, session string, _ error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, session)
	delete(a.idents, session)
	a.invalidated = append(a.invalidated, session)
}

type harness struct {
	ctrl *Controller
	gw   *fakeGateway
	auth *fakeAuth
}

func newHarness(t *testing.T, gw *fakeGateway) *harness {
	t.Helper()
	renderer, err := view.New()
	require.NoError(t, err)
	auth := newFakeAuth()
	ctrl, err := NewController(nil, gw, cache.New(time.Minute), renderer, auth,
		Options{PageSize: 20, RenderTimeout: 5 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	return &harness{ctrl: ctrl, gw: gw, auth: auth}
}

// wait blocks until done is closed or fails the test.
func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not settle")
	}
}

func (h *harness) open(t *testing.T, session, token string) *Screen {
	t.Helper()
	s := h.ctrl.Screens().Get(session)
	wait(t, h.ctrl.Dispatch(s, token))
	return s
}

func (h *harness) perform(t *testing.T, s *Screen, action string, fields map[string]string) Outcome {
	t.Helper()
	form := map[string][]string{
		"gen":    {fmt.Sprint(s.Snapshot().Gen)},
		"action": {action},
	}
	for k, v := range fields {
		form[k] = []string{v}
	}
	out := h.ctrl.Perform(context.Background(), s, form)
	wait(t, s.Done())
	return out
}

func posts(n int) []types.Post {
	out := make([]types.Post, n)
	for i := range out {
		out[i] = types.Post{
			Number:    i + 1,
			Title:     fmt.Sprintf("Post %d", i+1),
			Author:    "zion-coder-01",
			AuthorKey: "zion-coder-01",
			Channel:   "general",
			CreatedAt: time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
		}
	}
	return out
}
