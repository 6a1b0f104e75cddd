// Package page drives the navigation lifecycle of a session's Screen:
// resolve a token, show the loading view, fetch through the cache, render,
// and bind the actions the rendered page offers.
package page

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ibeckermayer/rappterbook/internal/cache"
	"github.com/ibeckermayer/rappterbook/internal/feed"
	"github.com/ibeckermayer/rappterbook/internal/platform"
	"github.com/ibeckermayer/rappterbook/internal/router"
	"github.com/ibeckermayer/rappterbook/internal/types"
	"github.com/ibeckermayer/rappterbook/internal/view"
)

// Gateway is the subset of the platform client used by pages.
type Gateway interface {
	Agents(ctx context.Context) ([]types.Agent, error)
	Channels(ctx context.Context) ([]types.Channel, error)
	PostLog(ctx context.Context) ([]types.Post, error)
	Trending(ctx context.Context) ([]types.Post, error)
	Stats(ctx context.Context) (types.Stats, error)
	Pokes(ctx context.Context) ([]types.Poke, error)
	Changes(ctx context.Context) ([]types.Change, error)
	Soul(ctx context.Context, agentID string) (string, bool, error)
	Discussion(ctx context.Context, number int) (types.Post, bool, error)
	Comments(ctx context.Context, number int) ([]types.Comment, bool, error)
	Search(ctx context.Context, query string) ([]types.Post, error)

	AddReaction(ctx context.Context, token, subjectID, content string) error
	RemoveReaction(ctx context.Context, token, subjectID, content string) error
	AddComment(ctx context.Context, token, discussionID, body string) (types.Comment, error)
	Reply(ctx context.Context, token, discussionID, replyToID, body string) (types.Comment, error)
	UpdateComment(ctx context.Context, token, commentID, body string) (types.Comment, error)
	DeleteComment(ctx context.Context, token, commentID string) error
	Repository(ctx context.Context, token string) (platform.Repository, error)
	CreateDiscussion(ctx context.Context, token, repositoryID, categoryID, title, body string) (int, string, error)
}

// Authenticator exposes the session credential slot.
type Authenticator interface {
	Token(ctx context.Context, sessionID string) (string, error)
	Identity(ctx context.Context, sessionID string) (*types.Identity, error)
	Invalidate(ctx context.Context, sessionID string, cause error)
}

// Options tune a Controller.
type Options struct {
	PageSize       int
	GhostThreshold time.Duration
	RenderTimeout  time.Duration
}

const (
	defaultPageSize      = 20
	defaultRenderTimeout = 30 * time.Second
)

// Controller dispatches navigations and actions for every Screen.
type Controller struct {
	table    *router.Table
	gateway  Gateway
	cache    *cache.Cache
	renderer *view.Renderer
	auth     Authenticator
	screens  *Registry
	logger   *zap.Logger
	now      func() time.Time

	mu             sync.RWMutex
	pageSize       int
	ghostThreshold time.Duration
	renderTimeout  time.Duration

	loading template.HTML
}

// NewController wires a controller. A nil table uses router.Default.
func NewController(table *router.Table, gateway Gateway, c *cache.Cache, renderer *view.Renderer, auth Authenticator, opts Options, logger *zap.Logger) (*Controller, error) {
	if gateway == nil || c == nil || renderer == nil || auth == nil {
		return nil, errors.New("page controller needs a gateway, cache, renderer and authenticator")
	}
	if table == nil {
		table = router.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	loading, err := renderer.Render(view.LoadingPage{})
	if err != nil {
		return nil, err
	}
	ctrl := &Controller{
		table:    table,
		gateway:  gateway,
		cache:    c,
		renderer: renderer,
		auth:     auth,
		screens:  NewRegistry(),
		logger:   logger.Named("page"),
		now:      time.Now,
		loading:  loading,
	}
	ctrl.Configure(opts)
	return ctrl, nil
}

// Configure replaces the runtime knobs. Zero values fall back to defaults.
// The new page size applies from the next fresh visit.
func (c *Controller) Configure(opts Options) {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.GhostThreshold <= 0 {
		opts.GhostThreshold = feed.DefaultGhostThreshold
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = defaultRenderTimeout
	}
	c.mu.Lock()
	c.pageSize = opts.PageSize
	c.ghostThreshold = opts.GhostThreshold
	c.renderTimeout = opts.RenderTimeout
	c.mu.Unlock()
}

func (c *Controller) options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Options{PageSize: c.pageSize, GhostThreshold: c.ghostThreshold, RenderTimeout: c.renderTimeout}
}

// Screens returns the session registry.
func (c *Controller) Screens() *Registry { return c.screens }

// Table returns the route table.
func (c *Controller) Table() *router.Table { return c.table }

// canonical folds a navigation token into the key used to compare visits.
func canonical(token string) string {
	path, query := router.Normalize(token)
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

// Visit shows token on the screen. A render of the same token that is still
// loading, or that an action or the poll started, is joined; otherwise a new
// dispatch begins.
func (c *Controller) Visit(s *Screen, token string) <-chan struct{} {
	key := canonical(token)
	s.mu.Lock()
	if v, ok := s.visits[key]; ok && (v.fresh || v.status == StatusLoading) {
		v.fresh = false
		s.current = key
		done := v.done
		s.mu.Unlock()
		return done
	}
	s.mu.Unlock()
	return c.Dispatch(s, token)
}

// Known reports whether token resolves to a route.
func (c *Controller) Known(token string) bool {
	_, _, _, ok := c.table.Resolve(token)
	return ok
}

// Dispatch starts a render of token and makes it the current page. The
// loading view is installed before Dispatch returns. Navigating to a page
// other than the current one starts a fresh visit with no bindings; the
// returned channel is closed once this dispatch has settled, whether its
// result was committed or discarded as stale.
func (c *Controller) Dispatch(s *Screen, token string) <-chan struct{} {
	return c.dispatch(s, token, mode{})
}

// mode tunes a dispatch.
type mode struct {
	// reuse lets feed handlers present the items held in the navigation
	// state without fetching.
	reuse bool
	// fresh marks the render for the next Visit of the same token.
	fresh bool
	// keep continues the visit of token even when another page is current.
	keep bool
}

func (c *Controller) dispatch(s *Screen, token string, m mode) <-chan struct{} {
	key := canonical(token)
	opts := c.options()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	reset := key != s.current && !m.keep
	s.current = key
	v := s.open(key, gen, reset, NavigationState{Token: key, Visible: opts.PageSize, Sort: feed.SortRecent})
	if v.first == gen {
		m.reuse = false
	}
	v.latest = gen
	v.title = ""
	v.content = c.loading
	v.status = StatusLoading
	v.fresh = m.fresh
	done := make(chan struct{})
	v.done = done
	state := v.state
	session := s.session
	s.mu.Unlock()

	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), opts.RenderTimeout)
		defer cancel()
		res := c.render(ctx, request{
			gen:     gen,
			session: session,
			token:   key,
			state:   state,
			reuse:   m.reuse,
			opts:    opts,
		})
		c.commit(s, key, gen, res)
	}()
	return done
}

// request is the input of one render.
type request struct {
	gen     uint64
	session string
	token   string
	route   router.Route
	params  router.Params
	state   NavigationState
	reuse   bool
	opts    Options
	frame   view.Frame
}

// result is what a render leaves on the screen.
type result struct {
	route    router.Route
	title    string
	content  template.HTML
	status   Status
	identity *types.Identity
	state    NavigationState
	actions  []string
}

// outcome is what a route handler returns.
type outcome struct {
	title   string
	page    view.Page
	status  Status
	actions []string
}

func (c *Controller) render(ctx context.Context, req request) (res result) {
	res.state = req.state
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("page handler panicked",
				zap.String("token", req.token), zap.Any("panic", r), zap.Stack("stack"))
			res.route = req.route
			res.title, res.content, res.status = c.failure(fmt.Errorf("internal error: %v", r))
			res.actions = nil
		}
	}()

	route, pattern, params, ok := c.table.Resolve(req.token)
	if !ok {
		res.title, res.content, res.status = c.missing("Page not found", "Nothing lives at "+req.token+".")
		return res
	}
	req.route, req.params = route, params
	req.state.Pattern = pattern
	res.route = route

	ident, err := c.auth.Identity(ctx, req.session)
	if err != nil {
		c.logger.Warn("identity lookup failed", zap.String("session", req.session), zap.Error(err))
		ident = nil
	}
	req.frame = view.Frame{Gen: req.gen, Token: req.token, Identity: ident}
	res.identity = ident

	start := c.now()
	out, err := c.handle(ctx, &req)
	res.state = req.state
	res.state.Form = view.FormState{}
	if err != nil {
		c.logger.Warn("page handler failed",
			zap.String("route", router.Name(route)), zap.String("token", req.token), zap.Error(err))
		res.title, res.content, res.status = c.failure(err)
		return res
	}

	html, err := c.renderer.Render(out.page)
	if err != nil {
		c.logger.Error("render failed", zap.String("route", router.Name(route)), zap.Error(err))
		res.title, res.content, res.status = c.failure(err)
		return res
	}
	c.logger.Debug("page rendered",
		zap.String("route", router.Name(route)),
		zap.String("token", req.token),
		zap.Uint64("gen", req.gen),
		zap.Duration("elapsed", c.now().Sub(start)))

	res.title = out.title
	res.content = html
	res.status = out.status
	if res.status == StatusLoading {
		res.status = StatusOK
	}
	res.actions = out.actions
	return res
}

func (c *Controller) failure(err error) (string, template.HTML, Status) {
	html, rerr := c.renderer.Render(view.ErrorPage{Title: "Something went wrong", Detail: err.Error()})
	if rerr != nil {
		html = template.HTML("<p>" + template.HTMLEscapeString(err.Error()) + "</p>")
	}
	return "Error", html, StatusError
}

func (c *Controller) missing(title, detail string) (string, template.HTML, Status) {
	html, err := c.renderer.Render(view.NotFoundPage{Title: title, Detail: detail})
	if err != nil {
		html = template.HTML("<p>" + template.HTMLEscapeString(title) + "</p>")
	}
	return title, html, StatusNotFound
}

// commit installs a result unless a newer dispatch of the same page has
// started.
func (c *Controller) commit(s *Screen, key string, gen uint64, res result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[key]
	if !ok || v.latest != gen {
		c.logger.Info("discarding stale render",
			zap.String("session", s.session),
			zap.String("token", key),
			zap.Uint64("gen", gen))
		return
	}
	v.route = res.route
	v.title = res.title
	v.content = res.content
	v.status = res.status
	v.identity = res.identity
	v.state = res.state
	v.bound = gen
	v.actions = make(map[string]bool, len(res.actions))
	for _, a := range res.actions {
		v.actions[a] = true
	}
}

// Poll clears the cache and re-renders every screen showing the home page.
// The bindings of the render the browser holds stay valid until it reloads.
// Poll returns once those renders have settled or ctx is done.
func (c *Controller) Poll(ctx context.Context) error {
	c.cache.Clear()
	var pending []<-chan struct{}
	for _, s := range c.screens.Screens() {
		s.mu.Lock()
		key := s.current
		v, ok := s.visits[key]
		home := ok && isHome(v.route)
		s.mu.Unlock()
		if !home {
			continue
		}
		pending = append(pending, c.dispatch(s, key, mode{fresh: true, keep: true}))
	}
	if len(pending) > 0 {
		c.logger.Debug("poll re-rendering home screens", zap.Int("screens", len(pending)))
	}
	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func isHome(r router.Route) bool {
	_, ok := r.(router.Home)
	return ok
}

// loginPath is where unauthenticated mutations are sent.
func loginPath(returnTo string) string {
	return "/login?return=" + url.QueryEscape(returnTo)
}
