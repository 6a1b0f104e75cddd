package page

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/rappterbook/internal/cache"
	"github.com/ibeckermayer/rappterbook/internal/feed"
	"github.com/ibeckermayer/rappterbook/internal/router"
	"github.com/ibeckermayer/rappterbook/internal/types"
	"github.com/ibeckermayer/rappterbook/internal/view"
)

const (
	// trendingPreview is how many trending posts the home page shows.
	trendingPreview = 5
	changesShown    = 100
)

// Action names bound by rendered pages.
const (
	ActionMore    = "more"
	ActionFilter  = "filter"
	ActionSort    = "sort"
	ActionVote    = "vote"
	ActionReact   = "react"
	ActionComment = "comment"
	ActionReply   = "reply"
	ActionEdit    = "edit"
	ActionDelete  = "delete"
	ActionCreate  = "create"
)

var discussionActions = []string{ActionVote, ActionReact, ActionComment, ActionReply, ActionEdit, ActionDelete}

// found pairs a lookup result with its presence so misses can be cached.
type found[T any] struct {
	value T
	ok    bool
}

func (c *Controller) handle(ctx context.Context, req *request) (outcome, error) {
	switch r := req.route.(type) {
	case router.Home:
		return c.home(ctx, req)
	case router.Channels:
		return c.channels(ctx, req)
	case router.Channel:
		return c.channel(ctx, req, r.Slug)
	case router.Agents:
		return c.agentList(ctx, req, false)
	case router.Ghosts:
		return c.agentList(ctx, req, true)
	case router.Agent:
		return c.agent(ctx, req, r.ID)
	case router.Soul:
		return c.soul(ctx, req, r.ID)
	case router.Discussion:
		return c.discussion(ctx, req, r.Number)
	case router.Compose:
		return c.compose(ctx, req, r.Channel)
	case router.Trending:
		return c.trending(ctx, req)
	case router.Pokes:
		return c.pokes(ctx, req)
	case router.Changes:
		return c.changes(ctx, req)
	case router.Search:
		return c.search(ctx, req, r.Query)
	default:
		return outcome{}, fmt.Errorf("no handler for route %T", r)
	}
}

// Cached reads. Keys name the logical resource.

func (c *Controller) agentsData(ctx context.Context) ([]types.Agent, error) {
	return cache.Get(ctx, c.cache, "agents", c.gateway.Agents)
}

func (c *Controller) channelsData(ctx context.Context) ([]types.Channel, error) {
	return cache.Get(ctx, c.cache, "channels", c.gateway.Channels)
}

func (c *Controller) postLog(ctx context.Context) ([]types.Post, error) {
	return cache.Get(ctx, c.cache, "postlog", c.gateway.PostLog)
}

func (c *Controller) trendingData(ctx context.Context) ([]types.Post, error) {
	return cache.Get(ctx, c.cache, "trending", c.gateway.Trending)
}

func (c *Controller) statsData(ctx context.Context) (types.Stats, error) {
	return cache.Get(ctx, c.cache, "stats", c.gateway.Stats)
}

func (c *Controller) pokesData(ctx context.Context) ([]types.Poke, error) {
	return cache.Get(ctx, c.cache, "pokes", c.gateway.Pokes)
}

func (c *Controller) changesData(ctx context.Context) ([]types.Change, error) {
	return cache.Get(ctx, c.cache, "changes", c.gateway.Changes)
}

func (c *Controller) soulData(ctx context.Context, id string) (found[string], error) {
	return cache.Get(ctx, c.cache, "soul:"+id, func(ctx context.Context) (found[string], error) {
		content, ok, err := c.gateway.Soul(ctx, id)
		return found[string]{content, ok}, err
	})
}

func (c *Controller) discussionData(ctx context.Context, number int) (found[types.Post], error) {
	return cache.Get(ctx, c.cache, "discussion:"+strconv.Itoa(number), func(ctx context.Context) (found[types.Post], error) {
		post, ok, err := c.gateway.Discussion(ctx, number)
		return found[types.Post]{post, ok}, err
	})
}

func (c *Controller) commentsData(ctx context.Context, number int) (found[[]types.Comment], error) {
	return cache.Get(ctx, c.cache, "comments:"+strconv.Itoa(number), func(ctx context.Context) (found[[]types.Comment], error) {
		comments, ok, err := c.gateway.Comments(ctx, number)
		return found[[]types.Comment]{comments, ok}, err
	})
}

func (c *Controller) searchData(ctx context.Context, query string) ([]types.Post, error) {
	return cache.Get(ctx, c.cache, "search:"+query, func(ctx context.Context) ([]types.Post, error) {
		return c.gateway.Search(ctx, query)
	})
}

func notFound(title, detail string) outcome {
	return outcome{
		title:  title,
		page:   view.NotFoundPage{Title: title, Detail: detail},
		status: StatusNotFound,
	}
}

// feedView applies the visible window, the type filter and the sort mode to
// the items held for this visit. The window is cut before filtering: a
// filter narrows what was already fetched and never loads more, so a
// filtered page may show fewer than Visible posts while More is still set.
func feedView(state NavigationState) view.FeedView {
	posts, more := feed.Paginate(state.Items, state.Visible)
	posts = feed.Sort(feed.Filter(posts, state.Filter), state.Sort)
	return view.FeedView{Posts: posts, More: more, Filter: state.Filter, Sort: state.Sort}
}

func feedActions(fv view.FeedView) []string {
	actions := []string{ActionFilter, ActionSort}
	if fv.More {
		actions = append(actions, ActionMore)
	}
	return actions
}

type homeData struct {
	stats    types.Stats
	trending []types.Post
}

func (c *Controller) home(ctx context.Context, req *request) (outcome, error) {
	data, ok := req.state.loaded.(homeData)
	if !req.reuse || !ok {
		var (
			log    []types.Post
			agents []types.Agent
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) { data.stats, err = c.statsData(gctx); return })
		g.Go(func() (err error) { data.trending, err = c.trendingData(gctx); return })
		g.Go(func() (err error) { log, err = c.postLog(gctx); return })
		g.Go(func() (err error) { agents, err = c.agentsData(gctx); return })
		if err := g.Wait(); err != nil {
			return outcome{}, err
		}
		preview, _ := feed.Paginate(data.trending, trendingPreview)
		data.trending = feed.WithDisplayNames(preview, agents)
		req.state.Items = feed.WithDisplayNames(feed.Newest(log, req.state.Visible+1), agents)
		req.state.loaded = data
	}

	fv := feedView(req.state)
	return outcome{
		page: view.HomePage{
			Frame:    req.frame,
			Stats:    data.stats,
			Trending: data.trending,
			Feed:     fv,
		},
		actions: feedActions(fv),
	}, nil
}

func (c *Controller) channels(ctx context.Context, req *request) (outcome, error) {
	channels, err := c.channelsData(ctx)
	if err != nil {
		return outcome{}, err
	}
	return outcome{
		title: "Channels",
		page:  view.ChannelsPage{Frame: req.frame, Channels: channels},
	}, nil
}

func findChannel(channels []types.Channel, slug string) (types.Channel, bool) {
	for _, ch := range channels {
		if ch.Slug == slug {
			return ch, true
		}
	}
	return types.Channel{}, false
}

func (c *Controller) channel(ctx context.Context, req *request, slug string) (outcome, error) {
	ch, ok := req.state.loaded.(types.Channel)
	if !req.reuse || !ok {
		var (
			channels []types.Channel
			log      []types.Post
			agents   []types.Agent
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) { channels, err = c.channelsData(gctx); return })
		g.Go(func() (err error) { log, err = c.postLog(gctx); return })
		g.Go(func() (err error) { agents, err = c.agentsData(gctx); return })
		if err := g.Wait(); err != nil {
			return outcome{}, err
		}
		if ch, ok = findChannel(channels, slug); !ok {
			return notFound("Channel not found", "There is no channel c/"+slug+"."), nil
		}
		posts := feed.Newest(feed.InChannel(log, slug), req.state.Visible+1)
		req.state.Items = feed.WithDisplayNames(posts, agents)
		req.state.loaded = ch
	}

	fv := feedView(req.state)
	return outcome{
		title:   "c/" + ch.Slug,
		page:    view.ChannelPage{Frame: req.frame, Channel: ch, Feed: fv},
		actions: feedActions(fv),
	}, nil
}

func (c *Controller) agentList(ctx context.Context, req *request, ghostsOnly bool) (outcome, error) {
	agents, err := c.agentsData(ctx)
	if err != nil {
		return outcome{}, err
	}
	title := "Agents"
	if ghostsOnly {
		title = "Ghosts"
		agents = feed.Ghosts(agents, c.now(), req.opts.GhostThreshold)
	}
	return outcome{
		title: title,
		page: view.AgentsPage{
			Frame:     req.frame,
			Title:     title,
			Agents:    agents,
			Threshold: req.opts.GhostThreshold,
		},
	}, nil
}

func findAgent(agents []types.Agent, id string) (types.Agent, bool) {
	for _, a := range agents {
		if a.ID == id {
			return a, true
		}
	}
	return types.Agent{}, false
}

func (c *Controller) agent(ctx context.Context, req *request, id string) (outcome, error) {
	var (
		agents []types.Agent
		log    []types.Post
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { agents, err = c.agentsData(gctx); return })
	g.Go(func() (err error) { log, err = c.postLog(gctx); return })
	if err := g.Wait(); err != nil {
		return outcome{}, err
	}
	a, ok := findAgent(agents, id)
	if !ok {
		return notFound("Agent not found", "No agent is registered as "+id+"."), nil
	}
	recent := feed.Newest(feed.ByAuthor(log, id), req.opts.PageSize+1)
	posts, more := feed.Paginate(feed.WithDisplayNames(recent, agents), req.opts.PageSize)
	return outcome{
		title: a.Name,
		page: view.AgentPage{
			Frame:     req.frame,
			Agent:     a,
			Ghost:     feed.IsGhost(a, c.now(), req.opts.GhostThreshold),
			Posts:     posts,
			PostsMore: more,
		},
	}, nil
}

func (c *Controller) soul(ctx context.Context, req *request, id string) (outcome, error) {
	var (
		soul   found[string]
		agents []types.Agent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { soul, err = c.soulData(gctx, id); return })
	g.Go(func() (err error) { agents, err = c.agentsData(gctx); return })
	if err := g.Wait(); err != nil {
		return outcome{}, err
	}
	if !soul.ok {
		return notFound("Soul file not found", "No soul file exists for "+id+"."), nil
	}
	name := id
	if a, ok := findAgent(agents, id); ok && a.Name != "" {
		name = a.Name
	}
	return outcome{
		title: "Soul of " + name,
		page:  view.SoulPage{Frame: req.frame, AgentID: id, Name: name, Content: soul.value},
	}, nil
}

type discussionData struct {
	post     types.Post
	comments []types.Comment
}

func (d discussionData) comment(id string) (types.Comment, bool) {
	for _, cm := range d.comments {
		if cm.ID == id {
			return cm, true
		}
	}
	return types.Comment{}, false
}

func (c *Controller) discussion(ctx context.Context, req *request, raw string) (outcome, error) {
	number, err := strconv.Atoi(raw)
	if err != nil || number <= 0 {
		return notFound("Discussion not found", "“"+raw+"” is not a discussion number."), nil
	}

	data, ok := req.state.loaded.(discussionData)
	if !req.reuse || !ok {
		thread, err := c.discussionData(ctx, number)
		if err != nil {
			return outcome{}, err
		}
		if !thread.ok {
			return notFound("Discussion not found", fmt.Sprintf("Discussion #%d does not exist.", number)), nil
		}

		var (
			comments found[[]types.Comment]
			agents   []types.Agent
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) { comments, err = c.commentsData(gctx, number); return })
		g.Go(func() (err error) { agents, err = c.agentsData(gctx); return })
		if err := g.Wait(); err != nil {
			return outcome{}, err
		}
		data = discussionData{
			post:     feed.WithDisplayNames([]types.Post{thread.value}, agents)[0],
			comments: comments.value,
		}
		req.state.loaded = data
	}

	return outcome{
		title: feed.DisplayTitle(data.post.Title),
		page: &view.DiscussionPage{
			Frame:    req.frame,
			Post:     data.post,
			Comments: feed.BuildTree(data.comments, c.logger),
			Total:    len(data.comments),
			Form:     req.state.Form,
		},
		actions: discussionActions,
	}, nil
}

func (c *Controller) compose(ctx context.Context, req *request, preselect string) (outcome, error) {
	channels, ok := req.state.loaded.([]types.Channel)
	if !req.reuse || !ok {
		var err error
		if channels, err = c.channelsData(ctx); err != nil {
			return outcome{}, err
		}
		req.state.loaded = channels
	}
	return outcome{
		title: "New post",
		page: view.ComposePage{
			Frame:    req.frame,
			Channels: channels,
			Channel:  preselect,
			Form:     req.state.Form.For(ActionCreate),
		},
		actions: []string{ActionCreate},
	}, nil
}

func (c *Controller) trending(ctx context.Context, req *request) (outcome, error) {
	var (
		posts  []types.Post
		agents []types.Agent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { posts, err = c.trendingData(gctx); return })
	g.Go(func() (err error) { agents, err = c.agentsData(gctx); return })
	if err := g.Wait(); err != nil {
		return outcome{}, err
	}
	return outcome{
		title: "Trending",
		page:  view.TrendingPage{Frame: req.frame, Posts: feed.WithDisplayNames(posts, agents)},
	}, nil
}

func (c *Controller) pokes(ctx context.Context, req *request) (outcome, error) {
	pokes, err := c.pokesData(ctx)
	if err != nil {
		return outcome{}, err
	}
	return outcome{
		title: "Pokes",
		page:  view.PokesPage{Frame: req.frame, Pokes: pokes},
	}, nil
}

// changes lists the change log newest first.
func (c *Controller) changes(ctx context.Context, req *request) (outcome, error) {
	log, err := c.changesData(ctx)
	if err != nil {
		return outcome{}, err
	}
	n := min(len(log), changesShown)
	recent := make([]types.Change, 0, n)
	for i := len(log) - 1; i >= len(log)-n; i-- {
		recent = append(recent, log[i])
	}
	return outcome{
		title: "Recent changes",
		page:  view.ChangesPage{Frame: req.frame, Changes: recent, Total: len(log)},
	}, nil
}

func (c *Controller) search(ctx context.Context, req *request, query string) (outcome, error) {
	query = strings.TrimSpace(query)
	page := view.SearchPage{Frame: req.frame, Query: query}
	if query != "" {
		posts, err := c.searchData(ctx, query)
		if err != nil {
			return outcome{}, err
		}
		page.Posts = posts
	}
	return outcome{title: "Search", page: page}, nil
}

// FeedPosts returns the newest posts for a syndication document. A non-empty
// channel restricts them to that channel and ok reports whether it exists.
func (c *Controller) FeedPosts(ctx context.Context, channel string, limit int) ([]types.Post, types.Channel, bool, error) {
	var (
		log      []types.Post
		agents   []types.Agent
		channels []types.Channel
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { log, err = c.postLog(gctx); return })
	g.Go(func() (err error) { agents, err = c.agentsData(gctx); return })
	if channel != "" {
		g.Go(func() (err error) { channels, err = c.channelsData(gctx); return })
	}
	if err := g.Wait(); err != nil {
		return nil, types.Channel{}, false, err
	}

	var ch types.Channel
	if channel != "" {
		var ok bool
		if ch, ok = findChannel(channels, channel); !ok {
			return nil, types.Channel{}, false, nil
		}
		log = feed.InChannel(log, channel)
	}
	return feed.WithDisplayNames(feed.Newest(log, limit), agents), ch, true, nil
}
