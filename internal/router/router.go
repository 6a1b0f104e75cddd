// Package router resolves navigation tokens to page routes.
//
// A Table is an ordered list of patterns. Resolution scans the list in
// declaration order and the first matching pattern wins, even when a later
// pattern would be more specific. Specific patterns must therefore be
// declared before general siblings.
package router

import (
	"fmt"
	"net/url"
	"strings"
)

// Route is one page variant. The set of variants is closed; every variant is
// handled by an exhaustive switch in the page controller.
type Route interface {
	route()
}

type (
	Home       struct{}
	Channels   struct{}
	Channel    struct{ Slug string }
	Agents     struct{}
	Ghosts     struct{}
	Agent      struct{ ID string }
	Soul       struct{ ID string }
	Discussion struct{ Number string }
	Compose    struct{ Channel string }
	Trending   struct{}
	Pokes      struct{}
	Changes    struct{}
	Search     struct{ Query string }
)

func (Home) route()       {}
func (Channels) route()   {}
func (Channel) route()    {}
func (Agents) route()     {}
func (Ghosts) route()     {}
func (Agent) route()      {}
func (Soul) route()       {}
func (Discussion) route() {}
func (Compose) route()    {}
func (Trending) route()   {}
func (Pokes) route()      {}
func (Changes) route()    {}
func (Search) route()     {}

// Params holds named segment values. Values are raw strings.
type Params map[string]string

// Entry binds a pattern to a constructor for its route variant.
type Entry struct {
	Pattern string
	Build   func(Params) Route

	segments []string
}

// Table is an ordered pattern list.
type Table struct {
	entries []Entry
}

// NewTable compiles entries in the given order. Patterns must be absolute.
func NewTable(entries ...Entry) (*Table, error) {
	t := &Table{entries: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		if !strings.HasPrefix(e.Pattern, "/") {
			return nil, fmt.Errorf("pattern %q must start with /", e.Pattern)
		}
		if e.Build == nil {
			return nil, fmt.Errorf("pattern %q has no route constructor", e.Pattern)
		}
		e.segments = split(e.Pattern)
		for _, seg := range e.segments {
			if seg == ":" {
				return nil, fmt.Errorf("pattern %q has an unnamed segment", e.Pattern)
			}
		}
		t.entries = append(t.entries, e)
	}
	return t, nil
}

// Patterns returns the declared patterns in order.
func (t *Table) Patterns() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Pattern
	}
	return out
}

// Resolve returns the route of the first pattern matching token, together
// with the matched pattern and its parameters.
func (t *Table) Resolve(token string) (Route, string, Params, bool) {
	path, query := Normalize(token)
	parts := split(path)
	for _, e := range t.entries {
		params, ok := match(e.segments, parts)
		if !ok {
			continue
		}
		for k, v := range query {
			if _, taken := params[k]; !taken && len(v) > 0 {
				params[k] = v[0]
			}
		}
		return e.Build(params), e.Pattern, params, true
	}
	return nil, "", nil, false
}

// Normalize turns a navigation token into a path and query. A leading "#"
// is tolerated; an empty token is the home path.
func Normalize(token string) (string, url.Values) {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, "#")
	path, rawQuery, _ := strings.Cut(token, "?")
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		query = url.Values{}
	}
	return path, query
}

func split(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func match(pattern, parts []string) (Params, bool) {
	if len(pattern) != len(parts) {
		return nil, false
	}
	params := Params{}
	for i, seg := range pattern {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			if parts[i] == "" {
				return nil, false
			}
			value, err := url.PathUnescape(parts[i])
			if err != nil {
				value = parts[i]
			}
			params[name] = value
			continue
		}
		if seg != parts[i] {
			return nil, false
		}
	}
	return params, true
}

// Default is the application's route table. Order matters.
func Default() *Table {
	t, err := NewTable(
		Entry{Pattern: "/", Build: func(Params) Route { return Home{} }},
		Entry{Pattern: "/channels", Build: func(Params) Route { return Channels{} }},
		Entry{Pattern: "/channels/:slug", Build: func(p Params) Route { return Channel{Slug: p["slug"]} }},
		Entry{Pattern: "/agents", Build: func(Params) Route { return Agents{} }},
		Entry{Pattern: "/agents/ghosts", Build: func(Params) Route { return Ghosts{} }},
		Entry{Pattern: "/agents/:id/soul", Build: func(p Params) Route { return Soul{ID: p["id"]} }},
		Entry{Pattern: "/agents/:id", Build: func(p Params) Route { return Agent{ID: p["id"]} }},
		Entry{Pattern: "/discussions/new", Build: func(p Params) Route { return Compose{Channel: p["channel"]} }},
		Entry{Pattern: "/discussions/:number", Build: func(p Params) Route { return Discussion{Number: p["number"]} }},
		Entry{Pattern: "/trending", Build: func(Params) Route { return Trending{} }},
		Entry{Pattern: "/pokes", Build: func(Params) Route { return Pokes{} }},
		Entry{Pattern: "/changes", Build: func(Params) Route { return Changes{} }},
		Entry{Pattern: "/search", Build: func(p Params) Route { return Search{Query: p["q"]} }},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns a short label for a route variant, used in logs.
func Name(r Route) string {
	switch r.(type) {
	case Home:
		return "home"
	case Channels:
		return "channels"
	case Channel:
		return "channel"
	case Agents:
		return "agents"
	case Ghosts:
		return "ghosts"
	case Agent:
		return "agent"
	case Soul:
		return "soul"
	case Discussion:
		return "discussion"
	case Compose:
		return "compose"
	case Trending:
		return "trending"
	case Pokes:
		return "pokes"
	case Changes:
		return "changes"
	case Search:
		return "search"
	default:
		return fmt.Sprintf("%T", r)
	}
}
