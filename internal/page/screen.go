package page

import (
	"html/template"
	"sync"
	"time"

	"github.com/ibeckermayer/rappterbook/internal/feed"
	"github.com/ibeckermayer/rappterbook/internal/router"
	"github.com/ibeckermayer/rappterbook/internal/types"
	"github.com/ibeckermayer/rappterbook/internal/view"
)

// Status classifies the content currently held by a Screen.
type Status int

const (
	StatusLoading Status = iota
	StatusOK
	StatusNotFound
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// NavigationState is the per-visit view state. It is reset when a different
// token is dispatched and kept when the same token is dispatched again.
type NavigationState struct {
	Token   string
	Pattern string
	Visible int
	Filter  feed.PostType
	Sort    feed.SortMode
	// Items are the posts fetched for this visit, newest first.
	Items []types.Post
	// Form is shown by the next render only.
	Form view.FormState

	loaded any
}

// maxVisits bounds how many pages a Screen remembers per session.
const maxVisits = 8

// visit is one page of a session: its latest render, its navigation state and
// the actions that render bound. Forms echo the page token and generation
// back, so a session with several tabs keeps every page actionable.
type visit struct {
	token string
	// first is the generation that opened the visit; forms from earlier
	// renders of the same token belong to a previous visit.
	first uint64
	// latest is the newest dispatch; bound is the newest committed render.
	latest uint64
	bound  uint64

	route    router.Route
	title    string
	content  template.HTML
	status   Status
	identity *types.Identity
	state    NavigationState
	actions  map[string]bool
	done     chan struct{}
	// fresh marks a render started by an action or the poll job that the
	// next visit of the same token should show instead of dispatching again.
	fresh bool
}

// accepts reports whether a form rendered at gen may run action.
func (v *visit) accepts(gen uint64, action string) bool {
	return gen != 0 && gen >= v.first && gen <= v.bound && v.actions[action]
}

// Screen is the display area of one browser session.
type Screen struct {
	mu       sync.Mutex
	session  string
	gen      uint64
	current  string
	visits   map[string]*visit
	lastSeen time.Time
}

// NewScreen creates an empty screen for a session.
func NewScreen(session string) *Screen {
	return &Screen{session: session, visits: make(map[string]*visit), lastSeen: time.Now()}
}

// Session returns the owning session ID.
func (s *Screen) Session() string { return s.session }

// open returns the visit of key, replacing it when reset is set or none
// exists. Callers hold s.mu.
func (s *Screen) open(key string, gen uint64, reset bool, state NavigationState) *visit {
	v, ok := s.visits[key]
	if ok && !reset {
		return v
	}
	v = &visit{token: key, first: gen, state: state}
	s.visits[key] = v
	if len(s.visits) > maxVisits {
		s.trim()
	}
	return v
}

// trim drops the least recently dispatched visit other than the current one.
func (s *Screen) trim() {
	var oldest *visit
	for key, v := range s.visits {
		if key == s.current {
			continue
		}
		if oldest == nil || v.latest < oldest.latest {
			oldest = v
		}
	}
	if oldest != nil {
		delete(s.visits, oldest.token)
	}
}

// Snapshot is a consistent copy of what a Screen shows for one page.
type Snapshot struct {
	Gen      uint64
	Token    string
	Title    string
	Content  template.HTML
	Status   Status
	Identity *types.Identity
	Route    router.Route
}

// Snapshot returns the content of the most recently dispatched page.
func (s *Screen) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(s.current)
}

// SnapshotOf returns the content of the page shown for token.
func (s *Screen) SnapshotOf(token string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(canonical(token))
}

func (s *Screen) snapshot(key string) Snapshot {
	v, ok := s.visits[key]
	if !ok {
		return Snapshot{Token: key}
	}
	return Snapshot{
		Gen:      v.latest,
		Token:    v.token,
		Title:    v.title,
		Content:  v.content,
		Status:   v.status,
		Identity: v.identity,
		Route:    v.route,
	}
}

// State returns a copy of the navigation state of the current page.
func (s *Screen) State() NavigationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.visits[s.current]; ok {
		return v.state
	}
	return NavigationState{}
}

// Done is closed when the latest dispatch of the current page has settled.
func (s *Screen) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.visits[s.current]; ok && v.done != nil {
		return v.done
	}
	return closed
}

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Registry holds one Screen per session.
type Registry struct {
	mu      sync.Mutex
	screens map[string]*Screen
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{screens: make(map[string]*Screen), now: time.Now}
}

// Get returns the screen of a session, creating it on first use.
func (r *Registry) Get(session string) *Screen {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.screens[session]
	if !ok {
		s = NewScreen(session)
		r.screens[session] = s
	}
	s.mu.Lock()
	s.lastSeen = r.now()
	s.mu.Unlock()
	return s
}

// Lookup returns the screen of a session without creating one.
func (r *Registry) Lookup(session string) (*Screen, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.screens[session]
	return s, ok
}

// Screens returns every registered screen.
func (r *Registry) Screens() []*Screen {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Screen, 0, len(r.screens))
	for _, s := range r.screens {
		out = append(out, s)
	}
	return out
}

// Evict drops screens not visited since cutoff and returns how many went.
func (r *Registry) Evict(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.screens {
		s.mu.Lock()
		idle := s.lastSeen.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(r.screens, id)
			n++
		}
	}
	return n
}

// Len reports the number of screens.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.screens)
}
