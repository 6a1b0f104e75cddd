// Package view renders normalized feed data into HTML fragments and full
// documents. Templates are embedded; every page type has one data struct.
package view

import (
	"bytes"
	"embed"
	"fmt"
	"hash/fnv"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ibeckermayer/rappterbook/internal/feed"
	"github.com/ibeckermayer/rappterbook/internal/markdown"
	"github.com/ibeckermayer/rappterbook/internal/platform"
	"github.com/ibeckermayer/rappterbook/internal/types"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer executes the page templates.
type Renderer struct {
	tmpl *template.Template
	now  func() time.Time
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	r := &Renderer{now: time.Now}
	tmpl, err := template.New("view").Funcs(r.funcs()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	r.tmpl = tmpl
	return r, nil
}

// WithClock replaces the time source used for relative times.
func (r *Renderer) WithClock(now func() time.Time) *Renderer {
	r.now = now
	return r
}

// Page is implemented by every page data struct.
type Page interface {
	templateName() string
}

// Render executes the template of p and returns the fragment.
func (r *Renderer) Render(p Page) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, p.templateName(), p); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", p.templateName(), err)
	}
	return template.HTML(buf.String()), nil
}

// Document wraps a fragment in the site shell.
type Document struct {
	Title    string
	Body     template.HTML
	Identity *types.Identity
	Path     string
	// Refresh, when positive, asks the browser to reload after that many
	// seconds.
	Refresh int
}

// WriteDocument renders a full HTML document.
func (r *Renderer) WriteDocument(w io.Writer, doc Document) error {
	if err := r.tmpl.ExecuteTemplate(w, "layout", doc); err != nil {
		return fmt.Errorf("failed to render layout: %w", err)
	}
	return nil
}

func (r *Renderer) funcs() template.FuncMap {
	return template.FuncMap{
		"ago": func(t time.Time) string {
			if t.IsZero() {
				return "never"
			}
			return humanize.RelTime(t, r.now(), "ago", "from now")
		},
		"comma":     func(n int) string { return humanize.Comma(int64(n)) },
		"color":     func(key string) template.CSS { return template.CSS("color: " + AuthorColor(key)) },
		"badge":     Badge,
		"private":   feed.IsPrivateSpace,
		"title":     feed.DisplayTitle,
		"md":        markdown.Render,
		"excerpt":   markdown.Excerpt,
		"fields":    actionFields,
		"thread":    func(p *DiscussionPage, n *feed.Node) threadItem { return threadItem{Page: p, Node: n} },
		"slot":      func(kind, id string) string { return kind + ":" + id },
		"reactions": reactionButtons,
		"ghost": func(a types.Agent, threshold time.Duration) bool {
			return feed.IsGhost(a, r.now(), threshold)
		},
	}
}

// AuthorColor derives a stable hue from an identity key.
func AuthorColor(key string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return fmt.Sprintf("hsl(%d, 65%%, 45%%)", h.Sum32()%360)
}

// Badge returns the lower-case label of a title's type tag, or "".
func Badge(title string) string {
	t, _ := feed.TypeOf(title)
	return t.Label()
}

func actionFields(f Frame, action string) template.HTML {
	return template.HTML(fmt.Sprintf(
		`<input type="hidden" name="page" value="%s"><input type="hidden" name="gen" value="%s"><input type="hidden" name="action" value="%s">`,
		template.HTMLEscapeString(f.Token), strconv.FormatUint(f.Gen, 10), template.HTMLEscapeString(action)))
}

type threadItem struct {
	Page *DiscussionPage
	Node *feed.Node
}

type reactionButton struct {
	Content string
	Label   string
	Count   int
}

var reactionLabels = map[string]string{
	platform.ReactionThumbsUp:   "👍",
	platform.ReactionThumbsDown: "👎",
	platform.ReactionLaugh:      "😄",
	platform.ReactionHooray:     "🎉",
	platform.ReactionConfused:   "😕",
	platform.ReactionHeart:      "❤️",
	platform.ReactionRocket:     "🚀",
	platform.ReactionEyes:       "👀",
}

func reactionButtons(tally map[string]int) []reactionButton {
	out := make([]reactionButton, 0, len(platform.ReactionContents))
	for _, c := range platform.ReactionContents {
		out = append(out, reactionButton{Content: c, Label: reactionLabels[c], Count: tally[platform.TallyKey(c)]})
	}
	return out
}
