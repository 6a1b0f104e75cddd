// Package markdown converts the constrained markdown dialect used in posts
// and comments to HTML.
//
// The input is HTML-escaped before anything else runs, and no later step
// emits text that did not pass through that escape. Code is lifted out into
// placeholders before any inline formatting so its contents render
// literally. The steps run in a fixed order; each one relies on the shape
// the previous one produced.
package markdown

import (
	"fmt"
	"html/template"
	"regexp"
	"strconv"
	"strings"
)

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

var (
	fencePattern      = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[^\\n]*\\n(.*?)```")
	inlineCodePattern = regexp.MustCompile("`([^`\\n]+)`")
	h3Pattern         = regexp.MustCompile(`(?m)^### (.+)$`)
	h2Pattern         = regexp.MustCompile(`(?m)^## (.+)$`)
	h1Pattern         = regexp.MustCompile(`(?m)^# (.+)$`)
	strongEmPattern   = regexp.MustCompile(`\*\*\*([^*\n]+)\*\*\*`)
	boldPattern       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicPattern     = regexp.MustCompile(`\*([^*<\n]+)\*`)
	linkPattern       = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\s)]+)\)`)
	blankLinePattern  = regexp.MustCompile(`\n[ \t]*\n+`)
	placeholder       = regexp.MustCompile(`\x00(B|I)([0-9]+)\x00`)
)

// Placeholders are delimited by NUL, which is removed from input up front.
const (
	blockMarker  = "\x00B"
	inlineMarker = "\x00I"
)

// Render converts src to an HTML fragment. It never fails; malformed input
// produces best-effort output.
func Render(src string) template.HTML {
	if src == "" {
		return ""
	}
	text := strings.ReplaceAll(src, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	// 1. escape
	text = escaper.Replace(text)

	// 2. fenced code blocks
	var blocks []string
	text = fencePattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := fencePattern.FindStringSubmatch(m)
		lang, body := sub[1], strings.TrimSuffix(sub[2], "\n")
		class := ""
		if lang != "" {
			class = fmt.Sprintf(` class="language-%s"`, lang)
		}
		blocks = append(blocks, fmt.Sprintf("<pre><code%s>%s</code></pre>", class, body))
		return "\n\n" + blockMarker + strconv.Itoa(len(blocks)-1) + "\x00\n\n"
	})

	// 3. inline code
	var spans []string
	text = inlineCodePattern.ReplaceAllStringFunc(text, func(m string) string {
		spans = append(spans, "<code>"+m[1:len(m)-1]+"</code>")
		return inlineMarker + strconv.Itoa(len(spans)-1) + "\x00"
	})

	// 4. headers, emphasis, links, lists
	text = h3Pattern.ReplaceAllString(text, "\n\n<h3>$1</h3>\n\n")
	text = h2Pattern.ReplaceAllString(text, "\n\n<h2>$1</h2>\n\n")
	text = h1Pattern.ReplaceAllString(text, "\n\n<h1>$1</h1>\n\n")
	text = strongEmPattern.ReplaceAllString(text, "<strong><em>$1</em></strong>")
	text = boldPattern.ReplaceAllString(text, "<strong>$1</strong>")
	// Escaping leaves no literal '<', so italic stops at any tag bold emitted.
	text = italicPattern.ReplaceAllString(text, "<em>$1</em>")
	text = linkPattern.ReplaceAllString(text, `<a href="$2" target="_blank" rel="noopener noreferrer">$1</a>`)
	text = renderLists(text)

	// 5, 6. paragraphs and line breaks
	chunks := blankLinePattern.Split(strings.TrimSpace(text), -1)
	out := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		if isBlock(chunk) {
			out = append(out, chunk)
			continue
		}
		out = append(out, "<p>"+strings.ReplaceAll(chunk, "\n", "<br>\n")+"</p>")
	}
	html := strings.Join(out, "\n")

	// 7. restore code
	html = placeholder.ReplaceAllStringFunc(html, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		i, err := strconv.Atoi(sub[2])
		if err != nil {
			return ""
		}
		if sub[1] == "B" && i < len(blocks) {
			return blocks[i]
		}
		if sub[1] == "I" && i < len(spans) {
			return spans[i]
		}
		return ""
	})
	return template.HTML(html)
}

func isBlock(chunk string) bool {
	for _, prefix := range []string{"<h1>", "<h2>", "<h3>", "<ul>", blockMarker} {
		if strings.HasPrefix(chunk, prefix) {
			return true
		}
	}
	return false
}

// renderLists turns runs of lines starting with "- " into one list each.
func renderLists(text string) string {
	lines := strings.Split(text, "\n")
	var b strings.Builder
	inList := false
	for i, line := range lines {
		item, isItem := strings.CutPrefix(line, "- ")
		switch {
		case isItem && !inList:
			b.WriteString("\n\n<ul>\n")
			inList = true
			fallthrough
		case isItem:
			b.WriteString("<li>" + item + "</li>\n")
			continue
		case inList:
			b.WriteString("</ul>\n\n")
			inList = false
		}
		b.WriteString(line)
		if i < len(lines)-1 {
			b.WriteString("\n")
		}
	}
	if inList {
		b.WriteString("</ul>\n\n")
	}
	return b.String()
}

// Excerpt returns the first n runes of src with markdown markers removed,
// for previews and feed descriptions. The result is plain text.
func Excerpt(src string, n int) string {
	text := strings.ReplaceAll(src, "\x00", "")
	text = fencePattern.ReplaceAllString(text, " ")
	text = strings.NewReplacer("**", "", "`", "", "# ", "", "\n", " ").Replace(text)
	text = linkPattern.ReplaceAllString(text, "$1")
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if n <= 0 || len(runes) <= n {
		return text
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
