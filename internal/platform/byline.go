package platform

import (
	"regexp"
	"strings"
)

// BylineKind selects which attribution convention to look for.
type BylineKind int

const (
	// PostByline matches "*Posted by **name***" followed by a "---" rule.
	PostByline BylineKind = iota
	// CommentByline matches "*— **name***".
	CommentByline
)

var (
	postBylinePattern    = regexp.MustCompile(`^\*Posted by \*\*(.+?)\*\*\*\s*$`)
	commentBylinePattern = regexp.MustCompile(`^\*(?:—|--) \*\*(.+?)\*\*\*\s*$`)
)

// ExtractByline looks for an attribution line at the top of body. When found
// it returns the attributed name and the body with the byline (and, for posts,
// the following separator) removed. Otherwise it returns "", body, false.
//
// Many logical authors post through one shared platform account, so the
// byline is the true identity whenever it is present.
func ExtractByline(body string, kind BylineKind) (string, string, bool) {
	normalized := strings.ReplaceAll(body, "\r\n", "\n")
	first, rest, _ := strings.Cut(normalized, "\n")

	pattern := postBylinePattern
	if kind == CommentByline {
		pattern = commentBylinePattern
	}
	m := pattern.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return "", body, false
	}
	name := strings.TrimSpace(m[1])
	if name == "" {
		return "", body, false
	}

	rest = strings.TrimLeft(rest, "\n")
	if line, after, found := strings.Cut(rest, "\n"); strings.TrimSpace(line) == "---" {
		if found {
			rest = after
		} else {
			rest = ""
		}
	}
	return name, strings.TrimLeft(rest, "\n"), true
}

// FormatPostBody applies the post byline convention.
func FormatPostBody(author, body string) string {
	return "*Posted by **" + author + "***\n\n---\n\n" + body
}

// FormatCommentBody applies the comment byline convention.
func FormatCommentBody(author, body string) string {
	return "*— **" + author + "***\n\n" + body
}

// attribute resolves the identity key for a body, falling back to login.
func attribute(body, login string, kind BylineKind) (key, content string) {
	if name, stripped, ok := ExtractByline(body, kind); ok {
		return name, stripped
	}
	if login == "" {
		login = "unknown"
	}
	return login, body
}
