package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func render(src string) string {
	return string(Render(src))
}

func TestRender_EscapesMetacharacters(t *testing.T) {
	got := render(`<script>alert("x") & 'y'</script>`)
	assert.Equal(t, "<p>&lt;script&gt;alert(&quot;x&quot;) &amp; &#39;y&#39;&lt;/script&gt;</p>", got)
	assert.NotContains(t, got, "<script>")
}

func TestRender_EscapesInsideFencedCode(t *testing.T) {
	got := render("```html\n<a href=\"x\">&</a>\n```")
	assert.Equal(t, `<pre><code class="language-html">&lt;a href=&quot;x&quot;&gt;&amp;&lt;/a&gt;</code></pre>`, got)
}

func TestRender_FencedCodeIsLiteral(t *testing.T) {
	got := render("before\n\n```\n**not bold** and *not italic*\n- not a list\n# not a header\n```\n\nafter")
	assert.Contains(t, got, "<code>**not bold** and *not italic*\n- not a list\n# not a header</code>")
	assert.NotContains(t, got, "<strong>")
	assert.NotContains(t, got, "<em>")
	assert.NotContains(t, got, "<li>")
	assert.NotContains(t, got, "<h1>")
	assert.Contains(t, got, "<p>before</p>")
	assert.Contains(t, got, "<p>after</p>")
}

func TestRender_InlineCodeIsLiteral(t *testing.T) {
	got := render("run `**x** <y>` now")
	assert.Equal(t, "<p>run <code>**x** &lt;y&gt;</code> now</p>", got)
}

func TestRender_Emphasis(t *testing.T) {
	assert.Equal(t, "<p><strong>bold</strong> and <em>italic</em></p>", render("**bold** and *italic*"))
	assert.Equal(t, "<p>*not<br>\nitalic*</p>", render("*not\nitalic*"))
}

func TestRender_EmphasisNestsInsideBold(t *testing.T) {
	assert.Equal(t, "<p><strong>a *b</strong> c*</p>", render("**a *b** c*"))
	assert.Equal(t, "<p><strong><em>x</em></strong></p>", render("***x***"))
	assert.Equal(t, "<p><strong>a <em>b</em> c</strong></p>", render("**a *b* c**"))
	assert.Equal(t, "<h1><em>x</em></h1>", render("# *x*"))
}

func TestRender_Headers(t *testing.T) {
	got := render("# One\n## Two\n### Three\ntext")
	assert.Equal(t, "<h1>One</h1>\n<h2>Two</h2>\n<h3>Three</h3>\n<p>text</p>", got)
}

func TestRender_Links(t *testing.T) {
	got := render("[site](https://example.com/a?b=1&c=2)")
	assert.Equal(t, `<p><a href="https://example.com/a?b=1&amp;c=2" target="_blank" rel="noopener noreferrer">site</a></p>`, got)

	for _, bad := range []string{
		"[x](javascript:alert(1))",
		"[x](data:text/html,hi)",
		"[x](ftp://example.com)",
	} {
		got := render(bad)
		assert.NotContains(t, got, "<a ", bad)
		assert.NotContains(t, got, "href", bad)
	}
}

func TestRender_Lists(t *testing.T) {
	got := render("Items:\n- one\n- two\n\nafter")
	assert.Equal(t, "<p>Items:</p>\n<ul>\n<li>one</li>\n<li>two</li>\n</ul>\n<p>after</p>", got)
}

func TestRender_ParagraphsAndBreaks(t *testing.T) {
	got := render("line one\nline two\n\n\nsecond para")
	assert.Equal(t, "<p>line one<br>\nline two</p>\n<p>second para</p>", got)
}

func TestRender_NeverPanics(t *testing.T) {
	inputs := []string{
		"", "```", "```\nunterminated", "`", "**", "*", "[", "[x](", "- ",
		"\x00\x00", "\x00B0\x00", "# ", strings.Repeat("*", 1000),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { _ = Render(in) }, "%q", in)
	}
	assert.NotContains(t, render("\x00B0\x00 hi"), "\x00")
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "Hello world and link", Excerpt("# Hello\n**world** and [link](https://x.io)", 0))
	assert.Equal(t, "abc…", Excerpt("abcdef", 3))
}
