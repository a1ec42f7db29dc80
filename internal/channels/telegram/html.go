package telegram

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownToHTML renders model Markdown as Telegram HTML. Telegram accepts
// only a small tag set (b, i, s, code, pre, a), so the usual HTML renderer
// output would be rejected; this walks the AST and emits just those tags.
// Everything else degrades to plain text.
func MarkdownToHTML(markdown string) string {
	if markdown == "" {
		return ""
	}
	src := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	w := htmlWriter{src: src}
	w.children(&buf, doc)
	return strings.TrimRight(buf.String(), "\n")
}

type htmlWriter struct {
	src []byte
}

func (w htmlWriter) children(buf *bytes.Buffer, node ast.Node) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		w.node(buf, child)
	}
}

func (w htmlWriter) node(buf *bytes.Buffer, node ast.Node) {
	switch n := node.(type) {
	case *ast.Paragraph:
		w.children(buf, n)
		buf.WriteString("\n\n")

	case *ast.Heading:
		// No heading tags on Telegram; bold stands in.
		buf.WriteString("<b>")
		w.children(buf, n)
		buf.WriteString("</b>\n\n")

	case *ast.Blockquote:
		var inner bytes.Buffer
		w.children(&inner, n)
		for _, line := range strings.Split(strings.TrimRight(inner.String(), "\n"), "\n") {
			buf.WriteString("&gt; " + line + "\n")
		}
		buf.WriteString("\n")

	case *ast.FencedCodeBlock:
		w.codeBlock(buf, n, string(n.Language(w.src)))

	case *ast.CodeBlock:
		w.codeBlock(buf, n, "")

	case *ast.List:
		w.list(buf, n)

	case *ast.ThematicBreak:
		buf.WriteString("---\n\n")

	case *ast.Text:
		buf.WriteString(html.EscapeString(string(n.Segment.Value(w.src))))
		if n.SoftLineBreak() || n.HardLineBreak() {
			buf.WriteByte('\n')
		}

	case *ast.String:
		buf.WriteString(html.EscapeString(string(n.Value)))

	case *ast.CodeSpan:
		buf.WriteString("<code>")
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			if t, ok := child.(*ast.Text); ok {
				buf.WriteString(html.EscapeString(string(t.Segment.Value(w.src))))
			}
		}
		buf.WriteString("</code>")

	case *ast.Emphasis:
		tag := "i"
		if n.Level == 2 {
			tag = "b"
		}
		buf.WriteString("<" + tag + ">")
		w.children(buf, n)
		buf.WriteString("</" + tag + ">")

	case *ast.Link:
		buf.WriteString(`<a href="` + html.EscapeString(string(n.Destination)) + `">`)
		w.children(buf, n)
		buf.WriteString("</a>")

	case *ast.AutoLink:
		url := html.EscapeString(string(n.URL(w.src)))
		buf.WriteString(`<a href="` + url + `">` + url + "</a>")

	case *ast.Image:
		buf.WriteString("[image: " + html.EscapeString(string(n.Destination)) + "]")

	case *ast.RawHTML, *ast.HTMLBlock:
		// Model-emitted HTML is not trusted; drop the tags, keep nothing.

	default:
		w.children(buf, node)
	}
}

func (w htmlWriter) codeBlock(buf *bytes.Buffer, node interface {
	ast.Node
	Lines() *text.Segments
}, lang string) {
	if lang != "" {
		fmt.Fprintf(buf, "<pre><code class=%q>", "language-"+lang)
	} else {
		buf.WriteString("<pre><code>")
	}
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.WriteString(html.EscapeString(string(seg.Value(w.src))))
	}
	buf.WriteString("</code></pre>\n\n")
}

func (w htmlWriter) list(buf *bytes.Buffer, l *ast.List) {
	idx := l.Start
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		if l.IsOrdered() {
			fmt.Fprintf(buf, "%d. ", idx)
			idx++
		} else {
			buf.WriteString("• ")
		}
		var inner bytes.Buffer
		w.children(&inner, item)
		lines := strings.Split(strings.TrimRight(inner.String(), "\n"), "\n")
		for i, line := range lines {
			if i > 0 {
				buf.WriteString("\n  ")
			}
			buf.WriteString(line)
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
}
