package lor

import (
	"bytes"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parse extracts comments from a search results page. Each result is an
// <article class="msg"> carrying the topic link in its <h2>, the body in
// div.msg_body, the author in a[itemprop=creator] and the time in
// time[datetime].
func (a *Adapter) parse(page []byte) ([]Comment, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var comments []Comment
	for _, n := range findAll(doc, isMessage) {
		c, err := a.parseMessage(n)
		if err != nil {
			a.logger.Warn("skipping comment", "error", err)
			continue
		}
		comments = append(comments, c)
	}
	return comments, nil
}

func (a *Adapter) parseMessage(n *html.Node) (Comment, error) {
	var c Comment

	timeNode := findFirst(n, func(n *html.Node) bool {
		return n.DataAtom == atom.Time && attr(n, "datetime") != ""
	})
	if timeNode == nil {
		return c, fmt.Errorf("no timestamp")
	}
	posted, err := time.Parse(time.RFC3339, attr(timeNode, "datetime"))
	if err != nil {
		return c, fmt.Errorf("parse timestamp %q: %w", attr(timeNode, "datetime"), err)
	}
	c.Posted = posted

	if h := findFirst(n, func(n *html.Node) bool { return n.DataAtom == atom.H2 }); h != nil {
		if link := findFirst(h, isAnchor); link != nil {
			c.Topic = strings.TrimSpace(collectText(link))
			c.Link = a.resolve(attr(link, "href"))
		}
	}

	if author := findFirst(n, func(n *html.Node) bool {
		return isAnchor(n) && attr(n, "itemprop") == "creator"
	}); author != nil {
		c.Author = strings.TrimSpace(collectText(author))
	}

	body := findFirst(n, func(n *html.Node) bool { return hasClass(n, "msg_body") })
	if body == nil {
		return c, fmt.Errorf("no body")
	}

	c.text = strings.TrimSpace(collectText(body))
	c.bodyHTML = a.policy.Sanitize(renderChildren(body))
	c.bodyMD = a.markdown(c.bodyHTML, c.text)

	return c, nil
}

func (a *Adapter) markdown(sanitized, fallback string) string {
	md, err := a.md.ConvertString(sanitized, converter.WithDomain(a.baseURL.String()))
	if err != nil || strings.TrimSpace(md) == "" {
		return fallback
	}
	return strings.TrimSpace(md)
}

func (a *Adapter) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return a.baseURL.ResolveReference(ref).String()
}

func isMessage(n *html.Node) bool {
	return n.DataAtom == atom.Article && hasClass(n, "msg")
}

func isAnchor(n *html.Node) bool {
	return n.DataAtom == atom.A
}

func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			results = append(results, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	return slices.Contains(strings.Fields(attr(n, "class")), class)
}

var blockElements = map[atom.Atom]bool{
	atom.P:          true,
	atom.Div:        true,
	atom.Br:         true,
	atom.Li:         true,
	atom.Pre:        true,
	atom.Blockquote: true,
}

// collectText concatenates text nodes, breaking lines after block elements.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] {
			sb.WriteByte('\n')
		}
	}
	walk(n)
	return sb.String()
}

func renderChildren(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}
