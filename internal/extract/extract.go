// Package extract turns raw fetched bytes into the plain text that
// gets normalized, hashed, and diffed. It implements the six
// extraction strategies a watch can choose: auto, selector, full,
// meta, rss, and json_ld.
package extract

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/kto/internal/feed"
)

// Result is the output of content extraction.
type Result struct {
	Text  string
	Title string
	Hash  string
}

// Options controls extraction behaviour.
type Options struct {
	Mode        string // auto, selector, full, meta, rss, json_ld
	CSS         string // selector text, space-separated descendant chain
	ContentType string // response Content-Type, used by the auto strategy's RSS/Atom detection
	MinTextLen  int    // minimum text length to accept; default 50
}

func (o *Options) defaults() {
	if o.Mode == "" {
		o.Mode = "auto"
	}
	if o.MinTextLen <= 0 {
		o.MinTextLen = 50
	}
}

// Extract runs the chosen strategy against raw fetched bytes. The rss
// strategy is a thin pass-through — feed parsing lives in internal/feed
// and produces its own text directly; auto detects RSS/Atom the same
// way from opts.ContentType before falling back to HTML parsing.
func Extract(raw []byte, opts Options) (*Result, error) {
	opts.defaults()

	if opts.Mode == "auto" && isFeedContentType(opts.ContentType) {
		if f, err := feed.Parse(raw); err == nil {
			text := f.ToText()
			return &Result{Text: text, Title: f.Title, Hash: hashText(text)}, nil
		}
		// Malformed despite the content-type claim; fall through to
		// HTML-based auto-detection below.
	}

	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	title := findTitle(doc)

	switch opts.Mode {
	case "selector":
		return extractSelector(doc, opts.CSS, title, opts.MinTextLen)
	case "full":
		return extractFull(doc, title)
	case "meta":
		return extractMeta(doc, title)
	case "json_ld":
		return extractJSONLD(doc, title)
	case "auto":
		if opts.CSS != "" {
			if res, err := extractSelector(doc, opts.CSS, title, opts.MinTextLen); err == nil && len(res.Text) >= opts.MinTextLen {
				return res, nil
			}
		}
		if res, ok := tryTypedJSONLD(doc, title); ok {
			return res, nil
		}
		return extractDensity(doc, title, opts.MinTextLen)
	default:
		return nil, fmt.Errorf("extract: unknown mode %q", opts.Mode)
	}
}

// isFeedContentType reports whether a response Content-Type names an
// RSS or Atom feed (spec.md §4.3's auto strategy).
func isFeedContentType(contentType string) bool {
	switch strings.ToLower(contentType) {
	case "application/rss+xml", "application/atom+xml", "application/xml", "text/xml":
		return true
	}
	return false
}

// tryTypedJSONLD scans for a JSON-LD block whose @type is Product or
// Article (spec.md §4.3's auto strategy, second precedence tier) and,
// if found, extracts via the json_ld strategy.
func tryTypedJSONLD(doc *html.Node, title string) (*Result, bool) {
	var found bool
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found || n.Type != html.ElementNode {
			for c := n.FirstChild; c != nil && !found; c = c.NextSibling {
				walk(c)
			}
			return
		}
		if n.DataAtom == atom.Script && getAttr(n, "type") == "application/ld+json" && n.FirstChild != nil {
			if jsonLDType(n.FirstChild.Data) {
				found = true
				return
			}
		}
		for c := n.FirstChild; c != nil && !found; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if !found {
		return nil, false
	}
	res, err := extractJSONLD(doc, title)
	if err != nil || res.Text == "" {
		return nil, false
	}
	return res, true
}

// jsonLDType reports whether a JSON-LD block's @type (string or array
// form) is Product or Article.
func jsonLDType(raw string) bool {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	switch t := obj["@type"].(type) {
	case string:
		return t == "Product" || t == "Article"
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && (s == "Product" || s == "Article") {
				return true
			}
		}
	}
	return false
}

func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}

func findTitle(doc *html.Node) string {
	var title string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			if n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)
	return title
}

// collectText extracts all visible text from a node subtree, skipping
// script/style/noscript content.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

func isContentTag(a atom.Atom) bool {
	switch a {
	case atom.Main, atom.Article, atom.Section, atom.Div, atom.P,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Li,
		atom.Table, atom.Td, atom.Th, atom.Dl, atom.Dd, atom.Dt,
		atom.Figure, atom.Figcaption, atom.Details, atom.Summary:
		return true
	}
	return false
}

func isBoilerplate(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside:
		return true
	}
	for _, attr := range n.Attr {
		if attr.Key == "class" || attr.Key == "id" {
			lower := strings.ToLower(attr.Val)
			for _, pattern := range boilerplatePatterns {
				if strings.Contains(lower, pattern) {
					return true
				}
			}
		}
		if attr.Key == "role" {
			switch attr.Val {
			case "navigation", "banner", "contentinfo", "complementary":
				return true
			}
		}
	}
	return false
}

var boilerplatePatterns = []string{
	"sidebar", "footer", "header", "nav", "menu", "breadcrumb",
	"cookie", "banner", "advert", "social", "share", "comment",
	"related", "widget", "popup", "modal",
}

func findAllByTag(root *html.Node, tag atom.Atom) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

func findBody(doc *html.Node) *html.Node {
	nodes := findAllByTag(doc, atom.Body)
	if len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
