package extract

import (
	"encoding/json"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// extractMeta collects <meta name|property content=...> pairs relevant
// to change tracking (title, description, OpenGraph) into a stable,
// line-oriented text block so unrelated meta churn (viewport, csrf
// tokens) doesn't register as noise — those keys are simply not
// collected.
func extractMeta(doc *html.Node, title string) (*Result, error) {
	var lines []string
	if title != "" {
		lines = append(lines, "title: "+title)
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Meta {
			key := getAttr(n, "name")
			if key == "" {
				key = getAttr(n, "property")
			}
			if key != "" && wantedMetaKey(key) {
				if content := strings.TrimSpace(getAttr(n, "content")); content != "" {
					lines = append(lines, key+": "+content)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := strings.Join(lines, "\n")
	return &Result{Text: text, Title: title, Hash: hashText(text)}, nil
}

var wantedMetaPrefixes = []string{"description", "og:", "twitter:", "article:"}

func wantedMetaKey(key string) bool {
	key = strings.ToLower(key)
	for _, p := range wantedMetaPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// extractJSONLD collects every <script type="application/ld+json">
// block, re-serialising each as compact JSON so formatting-only churn
// in the source doesn't register as a content change.
func extractJSONLD(doc *html.Node, title string) (*Result, error) {
	var blocks []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script && getAttr(n, "type") == "application/ld+json" {
			if n.FirstChild != nil {
				if canon, ok := canonicalizeJSON(n.FirstChild.Data); ok {
					blocks = append(blocks, canon)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := strings.Join(blocks, "\n")
	return &Result{Text: text, Title: title, Hash: hashText(text)}, nil
}

func canonicalizeJSON(raw string) (string, bool) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "", false
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(out), true
}
