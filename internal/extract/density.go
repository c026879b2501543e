package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// extractFull returns all text in the document body, boilerplate
// regions (nav/footer/aside/common ad-like class names) excluded.
func extractFull(doc *html.Node, title string) (*Result, error) {
	body := findBody(doc)
	if body == nil {
		body = doc
	}
	text := collectCleanText(body)
	return &Result{Text: text, Title: title, Hash: hashText(text)}, nil
}

// extractDensity finds the DOM subtree with the highest text-to-markup
// ratio and low link density — a cheap boilerplate-aware heuristic used
// by the auto strategy when no selector is configured or the selector
// comes back empty.
func extractDensity(doc *html.Node, title string, minLen int) (*Result, error) {
	landmarks := findContentByLandmarks(doc)
	var parts []string
	for _, n := range landmarks {
		if isBoilerplate(n) {
			continue
		}
		if text := collectText(n); len(text) >= minLen {
			parts = append(parts, text)
		}
	}
	if len(parts) > 0 {
		combined := strings.Join(parts, "\n\n")
		return &Result{Text: combined, Title: title, Hash: hashText(combined)}, nil
	}

	body := findBody(doc)
	if body == nil {
		body = doc
	}
	if best := findDensestNode(body, minLen); best != nil {
		text := collectText(best)
		return &Result{Text: text, Title: title, Hash: hashText(text)}, nil
	}

	text := collectCleanText(body)
	return &Result{Text: text, Title: title, Hash: hashText(text)}, nil
}

func findContentByLandmarks(doc *html.Node) []*html.Node {
	for _, tag := range []atom.Atom{atom.Main, atom.Article} {
		if nodes := findAllByTag(doc, tag); len(nodes) > 0 {
			return nodes
		}
	}
	return nil
}

type nodeScore struct {
	node     *html.Node
	textLen  int
	density  float64
	linkDens float64
}

func findDensestNode(root *html.Node, minLen int) *html.Node {
	var candidates []nodeScore
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		if isBoilerplate(n) {
			return
		}
		if !isContentTag(n.DataAtom) && n.DataAtom != atom.Body {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			return
		}

		text := collectText(n)
		if len(text) < minLen {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			return
		}

		markupLen := renderedLen(n)
		if markupLen == 0 {
			markupLen = 1
		}
		linkText := collectLinkText(n)
		linkDens := float64(len(linkText)) / float64(len(text))
		density := float64(len(text)) / float64(markupLen)

		candidates = append(candidates, nodeScore{node: n, textLen: len(text), density: density, linkDens: linkDens})

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	var best *nodeScore
	var bestScore float64
	for i := range candidates {
		c := &candidates[i]
		if c.linkDens > 0.5 {
			continue
		}
		score := c.density * logScale(c.textLen) * (1 - c.linkDens)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if best == nil {
		return nil
	}
	return best.node
}

func logScale(n int) float64 {
	if n <= 0 {
		return 0
	}
	scale := 1.0
	v := n
	for v > 100 {
		scale++
		v /= 2
	}
	return scale
}

func renderedLen(n *html.Node) int {
	var buf bytes.Buffer
	html.Render(&buf, n)
	return buf.Len()
}

func collectLinkText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node, bool)
	f = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			inLink = true
		}
		if n.Type == html.TextNode && inLink {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c, inLink)
		}
	}
	f(n, false)
	return sb.String()
}

func collectCleanText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && isBoilerplate(n) {
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}
