// Package feed decodes RSS 2.0 and Atom 1.0 documents into a single
// normalized shape so the rss extraction strategy and the auto
// content-type detector don't need to care which dialect a watch's
// upstream happens to speak.
package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// Entry is one item/entry from a feed, normalized across RSS and Atom
// field names.
type Entry struct {
	GUID        string `json:"guid"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Published   string `json:"published"`
	Author      string `json:"author"`
}

// Feed is a decoded RSS or Atom document.
type Feed struct {
	Title   string  `json:"title"`
	Link    string  `json:"link"`
	Entries []Entry `json:"entries"`
}

// dialect names the feed syntax found in a document's root element.
type dialect int

const (
	dialectUnknown dialect = iota
	dialectRSS
	dialectAtom
)

// Parse sniffs a document's root element and decodes it as RSS 2.0 or
// Atom 1.0, returning an error for anything else (including malformed
// or empty input).
func Parse(data []byte) (*Feed, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("feed: empty data")
	}

	switch sniffDialect(data) {
	case dialectRSS:
		return decodeRSS(data)
	case dialectAtom:
		return decodeAtom(data)
	default:
		return nil, fmt.Errorf("feed: unrecognized root element (want <rss>, <rdf>, or <feed>)")
	}
}

// sniffDialect reads just far enough into the document to classify its
// root element, without decoding the whole tree.
func sniffDialect(data []byte) dialect {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return dialectUnknown
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch strings.ToLower(start.Name.Local) {
		case "rss", "rdf":
			return dialectRSS
		case "feed":
			return dialectAtom
		default:
			return dialectUnknown
		}
	}
}

// --- RSS 2.0 ---

type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Link  string    `xml:"link"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	GUID        string `xml:"guid"`
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Encoded     string `xml:"encoded"` // content:encoded
	PubDate     string `xml:"pubDate"`
	Author      string `xml:"author"`
	Creator     string `xml:"creator"` // dc:creator
}

func decodeRSS(data []byte) (*Feed, error) {
	var doc rssDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("feed: decode rss: %w", err)
	}

	out := &Feed{
		Title:   clean(doc.Channel.Title),
		Link:    clean(doc.Channel.Link),
		Entries: make([]Entry, 0, len(doc.Channel.Items)),
	}
	for _, item := range doc.Channel.Items {
		out.Entries = append(out.Entries, Entry{
			GUID:        firstNonEmpty(item.GUID, item.Link),
			Title:       clean(item.Title),
			Link:        clean(item.Link),
			Description: clean(item.Description),
			Content:     clean(item.Encoded),
			Published:   clean(item.PubDate),
			Author:      firstNonEmpty(item.Author, item.Creator),
		})
	}
	return out, nil
}

// --- Atom 1.0 ---

type atomDocument struct {
	XMLName xml.Name   `xml:"feed"`
	Title   string     `xml:"title"`
	Links   []atomLink `xml:"link"`
	Entries []struct {
		ID        string     `xml:"id"`
		Title     string     `xml:"title"`
		Links     []atomLink `xml:"link"`
		Summary   string     `xml:"summary"`
		Content   struct {
			Body string `xml:",chardata"`
		} `xml:"content"`
		Published string `xml:"published"`
		Updated   string `xml:"updated"`
		Authors   []struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

func decodeAtom(data []byte) (*Feed, error) {
	var doc atomDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("feed: decode atom: %w", err)
	}

	out := &Feed{
		Title:   clean(doc.Title),
		Link:    preferredLink(doc.Links),
		Entries: make([]Entry, 0, len(doc.Entries)),
	}
	for _, entry := range doc.Entries {
		link := preferredLink(entry.Links)
		var author string
		if len(entry.Authors) > 0 {
			author = clean(entry.Authors[0].Name)
		}
		out.Entries = append(out.Entries, Entry{
			GUID:        firstNonEmpty(entry.ID, link),
			Title:       clean(entry.Title),
			Link:        link,
			Description: clean(entry.Summary),
			Content:     clean(entry.Content.Body),
			Published:   firstNonEmpty(entry.Published, entry.Updated),
			Author:      author,
		})
	}
	return out, nil
}

// preferredLink picks the rel="alternate" href, or the bare href when
// no rel is given, falling back to whichever link came first.
func preferredLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "alternate" || l.Rel == "" {
			return clean(l.Href)
		}
	}
	if len(links) > 0 {
		return clean(links[0].Href)
	}
	return ""
}

func clean(s string) string {
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if c := clean(v); c != "" {
			return c
		}
	}
	return ""
}
