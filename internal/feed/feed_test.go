package feed

import (
	"strings"
	"testing"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Example Blog</title>
<link>https://example.com</link>
<item>
  <title>First Post</title>
  <link>https://example.com/1</link>
  <guid>https://example.com/1</guid>
  <pubDate>Mon, 01 Jan 2024 00:00:00 GMT</pubDate>
</item>
</channel></rss>`

const sampleAtom = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Example Atom</title>
<link href="https://example.com" rel="alternate"/>
<entry>
  <id>tag:example.com,2024:1</id>
  <title>Atom Post</title>
  <link href="https://example.com/atom/1" rel="alternate"/>
  <published>2024-01-01T00:00:00Z</published>
</entry>
</feed>`

func TestParse_RSS(t *testing.T) {
	f, err := Parse([]byte(sampleRSS))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(f.Entries) != 1 || f.Entries[0].Title != "First Post" {
		t.Fatalf("unexpected feed: %+v", f)
	}
}

func TestParse_Atom(t *testing.T) {
	f, err := Parse([]byte(sampleAtom))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(f.Entries) != 1 || f.Entries[0].Title != "Atom Post" {
		t.Fatalf("unexpected feed: %+v", f)
	}
}

func TestParse_RejectsUnknownFormat(t *testing.T) {
	if _, err := Parse([]byte("<html></html>")); err == nil {
		t.Fatalf("expected error for non-feed XML")
	}
}

func TestToText_StableAcrossRuns(t *testing.T) {
	f, err := Parse([]byte(sampleRSS))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	a := f.ToText()
	b := f.ToText()
	if a != b {
		t.Fatalf("ToText not stable: %q vs %q", a, b)
	}
	if !strings.Contains(a, "First Post") || !strings.Contains(a, "https://example.com/1") {
		t.Fatalf("unexpected rendering: %q", a)
	}
}
