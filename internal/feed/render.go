package feed

import "strings"

// ToText renders a parsed Feed as the line-oriented text the pipeline
// normalizes, hashes, and diffs: one "[published] title — link" line
// per entry, newest-first order as the feed provided it. A feed with
// stable entries and no new items therefore produces byte-identical
// text across two pipeline runs (spec.md §4.3 idempotence).
func (f *Feed) ToText() string {
	lines := make([]string, 0, len(f.Entries))
	for _, e := range f.Entries {
		title := e.Title
		if title == "" {
			title = "(untitled)"
		}
		lines = append(lines, "["+e.Published+"] "+title+" — "+e.Link)
	}
	return strings.Join(lines, "\n")
}
