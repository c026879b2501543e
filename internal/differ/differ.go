// Package differ produces human-readable diffs between two normalized
// content strings for storage alongside a Change.
package differ

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// maxHunks caps diff output so a page that churns wholesale doesn't
// produce an unbounded diff string (spec.md §4.4).
const maxHunks = 200

// Unified returns a unified diff of old vs new with three lines of
// context, truncated after maxHunks hunks with a trailing marker.
func Unified(old, new string) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(old),
		B:        difflib.SplitLines(new),
		FromFile: "old",
		ToFile:   "new",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("differ: unified diff: %w", err)
	}
	return truncateHunks(text), nil
}

// Inline collapses a diff into a single line of +insertions and
// -deletions, for compact notification bodies.
func Inline(old, new string) string {
	matcher := difflib.NewMatcher(difflib.SplitLines(old), difflib.SplitLines(new))
	var added, removed []string
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'i', 'r':
			for _, l := range difflib.SplitLines(new)[op.J1:op.J2] {
				if l = strings.TrimSpace(l); l != "" {
					added = append(added, l)
				}
			}
			if op.Tag == 'r' {
				for _, l := range difflib.SplitLines(old)[op.I1:op.I2] {
					if l = strings.TrimSpace(l); l != "" {
						removed = append(removed, l)
					}
				}
			}
		case 'd':
			for _, l := range difflib.SplitLines(old)[op.I1:op.I2] {
				if l = strings.TrimSpace(l); l != "" {
					removed = append(removed, l)
				}
			}
		}
	}

	var parts []string
	if len(added) > 0 {
		parts = append(parts, "[+"+strings.Join(added, " / ")+"]")
	}
	if len(removed) > 0 {
		parts = append(parts, "[-"+strings.Join(removed, " / ")+"]")
	}
	return strings.Join(parts, " ")
}

func truncateHunks(diff string) string {
	lines := strings.Split(diff, "\n")
	hunks := 0
	for i, l := range lines {
		if strings.HasPrefix(l, "@@") {
			hunks++
			if hunks > maxHunks {
				return strings.Join(lines[:i], "\n") + "\n… (truncated)\n"
			}
		}
	}
	return diff
}
