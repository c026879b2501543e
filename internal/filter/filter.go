// Package filter evaluates the ordered rule list that decides whether a
// detected change proceeds to the agent and notifier.
package filter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Kind tags which rule variant a Rule holds.
type Kind string

const (
	KindIncludeIfContains Kind = "include_if_contains"
	KindExcludeIfContains Kind = "exclude_if_contains"
	KindIncludeIfRegex    Kind = "include_if_regex"
	KindExcludeIfRegex    Kind = "exclude_if_regex"
	KindMinChangedChars   Kind = "min_changed_chars"
	KindMaxChangedChars   Kind = "max_changed_chars"
	KindOnlyAdditions     Kind = "only_additions"
	KindOnlyRemovals      Kind = "only_removals"
)

// Rule is one tagged-variant filter entry. Only the field(s) relevant
// to Kind are meaningful; others are zero.
type Rule struct {
	Kind    Kind   `json:"kind"`
	Pattern string `json:"pattern,omitempty"`
	N       int    `json:"n,omitempty"`
}

// ParseRules decodes the JSON-encoded rule list a Watch stores.
func ParseRules(rulesJSON string) ([]Rule, error) {
	if rulesJSON == "" {
		return nil, nil
	}
	var rules []Rule
	if err := json.Unmarshal([]byte(rulesJSON), &rules); err != nil {
		return nil, fmt.Errorf("filter: parse rules: %w", err)
	}
	return rules, nil
}

// Evaluate runs rules against a unified diff body, returning whether the
// change passes (spec.md §4.6). An empty rule list always passes.
//
// Evaluation order: the first matching Exclude* rule short-circuits to
// false. All Include* rules must match (conjunction) for the result to
// be true. MinChangedChars/MaxChangedChars and OnlyAdditions/
// OnlyRemovals are evaluated independently and must also hold.
func Evaluate(rules []Rule, diff string) (bool, error) {
	changedChars := countChangedChars(diff)
	hasAdd, hasDel := hunkShape(diff)

	for _, r := range rules {
		switch r.Kind {
		case KindExcludeIfContains:
			if strings.Contains(diff, r.Pattern) {
				return false, nil
			}
		case KindExcludeIfRegex:
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return false, fmt.Errorf("filter: bad regex %q: %w", r.Pattern, err)
			}
			if re.MatchString(diff) {
				return false, nil
			}
		case KindMinChangedChars:
			if changedChars < r.N {
				return false, nil
			}
		case KindMaxChangedChars:
			if changedChars > r.N {
				return false, nil
			}
		case KindOnlyAdditions:
			if !hasAdd || hasDel {
				return false, nil
			}
		case KindOnlyRemovals:
			if !hasDel || hasAdd {
				return false, nil
			}
		}
	}

	for _, r := range rules {
		switch r.Kind {
		case KindIncludeIfContains:
			if !strings.Contains(diff, r.Pattern) {
				return false, nil
			}
		case KindIncludeIfRegex:
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return false, fmt.Errorf("filter: bad regex %q: %w", r.Pattern, err)
			}
			if !re.MatchString(diff) {
				return false, nil
			}
		}
	}

	return true, nil
}

// countChangedChars sums the length of added and removed line bodies in
// a unified diff, ignoring hunk headers and file markers.
func countChangedChars(diff string) int {
	n := 0
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"), strings.HasPrefix(line, "@@"):
			continue
		case strings.HasPrefix(line, "+"), strings.HasPrefix(line, "-"):
			n += len(line) - 1
		}
	}
	return n
}

// hunkShape reports whether the diff contains any addition and/or
// removal lines.
func hunkShape(diff string) (hasAdd, hasDel bool) {
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			continue
		case strings.HasPrefix(line, "+"):
			hasAdd = true
		case strings.HasPrefix(line, "-"):
			hasDel = true
		}
	}
	return hasAdd, hasDel
}
