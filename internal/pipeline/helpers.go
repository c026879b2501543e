package pipeline

import (
	"encoding/json"
	"os"

	"github.com/hazyhaar/kto/internal/agent"
)

func headersOf(headersJSON string) map[string]string {
	if headersJSON == "" {
		return nil
	}
	var h map[string]string
	if err := json.Unmarshal([]byte(headersJSON), &h); err != nil {
		return nil
	}
	return h
}

// readProfile loads the user's interest profile from disk for the
// agent prompt (spec.md §4.7 use_profile). A missing or unreadable
// file degrades to an empty profile rather than failing the pipeline.
func readProfile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}

func verdictJSON(v *agent.Verdict) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
