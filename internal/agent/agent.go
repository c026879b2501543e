// Package agent invokes an external CLI to judge a detected change and
// decide whether it's worth notifying about (spec.md §4.7).
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ErrKind tags the category of an AgentError (spec.md §7). AgentError
// is always non-fatal: the caller falls back to filter-only behaviour.
type ErrKind string

const (
	ErrTimeout     ErrKind = "timeout"
	ErrParse       ErrKind = "parse"
	ErrExit        ErrKind = "exit"
	ErrNotInstalled ErrKind = "not_installed"
)

// AgentError is returned whenever the subprocess could not produce a
// usable verdict.
type AgentError struct {
	Kind ErrKind
	Err  error
}

func (e *AgentError) Error() string { return fmt.Sprintf("agent: %s: %v", e.Kind, e.Err) }
func (e *AgentError) Unwrap() error { return e.Err }

// Verdict is the structured reply an agent subprocess emits on stdout.
type Verdict struct {
	Notify        bool           `json:"notify"`
	Title         string         `json:"title"`
	Summary       string         `json:"summary"`
	MemoryUpdates map[string]any `json:"memory_updates"`
	Reasoning     string         `json:"reasoning"`
}

// Prompt is the context handed to the external agent.
type Prompt struct {
	WatchName   string
	Instructions string
	OldContent  string
	NewContent  string
	Diff        string
	Memory      string // current AgentMemory JSON
	Profile     string // user interest profile, only when UseProfile is set
}

// Config configures how the subprocess is invoked.
type Config struct {
	Bin     string // defaults to "kto-agent"
	Timeout time.Duration
}

func (c *Config) defaults() {
	if c.Bin == "" {
		c.Bin = "kto-agent"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}

// Invoke runs the agent subprocess with p on stdin and returns its
// parsed verdict. On any failure it returns an *AgentError; callers
// degrade gracefully per spec.md §4.7: the change is still recorded,
// agent_response stays null, and notify falls back to filter_passed.
func Invoke(ctx context.Context, cfg Config, p Prompt) (*Verdict, error) {
	cfg.defaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cfg.Bin, "--json")
	cmd.Stdin = strings.NewReader(renderPrompt(p))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := runWithEscalation(ctx, cmd)
	if ctx.Err() != nil {
		return nil, &AgentError{Kind: ErrTimeout, Err: ctx.Err()}
	}
	if err != nil {
		var execErr *exec.Error
		if isExecNotFound(err, &execErr) {
			return nil, &AgentError{Kind: ErrNotInstalled, Err: err}
		}
		return nil, &AgentError{Kind: ErrExit, Err: fmt.Errorf("%w: %s", err, stderr.String())}
	}

	var v Verdict
	if err := json.Unmarshal(stdout.Bytes(), &v); err != nil {
		return nil, &AgentError{Kind: ErrParse, Err: err}
	}
	return &v, nil
}

func isExecNotFound(err error, target **exec.Error) bool {
	if ee, ok := err.(*exec.Error); ok {
		*target = ee
		return ee.Err == exec.ErrNotFound
	}
	return false
}

func renderPrompt(p Prompt) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "watch: %s\n", p.WatchName)
	if p.Instructions != "" {
		fmt.Fprintf(&sb, "instructions: %s\n", p.Instructions)
	}
	fmt.Fprintf(&sb, "memory: %s\n", p.Memory)
	if p.Profile != "" {
		fmt.Fprintf(&sb, "profile: %s\n", p.Profile)
	}
	sb.WriteString("--- old ---\n")
	sb.WriteString(p.OldContent)
	sb.WriteString("\n--- new ---\n")
	sb.WriteString(p.NewContent)
	sb.WriteString("\n--- diff ---\n")
	sb.WriteString(p.Diff)
	return sb.String()
}

// runWithEscalation runs cmd, escalating SIGTERM then SIGKILL once ctx
// is cancelled, giving the process 5s to exit cleanly first.
func runWithEscalation(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			_ = cmd.Process.Kill()
			return <-done
		}
	}
}

// MarshalMemoryUpdates serializes a verdict's memory updates for
// storage, returning "" when there are none to merge.
func MarshalMemoryUpdates(v *Verdict) (string, error) {
	if v == nil || len(v.MemoryUpdates) == 0 {
		return "", nil
	}
	b, err := json.Marshal(v.MemoryUpdates)
	if err != nil {
		return "", fmt.Errorf("agent: marshal memory updates: %w", err)
	}
	return string(b), nil
}
