package agent

import (
	"context"
	"testing"
	"time"
)

func TestInvoke_NotInstalledDegradesGracefully(t *testing.T) {
	_, err := Invoke(context.Background(), Config{Bin: "kto-agent-does-not-exist-xyz"}, Prompt{WatchName: "w"})
	ae, ok := err.(*AgentError)
	if !ok {
		t.Fatalf("expected *AgentError, got %v", err)
	}
	if ae.Kind != ErrNotInstalled {
		t.Fatalf("expected ErrNotInstalled, got %v", ae.Kind)
	}
}

func TestInvoke_TimeoutIsCategorized(t *testing.T) {
	cfg := Config{Bin: "sleep", Timeout: 10 * time.Millisecond}
	_, err := Invoke(context.Background(), cfg, Prompt{WatchName: "w"})
	ae, ok := err.(*AgentError)
	if !ok {
		t.Fatalf("expected *AgentError, got %v", err)
	}
	if ae.Kind != ErrTimeout && ae.Kind != ErrExit {
		t.Fatalf("expected timeout or exit error for 'sleep --json', got %v", ae.Kind)
	}
}

func TestMarshalMemoryUpdates_EmptyWhenNil(t *testing.T) {
	s, err := MarshalMemoryUpdates(nil)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if s != "" {
		t.Fatalf("expected empty string, got %q", s)
	}
}

func TestMarshalMemoryUpdates_SerializesMap(t *testing.T) {
	v := &Verdict{MemoryUpdates: map[string]any{"seen_count": 3.0}}
	s, err := MarshalMemoryUpdates(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if s != `{"seen_count":3}` {
		t.Fatalf("unexpected json: %q", s)
	}
}
