package router

import "testing"

func TestNewIsDeterministic(t *testing.T) {
	a := New("claude", "discord", PeerKindChannel, "123")
	b := New("claude", "discord", PeerKindChannel, "123")
	if a != b {
		t.Fatalf("expected identical keys, got %q and %q", a, b)
	}
}

func TestNewDistinguishesEveryField(t *testing.T) {
	base := New("claude", "discord", PeerKindChannel, "123")

	variants := []Key{
		New("other-agent", "discord", PeerKindChannel, "123"),
		New("claude", "telegram", PeerKindChannel, "123"),
		New("claude", "discord", PeerKindUser, "123"),
		New("claude", "discord", PeerKindChannel, "456"),
	}

	for _, v := range variants {
		if v == base {
			t.Fatalf("expected key to differ from base, got identical %q", v)
		}
	}
}

func TestKeyAgentName(t *testing.T) {
	key := New("claude", "discord", PeerKindChannel, "123")
	if got := key.AgentName(); got != "claude" {
		t.Fatalf("expected agent name %q, got %q", "claude", got)
	}
}

func TestTableGetSetDelete(t *testing.T) {
	table := NewTable()
	key := New("claude", "discord", PeerKindChannel, "123")

	if _, ok := table.Get(key); ok {
		t.Fatal("expected no binding for a fresh table")
	}

	table.Set(key, "session-a")
	id, ok := table.Get(key)
	if !ok || id != "session-a" {
		t.Fatalf("expected session-a, got %q (ok=%v)", id, ok)
	}

	table.Set(key, "session-b")
	id, ok = table.Get(key)
	if !ok || id != "session-b" {
		t.Fatalf("expected rebinding to session-b, got %q (ok=%v)", id, ok)
	}

	table.Delete(key)
	if _, ok := table.Get(key); ok {
		t.Fatal("expected binding to be gone after delete")
	}
}

func TestTableKeysSnapshot(t *testing.T) {
	table := NewTable()
	table.Set(New("claude", "discord", PeerKindChannel, "1"), "s1")
	table.Set(New("claude", "telegram", PeerKindUser, "2"), "s2")

	keys := table.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
}

func TestKnownAgents(t *testing.T) {
	configured := map[string][]string{"claude": {"claude-agent", "--acp"}}

	if err := KnownAgents(configured, "", "claude"); err != nil {
		t.Fatalf("expected known agent to pass, got %v", err)
	}

	if err := KnownAgents(configured, "", "nonexistent"); err == nil {
		t.Fatal("expected unknown agent without fallback to fail")
	}

	if err := KnownAgents(configured, "fallback-cmd", "nonexistent"); err != nil {
		t.Fatalf("expected fallback command to cover unknown agent, got %v", err)
	}
}
