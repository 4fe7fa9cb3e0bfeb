package presence

import (
	"fmt"
	"testing"
)

func TestSetTyping(t *testing.T) {
	tr := NewTracker()

	if !tr.SetTyping("general", "a", true) {
		t.Error("expected change when a starts typing")
	}
	if tr.SetTyping("general", "a", true) {
		t.Error("repeated start should not change the set")
	}
	tr.SetTyping("general", "b", true)

	if got := fmt.Sprint(tr.Typing("general")); got != "[a b]" {
		t.Errorf("Typing() = %s, want [a b]", got)
	}

	if !tr.SetTyping("general", "a", false) {
		t.Error("expected change when a stops typing")
	}
	if tr.SetTyping("general", "a", false) {
		t.Error("stopping twice should not change the set")
	}
	if got := fmt.Sprint(tr.Typing("general")); got != "[b]" {
		t.Errorf("Typing() = %s, want [b]", got)
	}
}

func TestClearIsPerRoom(t *testing.T) {
	tr := NewTracker()
	tr.SetTyping("general", "a", true)
	tr.SetTyping("tech", "a", true)

	if !tr.Clear("general", "a") {
		t.Fatal("Clear() reported no change")
	}
	if tr.IsTyping("general", "a") {
		t.Error("a still typing in general")
	}
	if !tr.IsTyping("tech", "a") {
		t.Error("Clear() removed a from another room")
	}
	if tr.Clear("random", "a") {
		t.Error("Clear() on a room without a reported a change")
	}
}

func TestTypingReturnsCopy(t *testing.T) {
	tr := NewTracker()
	tr.SetTyping("general", "a", true)

	ids := tr.Typing("general")
	ids[0] = "z"
	if !tr.IsTyping("general", "a") {
		t.Error("Typing() aliased internal state")
	}
	if tr.Count("general") != 1 {
		t.Errorf("Count() = %d, want 1", tr.Count("general"))
	}
}
