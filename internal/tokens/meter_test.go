package tokens

import (
	"testing"

	"ragchat/internal/chat"
)

func TestCountTextNonZero(t *testing.T) {
	m := NewMeter()
	if got := m.CountText(""); got != 0 {
		t.Fatalf("empty text should count 0, got %d", got)
	}
	if got := m.CountText("What is a vector index?"); got <= 0 {
		t.Fatalf("CountText=%d, want > 0", got)
	}
}

func TestCountSession(t *testing.T) {
	m := NewMeter()
	sess := chat.Session{
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "hello"},
			{Role: chat.RoleAssistant, Content: "hi there"},
		},
	}
	if got := m.CountSession(sess); got <= 8 {
		t.Fatalf("CountSession=%d, want > message overhead", got)
	}
	if m.CountSession(chat.Session{}) != 0 {
		t.Fatalf("empty session should count 0")
	}
}

func TestHeuristicTokenCount(t *testing.T) {
	tests := []struct {
		name string
		text string
		min  int
	}{
		{name: "ascii", text: "four char groups here", min: 4},
		{name: "cjk", text: "你好世界", min: 5},
		{name: "single char floors at one", text: "a", min: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := heuristicTokenCount(tc.text); got < tc.min {
				t.Fatalf("heuristicTokenCount(%q)=%d, want >= %d", tc.text, got, tc.min)
			}
		})
	}
}
