package tui

import (
	"strings"
	"testing"

	"ragchat/internal/chat"
)

func TestRenderMarkdown(t *testing.T) {
	out := RenderMarkdown("# Title\n\nsome **bold** text", 60)
	if out == "" {
		t.Fatalf("expected non-empty output")
	}
	if strings.HasSuffix(out, "\n") {
		t.Fatalf("expected trailing newlines trimmed")
	}

	if got := RenderMarkdown("   ", 60); got != "" {
		t.Fatalf("expected empty output for blank input, got %q", got)
	}
}

func TestRenderTranscript(t *testing.T) {
	theme := DarkTheme()

	empty := chat.Session{ID: "s1", Title: chat.TitleUntitled}
	if out := RenderTranscript(empty, 80, false, theme); !strings.Contains(out, "Ask a question") {
		t.Fatalf("expected empty-session hint, got %q", out)
	}

	sess := chat.Session{
		ID:    "s1",
		Title: "what is 6*7?",
		Messages: []chat.Message{
			{ID: "m1", Role: chat.RoleUser, Content: "what is 6*7?"},
			{ID: "m2", Role: chat.RoleAssistant, Content: "The answer is **42**."},
		},
	}

	plain := RenderTranscript(sess, 80, true, theme)
	if !strings.Contains(plain, "what is 6*7?") {
		t.Fatalf("missing user message: %q", plain)
	}
	if !strings.Contains(plain, "The answer is **42**.") {
		t.Fatalf("plain mode should keep raw markdown: %q", plain)
	}

	rendered := RenderTranscript(sess, 80, false, theme)
	if !strings.Contains(rendered, "42") {
		t.Fatalf("missing assistant answer: %q", rendered)
	}
}

func TestSessionLabel(t *testing.T) {
	long := chat.Session{Title: strings.Repeat("x", 40)}
	got := sessionLabel(long, 10)
	if len([]rune(got)) != 10 {
		t.Fatalf("expected truncation to 10 runes, got %d (%q)", len([]rune(got)), got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis, got %q", got)
	}

	unnamed := chat.Session{}
	if got := sessionLabel(unnamed, 20); got != chat.TitleUntitled {
		t.Fatalf("expected untitled fallback, got %q", got)
	}
}

func TestThemeByName(t *testing.T) {
	if ThemeByName("light").Text != LightTheme().Text {
		t.Fatalf("expected light theme")
	}
	if ThemeByName("anything").Text != DarkTheme().Text {
		t.Fatalf("expected dark fallback")
	}
}
