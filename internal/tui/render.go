package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"ragchat/internal/chat"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderTranscript 将一个会话渲染为聊天面板内容。
// plain 为 true 时跳过 markdown 渲染（流式期间逐 token 重绘，
// 完整渲染开销过大）。
//
// RenderTranscript renders a session for the chat panel. With plain
// set, assistant messages are shown as raw text instead of rendered
// markdown; the panel redraws on every token while an answer streams,
// so the cheap path is used until the turn finishes.
func RenderTranscript(sess chat.Session, width int, plain bool, theme Theme) string {
	if len(sess.Messages) == 0 {
		return theme.MutedStyle.Render("  Ask a question about your documents to get started.")
	}

	var b strings.Builder
	for i, msg := range sess.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch msg.Role {
		case chat.RoleUser:
			b.WriteString(theme.UserStyle.Render("you ›") + " " + msg.Content)
		case chat.RoleAssistant:
			if plain {
				b.WriteString(msg.Content)
			} else {
				b.WriteString(RenderMarkdown(msg.Content, width))
			}
		default:
			b.WriteString(msg.Content)
		}
	}
	return b.String()
}
