package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles. The backend only ever sees the question text; roles exist
// for the transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TitleUntitled 是会话标题的哨兵值，首条用户消息到达后被派生标题替换一次。
// TitleUntitled is the sentinel session title, replaced exactly once when the
// first user message arrives.
const TitleUntitled = "untitled"

// titleMaxRunes 限制派生标题长度 / derived title length cap
const titleMaxRunes = 40

// Message 是会话中的一条消息。助手消息的 Content 在回合内单调增长。
// Message is one transcript entry. Assistant content grows monotonically
// during a turn and is only replaced wholesale on turn failure.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage 创建带新 ID 和当前时间戳的消息 / creates a message with a fresh
// id and timestamp.
func NewMessage(role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Session 是一段有标题的有序对话，持久化与选择的基本单位。
// Session is a titled ordered transcript, the unit of persistence and
// selection. Owned exclusively by the store.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeriveTitle 从首条用户消息截取标题 / derives a session title from the first
// user message text.
func DeriveTitle(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return TitleUntitled
	}
	runes := []rune(t)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes]) + "..."
	}
	return t
}
