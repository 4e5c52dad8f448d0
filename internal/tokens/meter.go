package tokens

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"ragchat/internal/chat"
)

// Meter 估算转写文本的 token 数，用于界面底部的上下文信息。
// Meter estimates transcript token counts for the UI context footer, using
// tiktoken when available and a heuristic otherwise.
type Meter struct {
	encoder  *tiktoken.Tiktoken
	fallback bool
	mu       sync.RWMutex
}

var (
	defaultMeter     *Meter
	defaultMeterOnce sync.Once
)

// Default returns the process-wide meter.
func Default() *Meter {
	defaultMeterOnce.Do(func() {
		defaultMeter = NewMeter()
	})
	return defaultMeter
}

// NewMeter 创建计量器；tiktoken 初始化失败时回退到启发式。
// NewMeter creates a meter; if tiktoken cannot initialize (offline
// environments without the BPE cache) it falls back to the heuristic.
func NewMeter() *Meter {
	m := &Meter{}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		m.fallback = true
		return m
	}
	m.encoder = enc
	return m
}

// CountSession 估算整个会话转写的 token 数。
// CountSession estimates the token count of a whole session transcript.
func (m *Meter) CountSession(sess chat.Session) int {
	total := 0
	for _, msg := range sess.Messages {
		// ~4 tokens of per-message structure overhead.
		total += 4 + m.CountText(msg.Content) + m.CountText(msg.Role)
	}
	return total
}

// CountText 估算单段文本的 token 数 / estimates one text's token count.
func (m *Meter) CountText(text string) int {
	if text == "" {
		return 0
	}
	if m.fallback {
		return heuristicTokenCount(text)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.encoder.Encode(text, nil, nil))
}

// IsPrecise 返回是否使用精确计数 / reports whether tiktoken is in use.
func (m *Meter) IsPrecise() bool {
	return !m.fallback
}

// heuristicTokenCount 启发式估算：CJK 约 1.5 token/字，ASCII 约 4 字符/token。
// heuristicTokenCount estimates ~1.5 tokens per CJK character and ~4 ASCII
// characters per token.
func heuristicTokenCount(text string) int {
	cjkCount := 0
	asciiCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		} else {
			asciiCount++
		}
	}
	estimate := int(float64(cjkCount)*1.5 + float64(asciiCount)*0.25)
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF) ||
		(r >= 0x3040 && r <= 0x30FF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}
