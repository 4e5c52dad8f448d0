package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Format 选择后端的流式线格式 / Format selects the backend wire framing.
type Format int

const (
	// FormatLines 按行分隔的 JSON 信封，载荷字段为 content。
	// FormatLines is newline-delimited JSON envelopes carrying a content field.
	FormatLines Format = iota
	// FormatRaw 后端已按 token 切分，每个读取块原样作为一个 token。
	// FormatRaw passes each read chunk through as one token; the backend does
	// the segmentation.
	FormatRaw
)

// ParseFormat maps a config string to a Format. Unknown values fall back to
// FormatLines, the current backend protocol.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "raw") {
		return FormatRaw
	}
	return FormatLines
}

// envelope 是一行 JSON 信封 / envelope is one NDJSON line.
type envelope struct {
	Content string `json:"content"`
}

// Decoder 将网络读取循环交付的字节块增量解码为离散 token 序列。
// Decoder incrementally turns the byte chunks of an open response body into
// discrete text tokens. Chunk boundaries may fall mid-line or mid-rune; the
// undecodable tail is carried into the next read, never emitted early.
//
// Next returns io.EOF on clean stream end. A Decoder is not safe for
// concurrent use.
type Decoder struct {
	r       io.Reader
	format  Format
	scratch []byte
	// rest 保存未完成的行（FormatLines）或未完成的多字节字符（FormatRaw）。
	// rest holds the incomplete trailing line (FormatLines) or the incomplete
	// trailing multi-byte sequence (FormatRaw).
	rest    []byte
	pending []string
	eof     bool
}

// NewDecoder wraps an open response body.
func NewDecoder(r io.Reader, format Format) *Decoder {
	return &Decoder{r: r, format: format, scratch: make([]byte, 4096)}
}

// Next 返回下一个 token；流正常结束时返回 io.EOF。
// Next returns the next token, or io.EOF once the read loop reports a normal
// end. Any other error is a mid-stream interruption.
func (d *Decoder) Next() (string, error) {
	for {
		if len(d.pending) > 0 {
			tok := d.pending[0]
			d.pending = d.pending[1:]
			return tok, nil
		}
		if d.eof {
			if tok, ok := d.drainRest(); ok {
				return tok, nil
			}
			return "", io.EOF
		}

		n, err := d.r.Read(d.scratch)
		if n > 0 {
			d.consume(d.scratch[:n])
		}
		if err == io.EOF {
			d.eof = true
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read stream: %w", err)
		}
	}
}

// consume 解码一个原始字节块，可能产出零个或多个 token。
// consume decodes one raw chunk, producing zero or more pending tokens.
func (d *Decoder) consume(chunk []byte) {
	switch d.format {
	case FormatRaw:
		buf := append(d.rest, chunk...)
		keep := incompleteTailLen(buf)
		complete := buf[:len(buf)-keep]
		d.rest = append([]byte(nil), buf[len(buf)-keep:]...)
		if tok := strings.TrimSpace(string(complete)); tok != "" {
			d.pending = append(d.pending, tok)
		}
	default:
		buf := append(d.rest, chunk...)
		for {
			idx := bytes.IndexByte(buf, '\n')
			if idx < 0 {
				break
			}
			if tok, ok := tokenFromLine(string(buf[:idx])); ok {
				d.pending = append(d.pending, tok)
			}
			buf = buf[idx+1:]
		}
		d.rest = append([]byte(nil), buf...)
	}
}

// drainRest 在流结束时冲刷残留缓冲 / flushes whatever the buffer still holds
// once the stream has ended.
func (d *Decoder) drainRest() (string, bool) {
	if len(d.rest) == 0 {
		return "", false
	}
	tail := string(d.rest)
	d.rest = nil
	switch d.format {
	case FormatRaw:
		if tok := strings.TrimSpace(tail); tok != "" {
			return tok, true
		}
		return "", false
	default:
		return tokenFromLine(tail)
	}
}

// tokenFromLine 解析一行：JSON 信封取 content 字段；解析失败则整行降级为纯文本。
// tokenFromLine parses one terminated line. A JSON envelope yields its content
// field; an unparseable non-empty line falls back to its trimmed text so no
// payload is ever dropped.
func tokenFromLine(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}
	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return trimmed, true
	}
	if env.Content == "" {
		// Valid envelope without payload (keepalive, metadata): nothing to emit.
		return "", false
	}
	return env.Content, true
}

// incompleteTailLen 返回末尾未完成 UTF-8 序列的字节数。
// incompleteTailLen reports how many trailing bytes form an incomplete UTF-8
// sequence that must wait for the next chunk.
func incompleteTailLen(b []byte) int {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if !utf8.RuneStart(c) {
			continue
		}
		if c < utf8.RuneSelf {
			return 0
		}
		var want int
		switch {
		case c&0xE0 == 0xC0:
			want = 2
		case c&0xF0 == 0xE0:
			want = 3
		case c&0xF8 == 0xF0:
			want = 4
		default:
			// Invalid lead byte; let it pass through as-is.
			return 0
		}
		if i < want {
			return i
		}
		return 0
	}
	return 0
}
