package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

// LineInput 抽象行输入，便于在无 TTY 环境回退到基础实现。
// LineInput abstracts line input so non-TTY environments can fall back to a
// plain reader.
type LineInput interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// plainInput 无行编辑的兜底实现，提示符直接写到 out。
// plainInput is the editing-free fallback; prompts go straight to out.
type plainInput struct {
	reader *bufio.Reader
	out    io.Writer
}

func (p *plainInput) ReadLine(prompt string) (string, error) {
	if p.out != nil {
		fmt.Fprint(p.out, prompt)
	}
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *plainInput) Close() error { return nil }

type readlineInput struct {
	instance *readline.Instance
}

func newReadlineInput(historyPath string) (*readlineInput, error) {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	instance, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyPath,
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, err
	}
	return &readlineInput{instance: instance}, nil
}

func (r *readlineInput) ReadLine(prompt string) (string, error) {
	r.instance.SetPrompt(prompt)
	return r.instance.Readline()
}

func (r *readlineInput) Close() error {
	if r == nil || r.instance == nil {
		return nil
	}
	return r.instance.Close()
}

// NewLineInput 优先 readline，失败时回退基础输入并返回原因。
// NewLineInput prefers readline and falls back to plain stdin reads, returning
// the readline error for the caller to report alongside the working input.
func NewLineInput(historyPath string) (LineInput, error) {
	rl, err := newReadlineInput(historyPath)
	if err == nil {
		return rl, nil
	}
	return &plainInput{reader: bufio.NewReader(os.Stdin), out: os.Stdout}, err
}
