package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"ragchat/internal/client"
	"ragchat/internal/store"
	"ragchat/internal/tokens"
	"ragchat/internal/turn"
)

// ANSI colors for the prompt and transcript markers.
const (
	ansiReset  = "\x1b[0m"
	ansiDim    = "\x1b[90m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
	ansiBold   = "\x1b[1m"
)

var replCommands = []string{
	"/new                create a session (up to 5)",
	"/sessions           list sessions",
	"/select <n|id>      switch the active session",
	"/delete <n|id>      delete a session",
	"/dataset <name>     switch the dataset filter",
	"/upload <path>      upload a document to the dataset",
	"/ask-once <q>       ask without streaming",
	"/health             check backend reachability",
	"/help               show commands",
	"/quit               exit",
}

// Loop 持有 REPL 状态：存储、回合控制器、客户端与当前数据集。
// Loop holds REPL state: store, turn controller, backend client, and the
// per-process dataset override.
type Loop struct {
	store   *store.Store
	ctrl    *turn.Controller
	client  *client.Client
	meter   *tokens.Meter
	dataset string
	in      LineInput
	out     io.Writer
}

func New(s *store.Store, ctrl *turn.Controller, c *client.Client, dataset string, in LineInput, out io.Writer) *Loop {
	return &Loop{
		store:   s,
		ctrl:    ctrl,
		client:  c,
		meter:   tokens.Default(),
		dataset: dataset,
		in:      in,
		out:     out,
	}
}

// Run 运行 REPL：两行提示符，读取输入，流式打印回答。
// Run runs the REPL: a two-line prompt, read input, stream the answer.
func (l *Loop) Run(ctx context.Context) error {
	l.ctrl.SetTokenCallback(func(sessionID, messageID, tok string) {
		fmt.Fprint(l.out, tok)
	})
	l.ctrl.SetDoneCallback(func(res turn.Result) {
		fmt.Fprintln(l.out)
	})

	fmt.Fprintf(l.out, "%sragchat%s — ask your documents. /help for commands.\n", ansiBold, ansiReset)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := l.in.ReadLine(l.prompt())
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if l.dispatch(ctx, strings.TrimSpace(line)) {
			return nil
		}
	}
}

// prompt 第一行显示会话与上下文信息，第二行是输入提示。
// prompt renders session and context info on line one, the input marker on
// line two.
func (l *Loop) prompt() string {
	count := l.store.Count()
	title := "(no session)"
	estimate := 0
	if active, ok := l.store.Active(); ok {
		title = active.Title
		estimate = l.meter.CountSession(active)
	}
	status := ""
	if s := l.store.Status(); s != "" {
		status = " · " + s
	}
	return fmt.Sprintf("%s%s · %d/%d sessions · dataset %s · ~%d tokens%s%s\n%s>%s ",
		ansiDim, title, count, store.MaxSessions, l.dataset, estimate, status, ansiReset,
		ansiGreen, ansiReset)
}

// dispatch 处理一行输入，返回是否退出 / handles one input line; reports quit.
func (l *Loop) dispatch(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		l.ask(ctx, line)
		return false
	}

	cmd, rest := splitCommand(line)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(l.out, "commands:")
		for _, c := range replCommands {
			fmt.Fprintf(l.out, "  %s\n", c)
		}
	case "/new":
		if _, err := l.store.CreateSession(); err != nil {
			if errors.Is(err, store.ErrSessionLimit) {
				l.warnf("session limit reached (%d); delete one first", store.MaxSessions)
			} else {
				l.warnf("create session: %v", err)
			}
			return false
		}
		fmt.Fprintln(l.out, "new session created")
	case "/sessions":
		l.printSessions()
	case "/select":
		id, ok := l.resolveSession(rest)
		if !ok {
			l.warnf("no such session: %s", rest)
			return false
		}
		l.store.SelectSession(id)
	case "/delete":
		id, ok := l.resolveSession(rest)
		if !ok {
			l.warnf("no such session: %s", rest)
			return false
		}
		l.store.DeleteSession(id)
		fmt.Fprintln(l.out, "session deleted")
	case "/dataset":
		if rest == "" {
			fmt.Fprintf(l.out, "dataset: %s\n", l.dataset)
			return false
		}
		l.dataset = rest
		fmt.Fprintf(l.out, "dataset set to %s\n", l.dataset)
	case "/upload":
		if rest == "" {
			l.warnf("usage: /upload <path>")
			return false
		}
		fileID, err := l.client.Upload(ctx, rest, l.dataset)
		if err != nil {
			l.warnf("upload failed: %v", err)
			return false
		}
		l.store.SetStatus("uploaded " + rest + " (id " + fileID + ")")
		fmt.Fprintf(l.out, "uploaded, file id %s\n", fileID)
	case "/ask-once":
		if rest == "" {
			l.warnf("usage: /ask-once <question>")
			return false
		}
		answer, err := l.client.AskOnce(ctx, client.QueryRequest{
			Question: rest,
			Dataset:  l.dataset,
			ChatID:   l.store.ActiveID(),
		})
		if err != nil {
			l.warnf("ask failed: %v", err)
			return false
		}
		fmt.Fprintln(l.out, answer)
	case "/health":
		if err := l.client.Health(ctx); err != nil {
			l.warnf("backend unreachable: %v", err)
		} else {
			fmt.Fprintln(l.out, "backend ok")
		}
	default:
		l.warnf("unknown command %s, /help for commands", cmd)
	}
	return false
}

// ask 在活动会话上执行一个回合 / runs one turn on the active session.
func (l *Loop) ask(ctx context.Context, question string) {
	sessionID := l.store.ActiveID()
	if sessionID == "" {
		l.warnf("no active session, /new to create one")
		return
	}
	fmt.Fprintf(l.out, "%s[answer]%s ", ansiCyan, ansiReset)
	err := l.ctrl.RunTurn(ctx, question, l.dataset, sessionID)
	switch {
	case errors.Is(err, turn.ErrTurnInFlight):
		fmt.Fprintln(l.out)
		l.warnf("still answering the previous question")
	case errors.Is(err, turn.ErrEmptyQuestion):
		fmt.Fprintln(l.out)
	case err != nil:
		fmt.Fprintln(l.out)
		l.warnf("turn failed: %v", err)
	}
}

func (l *Loop) printSessions() {
	sessions := l.store.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(l.out, "no sessions")
		return
	}
	activeID := l.store.ActiveID()
	for i, sess := range sessions {
		marker := " "
		if sess.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(l.out, "%s %d. %s  %s(%d messages, %s)%s\n",
			marker, i+1, sess.Title,
			ansiDim, len(sess.Messages), sess.UpdatedAt.Local().Format("01-02 15:04"), ansiReset)
	}
}

// resolveSession 将 1 基序号或完整 id 解析为会话 id。
// resolveSession resolves a 1-based index or a full id to a session id.
func (l *Loop) resolveSession(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", false
	}
	sessions := l.store.Sessions()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(sessions) {
			return "", false
		}
		return sessions[n-1].ID, true
	}
	for _, sess := range sessions {
		if sess.ID == arg {
			return sess.ID, true
		}
	}
	return "", false
}

func (l *Loop) warnf(format string, args ...any) {
	fmt.Fprintf(l.out, ansiYellow+format+ansiReset+"\n", args...)
}

func splitCommand(line string) (cmd, rest string) {
	parts := strings.SplitN(line, " ", 2)
	cmd = strings.ToLower(strings.TrimSpace(parts[0]))
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return cmd, rest
}
