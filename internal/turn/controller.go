package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"ragchat/internal/chat"
	"ragchat/internal/client"
	"ragchat/internal/store"
)

var (
	// ErrEmptyQuestion 在问题为空白时返回 / returned for blank questions.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrTurnInFlight 同一会话的回合必须串行 / turns on one session must be
	// serialized; a second RunTurn before the first resolves is rejected.
	ErrTurnInFlight = errors.New("a turn is already in flight for this session")
)

// TokenFunc 在每个 token 应用到转写后调用，保持“实时打字”效果。
// TokenFunc fires after each token is applied to the transcript, one call per
// token in arrival order.
type TokenFunc func(sessionID, messageID, token string)

// Result 是一个回合的标记结果 / Result is the tagged outcome of one turn.
// Err is nil for a clean stream end; on failure Content still holds whatever
// partial text made it into the transcript.
type Result struct {
	SessionID string
	MessageID string
	Content   string
	Err       error
}

// DoneFunc 在回合结束（成功或失败）时调用一次 / fires exactly once per turn.
type DoneFunc func(Result)

// Controller 驱动一问一答的回合：发请求、喂解码器输出、落盘转写变更。
// Controller drives one question/answer turn: issues the request, feeds
// decoder output into transcript mutations, and finalizes or fails the turn.
// It never touches the session collection directly; everything goes through
// the store's operations.
type Controller struct {
	client *client.Client
	store  *store.Store
	logger *zap.Logger

	mu      sync.Mutex
	busy    map[string]bool
	onToken TokenFunc
	onDone  DoneFunc
}

func New(c *client.Client, s *store.Store, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		client: c,
		store:  s,
		logger: logger,
		busy:   map[string]bool{},
	}
}

// SetTokenCallback registers the per-token progress callback.
func (c *Controller) SetTokenCallback(fn TokenFunc) {
	c.mu.Lock()
	c.onToken = fn
	c.mu.Unlock()
}

// SetDoneCallback registers the turn completion callback.
func (c *Controller) SetDoneCallback(fn DoneFunc) {
	c.mu.Lock()
	c.onDone = fn
	c.mu.Unlock()
}

// Busy reports whether a turn is in flight for the session.
func (c *Controller) Busy(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy[sessionID]
}

// RunTurn 执行一个回合。乐观地追加用户消息与空内容的占位助手消息，然后随
// token 到达增量拼接。变更按捕获的会话 id + 消息 id 定位，活动会话切换或会话
// 被删除都不会错投。
//
// RunTurn runs one turn. It optimistically appends the user message and an
// empty placeholder assistant message, then grows the placeholder as tokens
// arrive. Mutations are addressed by the captured session id + message id, so
// reordering or switching the active session mid-turn never misdirects them;
// deleting the session quietly swallows them.
//
// Failures end the turn and surface as the placeholder's content: before any
// token the content is replaced with an error string; after partial progress
// an error marker is appended so streamed text is never discarded. The error
// return covers preconditions only (blank question, overlapping turn).
func (c *Controller) RunTurn(ctx context.Context, question, datasetID, sessionID string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return ErrEmptyQuestion
	}
	if err := c.acquire(sessionID); err != nil {
		return err
	}
	defer c.release(sessionID)

	userMsg := chat.NewMessage(chat.RoleUser, question)
	placeholder := chat.NewMessage(chat.RoleAssistant, "")
	c.store.AppendMessages(sessionID, userMsg, placeholder)
	c.store.RenameIfUntitled(sessionID, question)

	stream, err := c.client.AskStream(ctx, client.QueryRequest{
		Question: question,
		Dataset:  datasetID,
		ChatID:   sessionID,
	})
	if err != nil {
		c.logger.Warn("query rejected", zap.String("session", sessionID), zap.Error(err))
		c.fail(sessionID, placeholder.ID, "", err)
		return nil
	}
	defer stream.Close()

	var content strings.Builder
	for {
		tok, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.logger.Warn("stream interrupted",
				zap.String("session", sessionID),
				zap.Int("partial_len", content.Len()),
				zap.Error(err))
			c.fail(sessionID, placeholder.ID, content.String(), err)
			return nil
		}
		content.WriteString(tok)
		c.store.MutateMessage(sessionID, placeholder.ID, func(m *chat.Message) {
			m.Content += tok
		})
		c.emitToken(sessionID, placeholder.ID, tok)
	}

	c.done(Result{SessionID: sessionID, MessageID: placeholder.ID, Content: content.String()})
	return nil
}

// fail 结束失败的回合：无部分内容则整体替换为错误文本，有则在其后追加标记。
// fail ends a failed turn. With no partial content the placeholder is replaced
// by the error text; with partial content a marker is appended after it.
func (c *Controller) fail(sessionID, messageID, partial string, cause error) {
	var text string
	if partial == "" {
		text = errorText(cause)
	} else {
		text = partial + "\n\n[answer interrupted: " + errorDetail(cause) + "]"
	}
	c.store.MutateMessage(sessionID, messageID, func(m *chat.Message) {
		m.Content = text
	})
	c.done(Result{SessionID: sessionID, MessageID: messageID, Content: partial, Err: cause})
}

func (c *Controller) done(res Result) {
	c.mu.Lock()
	fn := c.onDone
	c.mu.Unlock()
	if fn != nil {
		fn(res)
	}
}

func (c *Controller) emitToken(sessionID, messageID, tok string) {
	c.mu.Lock()
	fn := c.onToken
	c.mu.Unlock()
	if fn != nil {
		fn(sessionID, messageID, tok)
	}
}

func (c *Controller) acquire(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy[sessionID] {
		return ErrTurnInFlight
	}
	c.busy[sessionID] = true
	return nil
}

func (c *Controller) release(sessionID string) {
	c.mu.Lock()
	delete(c.busy, sessionID)
	c.mu.Unlock()
}

// errorText 生成作为助手消息内容的人类可读错误文本。
// errorText renders the human-readable error shown as the assistant message.
func errorText(err error) string {
	return "Error: " + errorDetail(err)
}

func errorDetail(err error) string {
	var statusErr *client.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("the server rejected the request (status %d)", statusErr.Code)
	}
	return err.Error()
}
