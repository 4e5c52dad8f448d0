package store

import (
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/chat"
)

// MaxSessions 是同时保留的会话上限 / cap on concurrently kept sessions.
const MaxSessions = 5

var (
	// ErrSessionLimit 在会话数已达上限时由 CreateSession 返回；存储状态不变。
	// ErrSessionLimit is returned by CreateSession at the cap; store state is
	// unchanged.
	ErrSessionLimit = errors.New("session limit reached")
)

// Persister 将完整会话集持久化为单条键控记录。
// Persister persists the full session set as a single keyed record.
type Persister interface {
	Save(sessions []chat.Session, activeID string) error
	Load() (sessions []chat.Session, activeID string, err error)
	Close() error
}

// Store 拥有会话集合与活动指针；所有不变量在这里集中维护。
// Store owns the session collection and the active pointer. Sessions are
// ordered newest-first; activeID is "" when no session exists (the sentinel,
// never a dangling id). All invariants are enforced here; the turn controller
// only mutates transcripts through these operations.
type Store struct {
	mu        sync.Mutex
	sessions  []chat.Session
	activeID  string
	status    string
	persister Persister
	logger    *zap.Logger
	onChange  func()
}

func New(p Persister, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{persister: p, logger: logger}
}

// SetChangeListener 注册 UI 通知回调，在每次可观察变更后调用。
// SetChangeListener registers a callback invoked after every observable
// change. The callback runs under the store lock and must not call back into
// the store.
func (s *Store) SetChangeListener(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Bootstrap 从持久化存储恢复状态；读取失败退回空集合；空集合时合成一个空会话。
// Bootstrap restores state from the persister. A load failure falls back to an
// empty set (logged, never fatal). With zero persisted sessions exactly one
// empty session is synthesized and made active.
func (s *Store) Bootstrap() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persister != nil {
		sessions, activeID, err := s.persister.Load()
		if err != nil {
			s.logger.Warn("load sessions failed, starting empty", zap.Error(err))
		} else {
			// 超限的持久化记录（手工编辑或新版本写入）截断到上限，保留最新的。
			// An oversized persisted record (hand-edited, or written by a
			// newer version) is truncated to the cap, keeping the newest.
			if len(sessions) > MaxSessions {
				s.logger.Warn("persisted record exceeds session cap, truncating",
					zap.Int("have", len(sessions)), zap.Int("cap", MaxSessions))
				sessions = sessions[:MaxSessions:MaxSessions]
			}
			s.sessions = sessions
			s.activeID = activeID
		}
	}

	// Repair a dangling active pointer from an older record.
	if s.activeID != "" && s.indexOfLocked(s.activeID) < 0 {
		s.activeID = ""
	}
	if len(s.sessions) > 0 && s.activeID == "" {
		s.activeID = s.sessions[0].ID
	}
	if len(s.sessions) == 0 {
		s.sessions = []chat.Session{newEmptySession()}
		s.activeID = s.sessions[0].ID
		s.persistLocked()
	}
	s.notifyLocked()
}

// CreateSession 在上限内于队首插入新空会话并设为活动；达到上限则不产生任何变更。
// CreateSession inserts a new empty session at the front and makes it active.
// At the cap it is a strict no-op and reports ErrSessionLimit.
func (s *Store) CreateSession() (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= MaxSessions {
		return chat.Session{}, ErrSessionLimit
	}
	sess := newEmptySession()
	s.sessions = append([]chat.Session{sess}, s.sessions...)
	s.activeID = sess.ID
	s.status = ""
	s.persistLocked()
	s.notifyLocked()
	return cloneSession(sess), nil
}

// DeleteSession 删除会话。若删除的是活动会话，活动指针移到新队首，或空哨兵。
// DeleteSession removes the session. When the active one is deleted the
// pointer moves to the new front session, or to the empty sentinel. No
// replacement session is auto-created.
func (s *Store) DeleteSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return false
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	if s.activeID == id {
		if len(s.sessions) > 0 {
			s.activeID = s.sessions[0].ID
		} else {
			s.activeID = ""
		}
	}
	s.persistLocked()
	s.notifyLocked()
	return true
}

// SelectSession 设置活动指针；id 不存在时为 no-op。
// SelectSession moves the active pointer; no-op for unknown ids.
func (s *Store) SelectSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfLocked(id) < 0 {
		return false
	}
	s.activeID = id
	s.notifyLocked()
	return true
}

// AppendMessages 在会话消息列表末尾插入；会话已被删除时静默忽略。
// AppendMessages appends to the session transcript. A turn may outlive a
// deletion, so a missing session is silently ignored.
func (s *Store) AppendMessages(sessionID string, messages ...chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(sessionID)
	if idx < 0 {
		return
	}
	s.sessions[idx].Messages = append(s.sessions[idx].Messages, messages...)
	s.sessions[idx].UpdatedAt = time.Now().UTC()
	s.persistLocked()
	s.notifyLocked()
}

// MutateMessage 按 id 定位消息并应用变更，返回是否找到。
// MutateMessage locates the message by session id + message id and applies the
// mutation. It reports whether the message was found; either id missing is a
// quiet not-found, matching a session deleted mid-turn.
func (s *Store) MutateMessage(sessionID, messageID string, mutate func(*chat.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(sessionID)
	if idx < 0 {
		return false
	}
	for i := range s.sessions[idx].Messages {
		if s.sessions[idx].Messages[i].ID != messageID {
			continue
		}
		mutate(&s.sessions[idx].Messages[i])
		s.sessions[idx].UpdatedAt = time.Now().UTC()
		s.persistLocked()
		s.notifyLocked()
		return true
	}
	return false
}

// RenameIfUntitled 在标题仍为哨兵时派生一次标题；之后不再自动派生。
// RenameIfUntitled derives the title once, only while it is still the
// sentinel. Later calls are no-ops so a title is never re-derived.
func (s *Store) RenameIfUntitled(sessionID, fromText string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(sessionID)
	if idx < 0 {
		return false
	}
	if s.sessions[idx].Title != chat.TitleUntitled {
		return false
	}
	title := chat.DeriveTitle(fromText)
	if title == chat.TitleUntitled {
		return false
	}
	s.sessions[idx].Title = title
	s.sessions[idx].UpdatedAt = time.Now().UTC()
	s.persistLocked()
	s.notifyLocked()
	return true
}

// ActiveID returns the active session id, "" when none exists.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Active returns a copy of the active session.
func (s *Store) Active() (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(s.activeID)
	if idx < 0 {
		return chat.Session{}, false
	}
	return cloneSession(s.sessions[idx]), true
}

// Session returns a copy of the session with the given id.
func (s *Store) Session(id string) (chat.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		return chat.Session{}, false
	}
	return cloneSession(s.sessions[idx]), true
}

// Sessions 返回会话集合的副本，最新在前 / returns a newest-first copy of the
// session set. Callers never see the store's own slices.
func (s *Store) Sessions() []chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(sess))
	}
	return out
}

// Count returns the number of sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SetStatus 设置瞬态状态文本（不持久化）/ sets transient status text shown in
// the UI; never persisted.
func (s *Store) SetStatus(text string) {
	s.mu.Lock()
	s.status = strings.TrimSpace(text)
	s.notifyLocked()
	s.mu.Unlock()
}

// Status returns the transient status text.
func (s *Store) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Close flushes nothing further and closes the persister.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persister == nil {
		return nil
	}
	return s.persister.Close()
}

// persistLocked 写穿持久层；失败只记日志，内存状态仍是权威。
// persistLocked writes through to the persister. Failures are logged and
// otherwise ignored; in-memory state stays authoritative for this process.
func (s *Store) persistLocked() {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(s.sessions, s.activeID); err != nil {
		s.logger.Warn("persist sessions failed", zap.Error(err))
	}
}

func (s *Store) notifyLocked() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *Store) indexOfLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func newEmptySession() chat.Session {
	now := time.Now().UTC()
	return chat.Session{
		ID:        chat.NewSessionID(),
		Title:     chat.TitleUntitled,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func cloneSession(sess chat.Session) chat.Session {
	out := sess
	out.Messages = append([]chat.Message(nil), sess.Messages...)
	return out
}
