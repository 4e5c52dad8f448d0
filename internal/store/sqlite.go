package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"ragchat/internal/chat"
)

// 持久化键 / record keys in the state table.
const (
	keySessions = "sessions"
	keyActive   = "active_session"
)

// SQLitePersister 将会话数组序列化为 state 表中的单条键控记录。
// SQLitePersister stores the serialized session array as one keyed record in
// a SQLite state table, with timestamps in their round-trippable RFC 3339
// textual form (time.Time JSON encoding).
type SQLitePersister struct {
	db   *sql.DB
	path string
}

// NewSQLitePersister 创建并初始化 SQLite 数据库（WAL 模式）。
// NewSQLitePersister creates and initializes the SQLite database in WAL mode.
func NewSQLitePersister(dbPath string) (*SQLitePersister, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLitePersister{db: db, path: dbPath}, nil
}

// Save 原子地写入会话数组与活动指针 / writes the session array and the active
// pointer in one transaction.
func (p *SQLitePersister) Save(sessions []chat.Session, activeID string) error {
	if sessions == nil {
		sessions = []chat.Session{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert := `
	INSERT INTO state (key, value, updated_at) VALUES (?, ?, datetime('now'))
	ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`
	if _, err := tx.Exec(upsert, keySessions, string(data)); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	if _, err := tx.Exec(upsert, keyActive, activeID); err != nil {
		return fmt.Errorf("save active pointer: %w", err)
	}
	return tx.Commit()
}

// Load 读回会话数组，时间戳重建为真实 time.Time 实例。
// Load reads the session array back; timestamps come back as true instants
// via time.Time JSON decoding, never as strings.
func (p *SQLitePersister) Load() ([]chat.Session, string, error) {
	var raw string
	err := p.db.QueryRow(`SELECT value FROM state WHERE key=?`, keySessions).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load sessions: %w", err)
	}

	var sessions []chat.Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, "", fmt.Errorf("parse sessions record: %w", err)
	}

	var activeID string
	err = p.db.QueryRow(`SELECT value FROM state WHERE key=?`, keyActive).Scan(&activeID)
	if err != nil && err != sql.ErrNoRows {
		return nil, "", fmt.Errorf("load active pointer: %w", err)
	}
	return sessions, activeID, nil
}

// Close 关闭数据库连接 / Close the database connection
func (p *SQLitePersister) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
