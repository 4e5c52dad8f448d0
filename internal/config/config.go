package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// BackendConfig 描述问答后端的连接方式。
// BackendConfig describes how to reach the question-answering backend.
type BackendConfig struct {
	BaseURL string `json:"base_url"`
	// Dataset 是默认的数据集过滤器 / default dataset filter sent with each query.
	Dataset string `json:"dataset"`
	TopK    int    `json:"top_k"`
	// StreamFormat 选择流式线格式："lines"（按行 JSON 信封）或 "raw"（原样 token）。
	// StreamFormat selects the wire framing: "lines" (NDJSON envelopes) or
	// "raw" (backend-segmented tokens).
	StreamFormat string `json:"stream_format"`
	TimeoutMS    int    `json:"timeout_ms"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir"`
}

type UIConfig struct {
	Theme string `json:"theme"`
}

type Config struct {
	Backend BackendConfig `json:"backend"`
	Storage StorageConfig `json:"storage"`
	UI      UIConfig      `json:"ui"`
}

// DBPath 返回 SQLite 数据库路径 / returns the SQLite database path.
func (c Config) DBPath() string {
	return filepath.Join(c.Storage.BaseDir, "sessions.db")
}

// LogPath 返回日志文件路径 / returns the log file path.
func (c Config) LogPath() string {
	return filepath.Join(c.Storage.BaseDir, "ragchat.log")
}

// HistoryPath 返回 REPL 历史文件路径 / returns the REPL history file path.
func (c Config) HistoryPath() string {
	return filepath.Join(c.Storage.BaseDir, "repl.history")
}

type fileBackendConfig struct {
	BaseURL      *string `json:"base_url"`
	Dataset      *string `json:"dataset"`
	TopK         *int    `json:"top_k"`
	StreamFormat *string `json:"stream_format"`
	TimeoutMS    *int    `json:"timeout_ms"`
}

type fileStorageConfig struct {
	BaseDir *string `json:"base_dir"`
}

type fileUIConfig struct {
	Theme *string `json:"theme"`
}

type fileConfig struct {
	Backend *fileBackendConfig `json:"backend"`
	Storage *fileStorageConfig `json:"storage"`
	UI      *fileUIConfig      `json:"ui"`
}

func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:      "http://localhost:8000",
			Dataset:      "default",
			TopK:         6,
			StreamFormat: "lines",
			TimeoutMS:    30000,
		},
		Storage: StorageConfig{
			BaseDir: "~/.ragchat",
		},
		UI: UIConfig{
			Theme: "dark",
		},
	}
}

// Load 读取配置：默认值 ← 全局 ~/.ragchat/config.json ← 显式路径/环境变量路径 ← 环境变量覆盖。
// Load builds the config: defaults, then the global file, then an explicit or
// env-specified file, then env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		if err := mergeFromFile(&cfg, filepath.Join(home, ".ragchat", "config.json")); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("RAGCHAT_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(stripJSONComments(data), &fc); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}

	if fc.Backend != nil {
		if fc.Backend.BaseURL != nil {
			cfg.Backend.BaseURL = *fc.Backend.BaseURL
		}
		if fc.Backend.Dataset != nil {
			cfg.Backend.Dataset = *fc.Backend.Dataset
		}
		if fc.Backend.TopK != nil {
			cfg.Backend.TopK = *fc.Backend.TopK
		}
		if fc.Backend.StreamFormat != nil {
			cfg.Backend.StreamFormat = *fc.Backend.StreamFormat
		}
		if fc.Backend.TimeoutMS != nil {
			cfg.Backend.TimeoutMS = *fc.Backend.TimeoutMS
		}
	}
	if fc.Storage != nil && fc.Storage.BaseDir != nil {
		cfg.Storage.BaseDir = *fc.Storage.BaseDir
	}
	if fc.UI != nil && fc.UI.Theme != nil {
		cfg.UI.Theme = *fc.UI.Theme
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("RAGCHAT_BASE_URL")); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("RAGCHAT_DATASET")); v != "" {
		cfg.Backend.Dataset = v
	}
	if v := strings.TrimSpace(os.Getenv("RAGCHAT_STREAM_FORMAT")); v != "" {
		cfg.Backend.StreamFormat = v
	}
	if v := strings.TrimSpace(os.Getenv("RAGCHAT_TOP_K")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid RAGCHAT_TOP_K: %q", v)
		}
		cfg.Backend.TopK = n
	}
	if v := strings.TrimSpace(os.Getenv("RAGCHAT_DATA_DIR")); v != "" {
		cfg.Storage.BaseDir = v
	}
	return nil
}

func normalize(cfg *Config) error {
	def := Default()
	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/")
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = def.Backend.BaseURL
	}
	if strings.TrimSpace(cfg.Backend.Dataset) == "" {
		cfg.Backend.Dataset = def.Backend.Dataset
	}
	if cfg.Backend.TopK <= 0 {
		cfg.Backend.TopK = def.Backend.TopK
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend.StreamFormat)) {
	case "raw":
		cfg.Backend.StreamFormat = "raw"
	default:
		cfg.Backend.StreamFormat = "lines"
	}
	if cfg.Backend.TimeoutMS <= 0 {
		cfg.Backend.TimeoutMS = def.Backend.TimeoutMS
	}

	baseDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("resolve storage dir: %w", err)
	}
	if baseDir == "" {
		baseDir, err = expandPath(def.Storage.BaseDir)
		if err != nil {
			return fmt.Errorf("resolve storage dir: %w", err)
		}
	}
	cfg.Storage.BaseDir = baseDir

	if cfg.UI.Theme != "light" {
		cfg.UI.Theme = "dark"
	}
	return nil
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

// stripJSONComments 去掉 // 与 /* */ 注释，容许 JSONC 风格的配置文件。
// stripJSONComments removes // and /* */ comments so JSONC-style config files
// parse cleanly. String contents are preserved.
func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}
	return out.Bytes()
}
