package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RAGCHAT_CONFIG_PATH", "")
	t.Setenv("RAGCHAT_BASE_URL", "")
	t.Setenv("RAGCHAT_DATASET", "")
	t.Setenv("RAGCHAT_TOP_K", "")
	t.Setenv("RAGCHAT_STREAM_FORMAT", "")
	t.Setenv("RAGCHAT_DATA_DIR", "")
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Fatalf("BaseURL=%q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.TopK != 6 {
		t.Fatalf("TopK=%d, want 6", cfg.Backend.TopK)
	}
	if cfg.Backend.StreamFormat != "lines" {
		t.Fatalf("StreamFormat=%q, want lines", cfg.Backend.StreamFormat)
	}
	if cfg.Backend.Dataset != "default" {
		t.Fatalf("Dataset=%q, want default", cfg.Backend.Dataset)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	t.Setenv("RAGCHAT_CONFIG_PATH", "")
	t.Setenv("RAGCHAT_BASE_URL", "")
	t.Setenv("RAGCHAT_DATASET", "")
	t.Setenv("RAGCHAT_TOP_K", "")
	t.Setenv("RAGCHAT_STREAM_FORMAT", "")
	t.Setenv("RAGCHAT_DATA_DIR", "")
	t.Setenv("HOME", t.TempDir())

	path := writeConfigFile(t, `{
		// comments are allowed
		"backend": {
			"base_url": "http://qa.internal:9000/",
			"dataset": "manuals",
			"top_k": 3,
			"stream_format": "raw"
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://qa.internal:9000" {
		t.Fatalf("BaseURL=%q, trailing slash should be trimmed", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Dataset != "manuals" {
		t.Fatalf("Dataset=%q", cfg.Backend.Dataset)
	}
	if cfg.Backend.TopK != 3 {
		t.Fatalf("TopK=%d", cfg.Backend.TopK)
	}
	if cfg.Backend.StreamFormat != "raw" {
		t.Fatalf("StreamFormat=%q", cfg.Backend.StreamFormat)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfigFile(t, `{"backend": {"base_url": "http://from-file:8000"}}`)
	t.Setenv("RAGCHAT_CONFIG_PATH", path)
	t.Setenv("RAGCHAT_BASE_URL", "http://from-env:8000")
	t.Setenv("RAGCHAT_DATASET", "papers")
	t.Setenv("RAGCHAT_TOP_K", "9")
	t.Setenv("RAGCHAT_STREAM_FORMAT", "")
	t.Setenv("RAGCHAT_DATA_DIR", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://from-env:8000" {
		t.Fatalf("BaseURL=%q, env should win over file", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Dataset != "papers" {
		t.Fatalf("Dataset=%q", cfg.Backend.Dataset)
	}
	if cfg.Backend.TopK != 9 {
		t.Fatalf("TopK=%d", cfg.Backend.TopK)
	}
}

func TestLoadInvalidTopKEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RAGCHAT_CONFIG_PATH", "")
	t.Setenv("RAGCHAT_TOP_K", "zero")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for invalid RAGCHAT_TOP_K")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Config{Storage: StorageConfig{BaseDir: "/data/ragchat"}}
	if got := cfg.DBPath(); got != filepath.Join("/data/ragchat", "sessions.db") {
		t.Fatalf("DBPath=%q", got)
	}
	if !strings.HasPrefix(cfg.LogPath(), "/data/ragchat") {
		t.Fatalf("LogPath=%q", cfg.LogPath())
	}
	if !strings.HasPrefix(cfg.HistoryPath(), "/data/ragchat") {
		t.Fatalf("HistoryPath=%q", cfg.HistoryPath())
	}
}

func TestStripJSONComments(t *testing.T) {
	in := `{
		// line comment
		"a": "keep // this",
		/* block
		   comment */
		"b": 1
	}`
	out := string(stripJSONComments([]byte(in)))
	if strings.Contains(out, "line comment") || strings.Contains(out, "block") {
		t.Fatalf("comments not stripped: %s", out)
	}
	if !strings.Contains(out, "keep // this") {
		t.Fatalf("string contents must be preserved: %s", out)
	}
}
