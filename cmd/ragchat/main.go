package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ragchat/internal/client"
	"ragchat/internal/config"
	"ragchat/internal/repl"
	"ragchat/internal/store"
	"ragchat/internal/tokens"
	"ragchat/internal/tui"
	"ragchat/internal/turn"
)

func main() {
	var (
		configPath string
		plain      bool
		dataset    string
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON/JSONC")
	flag.BoolVar(&plain, "plain", false, "Use the line-based REPL instead of the TUI")
	flag.StringVar(&dataset, "dataset", "", "Dataset override for this run")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if dataset == "" {
		dataset = cfg.Backend.Dataset
	}

	if err := os.MkdirAll(cfg.Storage.BaseDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "init data dir failed: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogPath())
	defer logger.Sync()

	persister, err := store.NewSQLitePersister(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open session db failed: %v\n", err)
		os.Exit(1)
	}

	st := store.New(persister, logger)
	st.Bootstrap()
	defer st.Close()

	backend := client.New(cfg.Backend, logger)
	ctrl := turn.New(backend, st, logger)

	// 启动时探测后端，结果只进状态栏，不阻止启动
	// Probe the backend at startup; the result goes to the status line and
	// never blocks launch
	if err := backend.Health(context.Background()); err != nil {
		st.SetStatus("backend unreachable at " + cfg.Backend.BaseURL)
		logger.Warn("health check failed", zap.Error(err))
	}

	if plain {
		runREPL(cfg, st, ctrl, backend, dataset)
		return
	}

	if err := tui.Run(st, ctrl, tokens.Default(), dataset, cfg.UI.Theme); err != nil {
		fmt.Fprintf(os.Stderr, "tui failed: %v\n", err)
		os.Exit(1)
	}
}

func runREPL(cfg config.Config, st *store.Store, ctrl *turn.Controller, backend *client.Client, dataset string) {
	in, err := repl.NewLineInput(cfg.HistoryPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "line editor unavailable, fallback to basic input: %v\n", err)
	}
	defer in.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loop := repl.New(st, ctrl, backend, dataset, in, os.Stdout)
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "repl failed: %v\n", err)
		os.Exit(1)
	}
}

// newLogger 写入数据目录下的日志文件；失败则静默丢弃日志，
// 终端输出留给聊天内容。
// newLogger writes to the log file under the data dir. On failure logging is
// dropped entirely; the terminal belongs to the conversation.
func newLogger(path string) *zap.Logger {
	lc := zap.NewProductionConfig()
	lc.OutputPaths = []string{path}
	lc.ErrorOutputPaths = []string{path}
	logger, err := lc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
