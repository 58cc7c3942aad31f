package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"miaoda-term/internal/history"
	"miaoda-term/internal/server"
	"miaoda-term/pkg/config"
	"miaoda-term/pkg/logger"
)

func main() {
	os.Exit(run())
}

// run 返回进程退出码，保证 defer 的资源释放在退出前执行
func run() int {
	// 命令行参数，优先级高于配置文件和环境变量
	cfgFile := pflag.StringP("config", "c", "", "Config file")

	pflag.String("listen", "", "Serve terminals over websocket on this address (console mode when empty)")
	viper.BindPFlag("server.listen", pflag.Lookup("listen"))

	pflag.String("shell", "", "Shell executable (auto-detected when empty)")
	viper.BindPFlag("shell.path", pflag.Lookup("shell"))

	pflag.String("mode", config.ModeAuto, "Process transport: auto, pty or pipe")
	viper.BindPFlag("shell.mode", pflag.Lookup("mode"))

	pflag.String("dir", "", "Working directory of the shell")
	viper.BindPFlag("shell.dir", pflag.Lookup("dir"))

	pflag.String("history-backend", config.BackendSQLite, "History store: sqlite, local, minio or memory")
	viper.BindPFlag("history.backend", pflag.Lookup("history-backend"))

	pflag.String("log-level", "info", "Log level")
	viper.BindPFlag("log.level", pflag.Lookup("log-level"))

	pflag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadTermConfig(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}

	// 2. 日志 (stderr)
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return 1
	}
	defer log.Sync()

	// 3. 历史快照存储
	store, err := history.Open(cfg.History)
	if err != nil {
		log.Warn("history store unavailable, falling back to memory",
			zap.String("backend", cfg.History.Backend), zap.Error(err))
		store = history.NewMemoryStore()
	}
	defer store.Close()
	archive := history.NewArchive(store, cfg.History.MaxEntries)

	// 4. 运行
	if cfg.Server.Listen == "" {
		return runConsole(cfg, archive, log)
	}
	if err := runServer(cfg, archive, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		return 1
	}
	return 0
}

func runServer(cfg *config.TermConfig, archive *history.Archive, log *zap.Logger) error {
	srv := server.New(cfg, archive, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Session.KillGrace+5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
