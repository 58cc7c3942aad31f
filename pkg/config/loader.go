package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "MIAODA_TERM"

// LoadTermConfig 加载配置
// 使用全局 Viper 实例，main.go 里通过 pflag 绑定的命令行参数优先级最高
func LoadTermConfig(cfgFile string) (*TermConfig, error) {
	return LoadFrom(viper.GetViper(), cfgFile)
}

// LoadFrom 在指定的 Viper 实例上加载配置 (测试用独立实例)
func LoadFrom(v *viper.Viper, cfgFile string) (*TermConfig, error) {
	// 1. 兜底默认值
	def := Default()
	v.SetDefault("server.request_timeout", def.Server.RequestTimeout.String())
	v.SetDefault("server.token", "")
	v.SetDefault("server.allow_remote", false)
	v.SetDefault("server.max_sessions", def.Server.MaxSessions)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("shell.mode", def.Shell.Mode)
	v.SetDefault("shell.cols", def.Shell.Cols)
	v.SetDefault("shell.rows", def.Shell.Rows)

	v.SetDefault("session.prompt", def.Session.Prompt)
	v.SetDefault("session.line_ending", def.Session.LineEnding)
	v.SetDefault("session.history_size", def.Session.HistorySize)
	v.SetDefault("session.kill_grace", def.Session.KillGrace.String())
	v.SetDefault("session.auto_restart", false)
	v.SetDefault("session.close_on_exit", def.Session.CloseOnExit)
	v.SetDefault("session.max_transcript", def.Session.MaxTranscript)

	v.SetDefault("history.backend", def.History.Backend)
	v.SetDefault("history.db_path", def.History.DBPath)
	v.SetDefault("history.dir", def.History.Dir)
	v.SetDefault("history.max_entries", def.History.MaxEntries)
	v.SetDefault("history.minio.endpoint", def.History.Minio.Endpoint)
	v.SetDefault("history.minio.ak", def.History.Minio.AK)
	v.SetDefault("history.minio.sk", def.History.Minio.SK)
	v.SetDefault("history.minio.bucket", def.History.Minio.Bucket)

	v.SetDefault("log.level", def.Log.Level)

	// 2. 绑定环境变量 MIAODA_TERM_SHELL_MODE=pipe
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. 读取配置文件 (如果有)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file failed: %w", err)
			}
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("miaoda-term")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read default config failed: %w", err)
			}
		}
	}

	var c TermConfig
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate 校验枚举类字段，数值字段非法时回落到默认值
func (c *TermConfig) Validate() error {
	switch c.Shell.Mode {
	case ModeAuto, ModePTY, ModePipe:
	case "":
		c.Shell.Mode = ModeAuto
	default:
		return fmt.Errorf("shell.mode must be auto, pty or pipe, got %q", c.Shell.Mode)
	}

	switch c.History.Backend {
	case BackendSQLite, BackendLocal, BackendMinio, BackendMemory:
	case "":
		c.History.Backend = BackendSQLite
	default:
		return fmt.Errorf("history.backend must be sqlite, local, minio or memory, got %q", c.History.Backend)
	}

	def := Default()
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = def.Server.RequestTimeout
	}
	if c.Server.MaxSessions <= 0 {
		c.Server.MaxSessions = def.Server.MaxSessions
	}
	if c.Shell.Cols <= 0 {
		c.Shell.Cols = def.Shell.Cols
	}
	if c.Shell.Rows <= 0 {
		c.Shell.Rows = def.Shell.Rows
	}
	if c.Session.HistorySize <= 0 {
		c.Session.HistorySize = def.Session.HistorySize
	}
	if c.Session.LineEnding == "" {
		c.Session.LineEnding = def.Session.LineEnding
	}
	if c.Session.MaxTranscript <= 0 {
		c.Session.MaxTranscript = def.Session.MaxTranscript
	}
	if c.History.MaxEntries <= 0 {
		c.History.MaxEntries = def.History.MaxEntries
	}
	return nil
}
