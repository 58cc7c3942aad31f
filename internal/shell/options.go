package shell

import (
	"sort"
	"strings"

	"miaoda-term/internal/bridge"
	"miaoda-term/pkg/config"
)

// Options 把 shell 配置转换为进程启动参数
// 未配置路径时按平台探测，未配置参数时使用交互式默认参数
func Options(cfg config.ShellConfig, goos string) bridge.Options {
	path := cfg.Path
	if path == "" {
		path = Resolve(goos)
	}
	args := cfg.Args
	if args == nil {
		args = DefaultArgs(path)
	}

	// viper 会把 map 的 key 转成小写，环境变量名统一转回大写
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, strings.ToUpper(k)+"="+cfg.Env[k])
	}

	return bridge.Options{
		Shell: path,
		Args:  args,
		Dir:   cfg.Dir,
		Env:   env,
		Cols:  cfg.Cols,
		Rows:  cfg.Rows,
		Mode:  cfg.Mode,
	}
}
