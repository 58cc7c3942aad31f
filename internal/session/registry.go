package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"miaoda-term/pkg/code"
	"miaoda-term/pkg/e"
)

// Handler 内置命令实现
// 在独立协程上运行，ctx 在 Ctrl+C 或会话关闭时取消；返回的错误由会话渲染为错误行
type Handler func(ctx context.Context, call *Call) error

// Command 一条内置命令
type Command struct {
	Name    string
	Usage   string
	Summary string
	Handler Handler
}

// Registry 命令名 (不区分大小写) 到处理函数的映射
type Registry struct {
	mu   sync.RWMutex
	cmds map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{cmds: make(map[string]*Command)}
}

// Register 注册或覆盖同名命令
func (r *Registry) Register(name string, h Handler) error {
	return r.RegisterCommand(Command{Name: name, Handler: h})
}

// RegisterCommand 注册时校验：名字非空、不含空白、处理函数非空
func (r *Registry) RegisterCommand(c Command) error {
	name := strings.ToLower(c.Name)
	if name == "" {
		return e.New(code.InvalidCommand, "command name is empty", nil)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return e.New(code.InvalidCommand, fmt.Sprintf("command name %q contains whitespace", c.Name), nil)
	}
	if c.Handler == nil {
		return e.New(code.InvalidCommand, fmt.Sprintf("command %q has no handler", c.Name), nil)
	}
	if c.Usage == "" {
		c.Usage = name
	}
	c.Name = name

	r.mu.Lock()
	r.cmds[name] = &c
	r.mu.Unlock()
	return nil
}

// Lookup 精确匹配，不区分大小写
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cmds[strings.ToLower(name)]
	return c, ok
}

// Commands 按名字排序
func (r *Registry) Commands() []*Command {
	r.mu.RLock()
	out := make([]*Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Complete 返回以 prefix 开头的命令名 (Tab 补全)
func (r *Registry) Complete(prefix string) []string {
	prefix = strings.ToLower(prefix)
	var out []string
	for _, c := range r.Commands() {
		if strings.HasPrefix(c.Name, prefix) {
			out = append(out, c.Name)
		}
	}
	return out
}

// splitCommand 首个空白分隔的词是命令名，其余为参数
func splitCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
