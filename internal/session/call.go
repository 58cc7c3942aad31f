package session

import (
	"context"
)

// Call 一次内置命令调用
// 所有输出方法都投递到会话的事件循环；调用被 Ctrl+C 取消后输出会被丢弃
type Call struct {
	Name string
	Args []string
	Line string

	s   *Session
	id  uint64
	ctx context.Context
}

func (c *Call) Context() context.Context { return c.ctx }

func (c *Call) Session() *Session { return c.s }

func (c *Call) Write(text string) {
	c.post(func() { c.s.render.Write(text) })
}

func (c *Call) Writeln(text string) {
	c.post(func() { c.s.render.Writeln(text) })
}

func (c *Call) Clear() {
	c.post(func() { c.s.render.Clear() })
}

// DisableInput 阻止新的提交，输出照常显示；命令结束后自动恢复
func (c *Call) DisableInput() {
	c.post(func() { c.s.inputEnabled = false })
}

func (c *Call) EnableInput() {
	c.post(func() { c.s.inputEnabled = true })
}

// post 异步投递，保证与 finish 的先后顺序
func (c *Call) post(fn func()) {
	c.s.post(func() {
		if c.current() {
			fn()
		}
	})
}

// exec 在事件循环上同步执行 fn，调用已失效时返回 false
func (c *Call) exec(fn func()) bool {
	ok := false
	c.s.do(func() {
		if c.current() {
			fn()
			ok = true
		}
	})
	return ok
}

// current 只能在事件循环上调用
func (c *Call) current() bool {
	return c.s.running != nil && c.s.running.id == c.id
}
