package e

import (
	"errors"
	"fmt"

	"miaoda-term/pkg/code"
)

// CodeError 包含错误码的自定义错误
type CodeError struct {
	Code int
	Msg  string
	Raw  error // 原始错误，只进日志，终端上只展示 Msg
}

func (e *CodeError) Error() string {
	if e.Raw != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Raw)
	}
	return e.Msg
}

func (e *CodeError) Unwrap() error {
	return e.Raw
}

// Is 按错误码比较，errors.Is(err, e.New(code.X, "", nil)) 可用
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New 创建一个新的业务错误，msg 为空时使用错误码默认信息
func New(c int, msg string, raw error) *CodeError {
	if msg == "" {
		msg = code.GetMsg(c)
	}
	return &CodeError{
		Code: c,
		Msg:  msg,
		Raw:  raw,
	}
}

// CodeOf 取出错误链上的错误码，没有则返回 ServerError
func CodeOf(err error) int {
	if err == nil {
		return code.Success
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return code.ServerError
}
