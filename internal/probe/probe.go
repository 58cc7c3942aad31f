// Package probe waits for a TCP port or HTTP endpoint to become ready.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"miaoda-term/pkg/code"
	"miaoda-term/pkg/e"
)

const (
	KindTCP  = "tcp"
	KindHTTP = "http"

	DefaultTimeout = 30 * time.Second
	checkTimeout   = 500 * time.Millisecond
)

// Interval 两次探测的间隔 (测试可调小)
var Interval = time.Second

// WaitReady 阻塞等待服务就绪，超时返回 code.ProbeTimeout，ctx 取消返回 ctx.Err()
func WaitReady(ctx context.Context, kind, target string, timeout time.Duration) error {
	if kind != KindTCP && kind != KindHTTP {
		return e.New(code.ParamError, fmt.Sprintf("unknown probe kind %q (tcp|http)", kind), nil)
	}
	if target == "" {
		return e.New(code.ParamError, "probe target is empty", nil)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		if checkOnce(ctx, kind, target) {
			return nil
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return e.New(code.ProbeTimeout, fmt.Sprintf("%s %s not ready after %s", kind, target, timeout), nil)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func checkOnce(ctx context.Context, kind, target string) bool {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	switch kind {
	case KindTCP:
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", target)
		if err == nil {
			conn.Close()
			return true
		}
	case KindHTTP:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return false
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 400 {
				return true
			}
		}
	}
	return false
}
