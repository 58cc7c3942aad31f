package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"miaoda-term/pkg/code"
	"miaoda-term/pkg/e"
	"miaoda-term/pkg/response"
)

// 长连接路径，不做超时限制
func isStreamPath(path string) bool {
	return strings.HasPrefix(path, "/api/terminal/ws")
}

// AuthMiddleware 鉴权中间件，token 为空时不校验
// 浏览器的 WebSocket 握手无法带 Header，终端路径也接受 ?token=
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. 健康检查放行
			if r.URL.Path == "/api/health" {
				next.ServeHTTP(w, r)
				return
			}

			// 2. 取 Token: "Bearer <token>"，终端路径可用 query
			got := ""
			if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
				got = parts[1]
			} else if isStreamPath(r.URL.Path) {
				got = r.URL.Query().Get("token")
			}
			if got == "" {
				response.Error(w, e.New(code.Unauthorized, "missing token", nil))
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				response.Error(w, e.New(code.Unauthorized, "invalid token", nil))
				return
			}

			// 3. 校验通过
			next.ServeHTTP(w, r)
		})
	}
}

// TimeoutMiddleware 针对 REST 接口设置超时，并兜底 panic
func TimeoutMiddleware(timeout time.Duration, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		timeoutHandler := http.TimeoutHandler(next, timeout, `{"code": 504, "msg": "request timeout"}`)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// WebSocket 直接交给下一层
			if isStreamPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			defer func() {
				if err := recover(); err != nil {
					log.Error("panic recovered", zap.String("path", r.URL.Path), zap.Any("error", err))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			timeoutHandler.ServeHTTP(w, r)
		})
	}
}
