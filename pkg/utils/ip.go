package utils

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP 获取请求的真实 IP (仅用于日志)
// 1. X-Forwarded-For 的第一个地址
// 2. X-Real-IP
// 3. RemoteAddr 去掉端口，[::1] 转为 127.0.0.1
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xRealIP := r.Header.Get("X-Real-IP"); xRealIP != "" {
		return xRealIP
	}
	ip := remoteHost(r)
	if ip == "::1" {
		return "127.0.0.1"
	}
	return ip
}

// IsLoopback 直连地址是否为本机，不信任代理头
func IsLoopback(r *http.Request) bool {
	ip := net.ParseIP(remoteHost(r))
	return ip != nil && ip.IsLoopback()
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
