// Package auth 为结算等敏感接口提供轻量的 API Key 鉴权。
package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	loggerpkg "ArcFlow/pkg/logger"
)

// Mode 表示鉴权服务的工作模式。
type Mode string

const (
	// ModeDisabled 未配置凭证时直接放行，仅建议在本地开发时使用。
	ModeDisabled Mode = "disabled"
	// ModeAPIKey 校验请求头中的 API Key。
	ModeAPIKey Mode = "api_key"
)

// Service 校验请求携带的凭证并记录访问审计。
type Service struct {
	mode  Mode
	key   string
	audit *slog.Logger
}

// Option 定义可选配置。
type Option func(*Service)

// WithAuditLogger 覆盖默认的审计日志输出。
func WithAuditLogger(audit *slog.Logger) Option {
	return func(s *Service) {
		s.audit = audit
	}
}

// NewService 创建鉴权服务。key 为空时服务处于放行模式。
func NewService(key string, opts ...Option) *Service {
	s := &Service{mode: ModeAPIKey, key: strings.TrimSpace(key)}
	if s.key == "" {
		s.mode = ModeDisabled
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.audit == nil {
		s.audit = loggerpkg.Audit()
	}
	return s
}

// Authenticate 校验凭证。支持 Authorization: Bearer 与 X-API-Key 两种写法。
func (s *Service) Authenticate(r *http.Request) bool {
	if s == nil || s.mode == ModeDisabled {
		return true
	}
	candidate := r.Header.Get("X-API-Key")
	if candidate == "" {
		header := r.Header.Get("Authorization")
		candidate = strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	}
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.key)) == 1
}

// Middleware 返回一个 HTTP 中间件，校验凭证并记录访问审计。
func (s *Service) Middleware(event string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}
			if !s.Authenticate(r) {
				status := http.StatusUnauthorized
				http.Error(w, http.StatusText(status), status)
				s.audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
				)
				return
			}
			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r)
			name := event
			if name == "" {
				name = r.URL.Path
			}
			s.audit.Info("api_request",
				"event", name,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
