package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"ArcFlow/internal/audit"
	"ArcFlow/internal/auth"
	xerrors "ArcFlow/internal/errors"
	"ArcFlow/internal/observability/metrics"
	"ArcFlow/internal/orchestrator"
	"ArcFlow/internal/settlement"
	"ArcFlow/internal/storage/mysql"
)

// maxDocumentSize 限制文档解析接口的请求体大小。
const maxDocumentSize = 10 << 20

// Server 负责暴露 REST 接口，供外部驱动采购编排与结算。
type Server struct {
	addr         string
	orchestrator *orchestrator.Orchestrator
	dispatcher   *settlement.Dispatcher
	history      mysql.HistoryRepository
	authn        *auth.Service
	producer     audit.Producer
}

// ServerOption 定义可选配置。
type ServerOption func(*Server)

// WithHistory 启用历史查询接口。
func WithHistory(history mysql.HistoryRepository) ServerOption {
	return func(s *Server) {
		s.history = history
	}
}

// WithAuth 为结算接口启用鉴权。
func WithAuth(service *auth.Service) ServerOption {
	return func(s *Server) {
		s.authn = service
	}
}

// WithAuditProducer 启用结算审计事件投递。
func WithAuditProducer(producer audit.Producer) ServerOption {
	return func(s *Server) {
		s.producer = producer
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, orch *orchestrator.Orchestrator, dispatcher *settlement.Dispatcher, opts ...ServerOption) *Server {
	s := &Server{addr: addr, orchestrator: orch, dispatcher: dispatcher}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/procurement/orchestrate", instrument("orchestrate", http.HandlerFunc(s.handleOrchestrate)))
	mux.Handle("/api/v1/procurement/extract", instrument("extract", http.HandlerFunc(s.handleExtract)))
	mux.Handle("/api/v1/procurement/history", instrument("history", http.HandlerFunc(s.handleHistory)))
	mux.Handle("/healthz", http.HandlerFunc(s.handleHealth))
	mux.Handle("/metrics", metrics.Handler())

	settle := instrument("settle", http.HandlerFunc(s.handleSettle))
	if s.authn != nil {
		mux.Handle("/api/v1/procurement/settle", s.authn.Middleware("settlement")(settle))
	} else {
		mux.Handle("/api/v1/procurement/settle", settle)
	}

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleOrchestrate 处理一次自然语言采购编排请求。
func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.orchestrator == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}

	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	resp, err := s.orchestrator.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExtract 把上传的文档转写为采购意图。
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.orchestrator == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize))
	if err != nil {
		http.Error(w, "读取请求体失败", http.StatusBadRequest)
		return
	}

	intent := s.orchestrator.ExtractIntent(r.Context(), data, r.Header.Get("Content-Type"))
	writeJSON(w, http.StatusOK, map[string]string{"intent": intent})
}

// settleRequest 是结算接口的请求体。
type settleRequest struct {
	Lines []settlement.Line `json:"lines"`
}

// handleSettle 对最终购物车执行一次结算。
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.dispatcher == nil {
		http.Error(w, "结算调度器未初始化", http.StatusServiceUnavailable)
		return
	}

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	receipt, err := s.dispatcher.Settle(r.Context(), req.Lines)
	if err != nil {
		s.publishSettlement(r.Context(), req.Lines, nil, err)
		metrics.ObserveSettlement("unknown", "failed")
		writeError(w, err)
		return
	}

	s.publishSettlement(r.Context(), req.Lines, receipt, nil)
	metrics.ObserveSettlement(string(receipt.Mode), receipt.Status)
	writeJSON(w, http.StatusOK, receipt)
}

// handleHistory 返回最近的采购记录。
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		http.Error(w, "历史仓库未启用", http.StatusNotFound)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.history.ListLatest(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// publishSettlement 投递结算审计事件，失败不影响响应。
func (s *Server) publishSettlement(ctx context.Context, lines []settlement.Line, receipt *settlement.Receipt, cause error) {
	if s.producer == nil {
		return
	}
	status := "failed"
	event := audit.NewEvent(audit.KindSettlement, status)
	for _, line := range lines {
		event.Total += line.Price
	}
	event.Vendors = vendorsOf(lines)
	if receipt != nil {
		event.Status = receipt.Status
		event.Mode = string(receipt.Mode)
		event.TransactionIDs = receipt.TransactionIDs
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	_ = s.producer.Publish(ctx, event)
}

func vendorsOf(lines []settlement.Line) []string {
	seen := make(map[string]struct{}, len(lines))
	vendors := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.VendorID]; ok {
			continue
		}
		seen[line.VendorID] = struct{}{}
		vendors = append(vendors, line.VendorID)
	}
	return vendors
}

// writeError 把统一错误码映射为 HTTP 状态。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodePolicyViolation:
		status = http.StatusForbidden
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	case xerrors.CodeSettlementFailure:
		status = http.StatusBadGateway
	case xerrors.CodeStorageFailure, xerrors.CodeQueueFailure, xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}

	payload := map[string]string{
		"error": err.Error(),
		"code":  string(xerrors.CodeOf(err)),
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// instrument 记录每个接口的请求指标。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
