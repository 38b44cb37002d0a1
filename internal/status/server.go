// Package status 提供只读的 HTTP 状态接口。
//
//	GET /health          存活检查
//	GET /status          当前会话完整状态
//	GET /subscriptions   已确认的订阅
//	GET /stats           消息统计与时延分位
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"market-stream-client/internal/core/session"
)

// Provider 返回当前会话状态；尚无会话时 ok 为 false
type Provider func() (st session.Status, ok bool)

// Server 状态服务
type Server struct {
	addr     string
	provider Provider
	logger   *zap.Logger
	srv      *http.Server
}

// NewServer 创建状态服务
// 参数 addr: 监听地址
// 参数 provider: 会话状态来源
// 参数 logger: 日志记录器
func NewServer(addr string, provider Provider, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{addr: addr, provider: provider, logger: logger.Named("status")}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes 构建路由
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", s.handleStatus)
	r.Get("/subscriptions", s.handleSubscriptions)
	r.Get("/stats", s.handleStats)
	return r
}

// ListenAndServe 启动监听，直到 ctx 取消后优雅关闭
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("状态服务启动", zap.String("addr", s.addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("状态服务已关闭")
	return nil
}

func (s *Server) current(w http.ResponseWriter) (session.Status, bool) {
	st, ok := s.provider()
	if !ok {
		WriteError(w, http.StatusServiceUnavailable, "暂无活动会话")
	}
	return st, ok
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if st, ok := s.current(w); ok {
		WriteJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	st, ok := s.current(w)
	if !ok {
		return
	}
	subs := st.Subscriptions
	if subs == nil {
		subs = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"session_id":    st.SessionID,
		"mode":          st.Mode,
		"subscriptions": subs,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, ok := s.current(w)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"session_id":    st.SessionID,
		"stats":         st.Stats,
		"rate_per_sec":  st.Rate,
		"latency":       st.Latency,
		"decode_errors": st.DecodeErrors,
	})
}

// WriteJSON 写出 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError 写出错误响应
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}
