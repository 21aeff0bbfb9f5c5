// Package httpapi serves the chat pipeline over HTTP: SSE and WebSocket
// chat, feedback, health and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/trace"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/commbus"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/observability"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/runtime"
)

// Server is the HTTP front end of a pipeline.
type Server struct {
	echo     *echo.Echo
	pipeline *runtime.Pipeline
	logger   logging.Logger
	upgrader websocket.Upgrader
	http     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithCheckOrigin replaces the WebSocket origin check. The default accepts
// every origin.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// New builds the routes for p. serviceName labels server spans.
func New(p *runtime.Pipeline, serviceName string, logger logging.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		pipeline: p,
		logger:   logger.Bind("component", "http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(serviceName))
	e.Use(s.accessLog)

	e.POST("/v1/chat", s.chat)
	e.GET("/v1/chat/ws", s.chatWS)
	e.POST("/v1/feedback", s.feedback)
	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// ListenAndServe serves on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("http_server_started", "address", addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	err := s.http.Shutdown(ctx)
	s.logger.Info("http_server_stopped")
	return err
}

func (s *Server) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		code := c.Response().Status
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		observability.RecordHTTPRequest(route, strconv.Itoa(code))
		kv := []any{
			"method", c.Request().Method,
			"route", route,
			"status", code,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if sc := trace.SpanContextFromContext(c.Request().Context()); sc.HasTraceID() {
			kv = append(kv, "trace_id", sc.TraceID().String())
		}
		s.logger.Debug("http_request", kv...)
		return nil
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	} else {
		s.logger.Error("http_handler_failed", "path", c.Path(), "error", err.Error())
	}
	if err := c.JSON(code, errorBody{Error: msg}); err != nil {
		s.logger.Warn("http_error_write_failed", "error", err.Error())
	}
}

func (s *Server) health(c echo.Context) error {
	results := s.pipeline.Kernel.Health(c.Request().Context(), "all")
	agg := kernel.AggregateHealth(results)
	code := http.StatusOK
	if agg.Status == commbus.HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, agg)
}

// rateLimited writes a 429 when userID is over its chat limit.
func (s *Server) rateLimited(c echo.Context, userID string) (bool, error) {
	rl := s.pipeline.Kernel.CheckRateLimit(userID, "chat")
	if rl.Allowed {
		return false, nil
	}
	secs := int(rl.RetryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	return true, c.JSON(http.StatusTooManyRequests, errorBody{
		Error:      "rate limit exceeded for " + rl.Window + " window",
		RetryAfter: secs,
	})
}
