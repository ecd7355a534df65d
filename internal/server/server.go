// Package server exposes the orchestrator over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/agentrouter/internal/history"
	"github.com/mohammad-safakhou/agentrouter/internal/orchestrator"
	"github.com/mohammad-safakhou/agentrouter/internal/router"
	"github.com/mohammad-safakhou/agentrouter/internal/runlog"
	"github.com/mohammad-safakhou/agentrouter/internal/runtime"
	"github.com/mohammad-safakhou/agentrouter/internal/store"
	"github.com/mohammad-safakhou/agentrouter/internal/worker"
)

// Runner answers and routes requests.
type Runner interface {
	Run(ctx context.Context, query string) (*orchestrator.RunResult, error)
	Route(ctx context.Context, query string) (router.Decision, []runlog.Entry, error)
	Registry() *worker.Registry
}

// RunStore reads persisted runs.
type RunStore interface {
	GetRun(ctx context.Context, id string) (store.Run, bool, error)
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
}

// RunSearcher searches finished runs.
type RunSearcher interface {
	Search(q string, limit int) ([]history.Hit, error)
}

// AuthConfig enables bearer auth on /v1 when Secret is set.
type AuthConfig struct {
	Secret     []byte
	APIKeyHash string
	TokenTTL   time.Duration
}

// Deps are the components the API serves. Store, History and Metrics are
// optional; their routes answer 503 when absent.
type Deps struct {
	Runner     Runner
	Store      RunStore
	History    RunSearcher
	Metrics    http.Handler
	Auth       AuthConfig
	RunTimeout time.Duration
	Logger     *zap.Logger
}

// New builds the echo instance with every route registered.
func New(deps Deps) *echo.Echo {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		fields := []zap.Field{zap.Int("status", code), zap.String("method", req.Method), zap.String("path", req.URL.Path), zap.String("remote", c.RealIP()), zap.Error(err)}
		if code >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics))
	}

	auth := &AuthHandler{Secret: deps.Auth.Secret, APIKeyHash: deps.Auth.APIKeyHash, TTL: deps.Auth.TokenTTL}
	auth.Register(e.Group("/auth"))

	v1 := e.Group("/v1")
	if len(deps.Auth.Secret) > 0 {
		v1.Use(runtime.EchoAuthMiddleware(deps.Auth.Secret))
	}
	rh := &RunsHandler{runner: deps.Runner, store: deps.Store, history: deps.History, timeout: deps.RunTimeout, logger: logger}
	rh.Register(v1)
	return e
}

// Run serves e on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- e.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
