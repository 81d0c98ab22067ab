package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-chainsync/types"
	"github.com/saiset-co/sai-chainsync/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	HealthPath  = "/health"
	VersionPath = "/version"
	MetricsPath = "/metrics"
)

type Option func(*HTTPServer)

// WithListener serves on an existing listener instead of binding host:port.
func WithListener(listener net.Listener) Option {
	return func(h *HTTPServer) {
		h.listener = listener
	}
}

// WithMiddlewares wraps every registered route. Unknown paths bypass them.
func WithMiddlewares(middlewares ...Middleware) Option {
	return func(h *HTTPServer) {
		h.middlewares = append(h.middlewares, middlewares...)
	}
}

// HTTPServer exposes the operational endpoints. It carries no application API.
type HTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	httpConfig      *types.HTTPConfig
	server          *fasthttp.Server
	listener        net.Listener
	routes          map[string]fasthttp.RequestHandler
	middlewares     []Middleware
	routingMu       sync.RWMutex
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewHTTPServer(ctx context.Context, logger types.Logger, httpConfig *types.HTTPConfig, opts ...Option) (*HTTPServer, error) {
	if httpConfig == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "server.http")
	}

	serverCtx, cancel := context.WithCancel(ctx)

	server := &HTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		httpConfig:      httpConfig,
		routes:          make(map[string]fasthttp.RequestHandler),
		shutdownTimeout: 5 * time.Second,
	}

	if httpConfig.ShutdownTimeout > 0 {
		server.shutdownTimeout = time.Duration(httpConfig.ShutdownTimeout) * time.Second
	}

	for _, opt := range opts {
		opt(server)
	}

	server.state.Store(StateStopped)

	return server, nil
}

// Handle registers handler for method and exact path. A later registration replaces an earlier one.
func (h *HTTPServer) Handle(method, path string, handler fasthttp.RequestHandler) {
	h.routingMu.Lock()
	defer h.routingMu.Unlock()

	h.routes[routeKey(method, path)] = chain(handler, h.middlewares)
}

func (h *HTTPServer) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		h.routingMu.RLock()
		handler := h.routes[routeKey(string(ctx.Method()), string(ctx.Path()))]
		h.routingMu.RUnlock()

		if handler == nil {
			utils.WriteJSON(ctx, fasthttp.StatusNotFound, map[string]string{
				"error": types.ErrPathNotFound.Error(),
			})
			return
		}

		handler(ctx)
	}
}

func (h *HTTPServer) Start() error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	h.server = &fasthttp.Server{
		Handler:                      h.Handler(),
		Name:                         "chainsync",
		ReadTimeout:                  time.Duration(h.httpConfig.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(h.httpConfig.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(h.httpConfig.IdleTimeout) * time.Second,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
	}

	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	if h.listener == nil {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			h.setState(StateStopped)
			return types.Errorf(types.ErrServerStartFailed, "%v", err)
		}
		h.listener = listener
	}

	listener := h.listener

	go func() {
		if err := h.server.Serve(listener); err != nil {
			h.logger.Error("HTTP server failed", zap.Error(err))
			h.setState(StateStopped)
		}
	}()

	h.setState(StateRunning)

	h.logger.Info("HTTP server started successfully", zap.String("address", listener.Addr().String()))

	return nil
}

func (h *HTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if h.server == nil {
			return nil
		}
		return h.server.ShutdownWithContext(gCtx)
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			h.logger.Warn("Server stop timeout, some connections may not have closed gracefully")
		default:
			h.logger.Error("Error during server shutdown", zap.Error(err))
		}
	} else {
		h.logger.Info("HTTP server stopped gracefully")
	}

	return nil
}

func (h *HTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

func (h *HTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *HTTPServer) setState(newState State) bool {
	currentState := h.getState()
	return h.state.CompareAndSwap(currentState, newState)
}

func (h *HTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}

func routeKey(method, path string) string {
	if len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return method + ":" + path
}
