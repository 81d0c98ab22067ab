package server

import (
	"runtime"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-chainsync/types"
	"github.com/saiset-co/sai-chainsync/utils"
)

// Middleware wraps a route handler. The first middleware given to the server is the outermost,
// so Recovery belongs last for the others to observe the 500 it writes.
type Middleware func(next fasthttp.RequestHandler) fasthttp.RequestHandler

var requestDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

func chain(handler fasthttp.RequestHandler, middlewares []Middleware) fasthttp.RequestHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// Recovery turns a panicking handler into a 500 and logs the stack.
func Recovery(logger types.Logger) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if rec := recover(); rec != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)

					logger.Error("Recovered from panic",
						zap.Any("panic", rec),
						zap.ByteString("method", ctx.Method()),
						zap.ByteString("path", ctx.Path()),
						zap.String("stack", string(buf[:n])))

					utils.CreateErrorResponse(ctx)
				}
			}()

			next(ctx)
		}
	}
}

func Logging(logger types.Logger) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			next(ctx)

			fields := []zap.Field{
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", ctx.Response.StatusCode()),
				zap.Duration("duration", time.Since(start)),
			}

			switch status := ctx.Response.StatusCode(); {
			case status >= 500:
				logger.Error("Request completed", fields...)
			case status >= 400:
				logger.Warn("Request completed", fields...)
			default:
				logger.Debug("Request completed", fields...)
			}
		}
	}
}

// Metrics counts requests by path and status. A nil manager disables it.
func Metrics(metrics types.MetricsManager) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		if metrics == nil {
			return next
		}

		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			next(ctx)

			path := string(ctx.Path())
			metrics.Counter("http_requests_total", map[string]string{
				"path":   path,
				"status": strconv.Itoa(ctx.Response.StatusCode()),
			}).Inc()
			metrics.Histogram("http_request_duration_seconds", requestDurationBuckets, map[string]string{
				"path": path,
			}).ObserveDuration(start)
		}
	}
}
