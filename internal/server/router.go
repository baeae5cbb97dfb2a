package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cinehub/cinehub/internal/logging"
)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	ListenPort int
}

const contextKeyRequestID = "_cinehub_request_id"

// NewApp builds a Fiber application with request-ID, access-log and
// structured error handling middleware. Routes are registered by the caller.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		started := time.Now()
		err := c.Next()

		fields := logging.RequestFields(reqID, c.Method(), c.Path())
		fields["status"] = c.Response().StatusCode()
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		if cacheSource := c.GetRespHeader(HeaderCacheSource); cacheSource != "" {
			fields["cache_source"] = cacheSource
		}
		if err != nil {
			opts.Logger.WithFields(fields).WithError(err).Warn("request_failed")
			return err
		}
		opts.Logger.WithFields(fields).Debug("request_completed")
		return nil
	}
}

// HeaderCacheSource 标记响应数据来自新鲜缓存、上游还是过期兜底。
const HeaderCacheSource = "X-Cinehub-Cache"

func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		label := "internal_error"
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
			switch code {
			case fiber.StatusNotFound:
				label = "not_found"
			case fiber.StatusMethodNotAllowed:
				label = "method_not_allowed"
			default:
				label = fiberErr.Message
			}
		}
		if code >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"action":     "http_error",
				"request_id": RequestID(c),
				"path":       c.Path(),
			}).WithError(err).Error("unhandled_error")
		}
		return c.Status(code).JSON(fiber.Map{"error": label})
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
