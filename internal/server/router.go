package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MediaPrefix 是读穿代理挂载的路径前缀。
const MediaPrefix = "/media/"

// MediaHandler describes the component serving /media/* requests. It allows
// injecting fake handlers during tests.
type MediaHandler interface {
	Handle(fiber.Ctx) error
}

// MediaHandlerFunc adapts a function to the MediaHandler interface.
type MediaHandlerFunc func(fiber.Ctx) error

// Handle makes MediaHandlerFunc satisfy MediaHandler.
func (f MediaHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave on a specific port.
// Media may be nil when no upstream is configured.
type AppOptions struct {
	Logger     *logrus.Logger
	Media      MediaHandler
	ListenPort int
}

const contextKeyRequestID = "_spancache_request_id"

// NewApp builds a Fiber application with request ID middleware and structured
// error responses.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		path := string(c.Request().URI().Path())
		if isDiagnosticsPath(path) {
			return c.Next()
		}
		if !strings.HasPrefix(path, MediaPrefix) {
			return renderNotFound(c, opts.Logger, path)
		}
		if opts.Media == nil {
			return renderMediaDisabled(c, opts.Logger, path)
		}
		return opts.Media.Handle(c)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID 并写入响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderMediaDisabled(c fiber.Ctx, logger *logrus.Logger, path string) error {
	logger.WithFields(logrus.Fields{
		"action":     "media_lookup",
		"path":       path,
		"request_id": RequestID(c),
	}).Warn("media proxy disabled")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "media_disabled",
	})
}

func renderNotFound(c fiber.Ctx, logger *logrus.Logger, path string) error {
	logger.WithFields(logrus.Fields{
		"action":     "route_lookup",
		"path":       path,
		"request_id": RequestID(c),
	}).Debug("route not found")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "not_found",
	})
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

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
