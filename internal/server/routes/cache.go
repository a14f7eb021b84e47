package routes

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/spancache/internal/bridge"
	"github.com/any-hub/spancache/internal/manager"
)

// bridgeTimeout 限制单个控制请求等待 Promise 的时间。
const bridgeTimeout = 30 * time.Second

type initializeRequest struct {
	CacheChildFolder string   `json:"cacheChildFolder"`
	CacheMaxSize     *float64 `json:"cacheMaxSize"`
}

// RegisterCacheRoutes 暴露 /-/cache 控制接口，与宿主侧 initializeCache/getCacheStats 等价。
func RegisterCacheRoutes(app *fiber.App, module *bridge.Module) {
	if app == nil || module == nil {
		return
	}

	app.Post("/-/cache/initialize", func(c fiber.Ctx) error {
		var req initializeRequest
		if err := c.Bind().JSON(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_body",
				"message": err.Error(),
			})
		}
		if req.CacheChildFolder == "" || req.CacheMaxSize == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_body",
				"message": "cacheChildFolder and cacheMaxSize are required",
			})
		}

		p := bridge.NewResultPromise()
		module.InitializeCache(req.CacheChildFolder, *req.CacheMaxSize, p)
		value, err := wait(c, p)
		if err != nil {
			return renderRejected(c, err)
		}

		status := fiber.StatusOK
		if payload, ok := value.(map[string]any); ok && payload["status"] == "initialized" {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(value)
	})

	app.Get("/-/cache/stats", func(c fiber.Ctx) error {
		p := bridge.NewResultPromise()
		module.GetCacheStats(p)
		value, err := wait(c, p)
		if err != nil {
			return renderRejected(c, err)
		}
		return c.JSON(value)
	})
}

func wait(c fiber.Ctx, p *bridge.ResultPromise) (any, error) {
	ctx, cancel := context.WithTimeout(c.Context(), bridgeTimeout)
	defer cancel()
	return p.Wait(ctx)
}

func renderRejected(c fiber.Ctx, err error) error {
	var rejected *bridge.RejectedError
	if errors.As(err, &rejected) {
		status := fiber.StatusInternalServerError
		if errors.Is(rejected, manager.ErrInvalidSubfolder) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   rejected.Code,
			"message": rejected.Err.Error(),
		})
	}
	return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
		"error":   "timeout",
		"message": err.Error(),
	})
}
