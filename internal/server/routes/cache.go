package routes

import (
	"context"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/cinehub/cinehub/internal/cache"
	"github.com/cinehub/cinehub/internal/refresh"
	"github.com/cinehub/cinehub/internal/server"
)

// CacheAdmin 是管理接口需要的缓存能力，cache.Store 满足该接口。
type CacheAdmin interface {
	Info(ctx context.Context) (cache.Info, error)
	Clear(ctx context.Context) error
}

// Refresher 对全部已注册目录执行强制刷新，*catalog.Service 满足该接口。
type Refresher interface {
	RefreshAll(ctx context.Context) refresh.Report
}

const cacheRefreshPath = "/cache/refresh"

var allowedCacheMethods = []string{fiber.MethodGet, fiber.MethodPost, fiber.MethodDelete}

// RegisterCacheRoutes 暴露 /cache/refresh 管理接口：GET 查看缓存状态，POST 批量刷新，DELETE 清空缓存。
func RegisterCacheRoutes(app *fiber.App, store CacheAdmin, refresher Refresher, logger *logrus.Logger) {
	if app == nil || store == nil || refresher == nil || logger == nil {
		return
	}

	app.Get(cacheRefreshPath, func(c fiber.Ctx) error {
		info, err := store.Info(requestContext(c))
		if err != nil {
			logger.WithFields(adminFields(c, "cache_info")).WithError(err).Error("cache_info_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"message": "Failed to read cache info",
			})
		}
		return c.JSON(fiber.Map{
			"success":   true,
			"cacheInfo": encodeCacheInfo(info),
		})
	})

	app.Post(cacheRefreshPath, func(c fiber.Ctx) error {
		ctx := requestContext(c)
		report := refresher.RefreshAll(ctx)

		fields := adminFields(c, "cache_refresh")
		fields["refreshed"] = len(report.Succeeded)
		fields["failed"] = report.FailedKeys()
		logger.WithFields(fields).Info("cache_refresh_requested")

		failed := make(map[string]string, len(report.Failed))
		for key, err := range report.Failed {
			failed[key] = err.Error()
		}
		refreshed := report.Succeeded
		if refreshed == nil {
			refreshed = []string{}
		}

		status, message := fiber.StatusOK, "Cache refreshed successfully"
		switch {
		case len(report.Failed) > 0 && len(report.Succeeded) == 0:
			status, message = fiber.StatusBadGateway, "Cache refresh failed"
		case len(report.Failed) > 0:
			status, message = fiber.StatusMultiStatus, "Cache partially refreshed"
		}

		payload := fiber.Map{
			"success":   len(report.Failed) == 0,
			"message":   message,
			"refreshed": refreshed,
			"failed":    failed,
		}
		if info, err := store.Info(ctx); err == nil {
			payload["cacheInfo"] = encodeCacheInfo(info)
		}
		return c.Status(status).JSON(payload)
	})

	app.Delete(cacheRefreshPath, func(c fiber.Ctx) error {
		if err := store.Clear(requestContext(c)); err != nil {
			logger.WithFields(adminFields(c, "cache_clear")).WithError(err).Error("cache_clear_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"message": "Failed to clear cache",
			})
		}
		logger.WithFields(adminFields(c, "cache_clear")).Info("cache_cleared")
		return c.JSON(fiber.Map{
			"success": true,
			"message": "Cache cleared successfully",
		})
	})

	app.All(cacheRefreshPath, func(c fiber.Ctx) error {
		c.Set(fiber.HeaderAllow, strings.Join(allowedCacheMethods, ", "))
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
			"success": false,
			"message": "Method not allowed",
		})
	})
}

type cacheInfoPayload struct {
	TotalFiles     int    `json:"totalFiles"`
	TotalSize      string `json:"totalSize"`
	TotalSizeBytes int64  `json:"totalSizeBytes"`
}

func encodeCacheInfo(info cache.Info) cacheInfoPayload {
	size := info.TotalSizeBytes
	if size < 0 {
		size = 0
	}
	return cacheInfoPayload{
		TotalFiles:     info.Count,
		TotalSize:      humanize.Bytes(uint64(size)),
		TotalSizeBytes: info.TotalSizeBytes,
	}
}

func adminFields(c fiber.Ctx, action string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"request_id": server.RequestID(c),
	}
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
