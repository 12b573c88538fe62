package routes

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/property-predictor/offline-cache/internal/cache"
	"github.com/property-predictor/offline-cache/internal/host"
	"github.com/property-predictor/offline-cache/internal/version"
	"github.com/property-predictor/offline-cache/internal/worker"
)

// Control 汇总控制接口依赖。
type Control struct {
	Registration *host.Registration
	Storage      cache.Storage
	Inbox        *host.Inbox
	Logger       *logrus.Logger
}

// RegisterControlRoutes 暴露 /-/ 下的诊断与事件投递接口：页面通过这些接口向 worker
// 发送消息、模拟推送与后台同步，并查询缓存与通知状态。
func RegisterControlRoutes(app *fiber.App, ctl Control) {
	if app == nil || ctl.Registration == nil || ctl.Storage == nil || ctl.Inbox == nil {
		return
	}
	if ctl.Logger == nil {
		ctl.Logger = logrus.StandardLogger()
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service":      version.Full(),
			"registration": ctl.Registration.Status(),
		})
	})

	app.Get("/-/caches", func(c fiber.Ctx) error {
		payload, err := describeCaches(c, ctl.Storage)
		if err != nil {
			ctl.Logger.WithError(err).WithField("action", "cache_list").Error("cache list failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		return c.JSON(fiber.Map{"caches": payload})
	})

	app.Post("/-/message", func(c fiber.Ctx) error {
		var msg worker.Message
		if err := json.Unmarshal(c.Body(), &msg); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_message"})
		}
		if err := ctl.Registration.Message(c.Context(), msg); err != nil {
			return renderEventError(c, ctl.Logger, "message", err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "delivered"})
	})

	app.Post("/-/push", func(c fiber.Ctx) error {
		outcome, err := ctl.Registration.Push(c.Context(), c.Body())
		if err != nil {
			return renderEventError(c, ctl.Logger, "push", err)
		}
		return c.JSON(fiber.Map{"outcome": outcome})
	})

	app.Post("/-/sync", func(c fiber.Ctx) error {
		tag, ok := readTag(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tag_required"})
		}
		if err := ctl.Registration.Sync(c.Context(), tag); err != nil {
			return renderEventError(c, ctl.Logger, "sync", err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "completed", "tag": tag})
	})

	app.Post("/-/periodic-sync", func(c fiber.Ctx) error {
		tag, ok := readTag(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tag_required"})
		}
		if err := ctl.Registration.PeriodicSync(c.Context(), tag); err != nil {
			return renderEventError(c, ctl.Logger, "periodicsync", err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "completed", "tag": tag})
	})

	app.Post("/-/notifications/click", func(c fiber.Ctx) error {
		var click worker.NotificationClick
		if err := json.Unmarshal(c.Body(), &click); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_click"})
		}
		if err := ctl.Registration.NotificationClick(c.Context(), click); err != nil {
			return renderEventError(c, ctl.Logger, "notificationclick", err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "handled"})
	})

	app.Get("/-/notifications", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"notifications": ctl.Inbox.Notifications(),
			"windows":       ctl.Inbox.Windows(),
		})
	})
}

type cachePayload struct {
	Name    string   `json:"name"`
	Entries []string `json:"entries"`
}

func describeCaches(c fiber.Ctx, storage cache.Storage) ([]cachePayload, error) {
	ctx := c.Context()
	names, err := storage.Names(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]cachePayload, 0, len(names))
	for _, name := range names {
		ns, err := storage.Lookup(ctx, name)
		if errors.Is(err, cache.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		keys, err := ns.Keys(ctx)
		if err != nil {
			return nil, err
		}
		entries := make([]string, 0, len(keys))
		for _, key := range keys {
			entries = append(entries, key.String())
		}
		result = append(result, cachePayload{Name: name, Entries: entries})
	}
	return result, nil
}

func readTag(c fiber.Ctx) (string, bool) {
	var body struct {
		Tag string `json:"tag"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return "", false
	}
	tag := strings.TrimSpace(body.Tag)
	return tag, tag != ""
}

func renderEventError(c fiber.Ctx, logger *logrus.Logger, event string, err error) error {
	switch {
	case errors.Is(err, host.ErrNoActiveWorker):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no_active_worker"})
	case errors.Is(err, worker.ErrPeriodicSyncUnsupported):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "periodic_sync_unsupported"})
	}
	logger.WithError(err).WithFields(logrus.Fields{
		"action": "worker_event",
		"event":  event,
	}).Error("event dispatch failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_failed"})
}
