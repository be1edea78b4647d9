// Package routes 注册 /-/ 下的控制与诊断接口：冷启动开关、更新事件流、
// 手动触发清理、运行状态与 Prometheus 指标。
package routes

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cleanup"
	"github.com/any-hub/offline-hub/internal/notify"
	"github.com/any-hub/offline-hub/internal/server"
)

// ColdBootSwitch 由 router.ColdBoot 实现。
type ColdBootSwitch interface {
	Enter()
	Exit() bool
	Active() bool
}

// Subscriber 由 notify.Broadcaster 实现。
type Subscriber interface {
	Subscribe() (string, <-chan notify.Message, func())
	Count() int
}

// SyncTrigger 由 cleanup.Scheduler 实现。
type SyncTrigger interface {
	Tag() string
	Trigger(ctx context.Context, tag string) (cleanup.Report, bool)
}

type syncPayload struct {
	Tag     string `json:"tag"`
	Deleted int    `json:"deleted"`
	Failed  int    `json:"failed"`
}

// Controls 汇总控制接口依赖，任一字段为 nil 时对应接口不注册。
type Controls struct {
	Route     *server.AppRoute
	CacheName string
	Routes    []string
	ColdBoot  ColdBootSwitch
	Events    Subscriber
	Sync      SyncTrigger
	Logger    *logrus.Logger
	Heartbeat time.Duration
}

// RegisterControlRoutes 挂载全部 /-/ 接口，必须在 server.NewApp 之后调用。
func RegisterControlRoutes(app *fiber.App, ctl Controls) {
	if app == nil {
		return
	}
	if ctl.Logger == nil {
		ctl.Logger = logrus.StandardLogger()
	}

	if ctl.ColdBoot != nil {
		registerColdBootRoutes(app, ctl)
	}
	if ctl.Events != nil {
		registerEventRoute(app, ctl)
	}
	if ctl.Sync != nil {
		registerSyncRoute(app, ctl)
	}
	registerStatusRoute(app, ctl)
	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func registerColdBootRoutes(app *fiber.App, ctl Controls) {
	app.Get("/-/cold-boot", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"coldBoot": ctl.ColdBoot.Active()})
	})

	app.Post("/-/cold-boot/enter", func(c fiber.Ctx) error {
		ctl.ColdBoot.Enter()
		ctl.Logger.WithFields(logrus.Fields{
			"action":     "cold_boot_enter",
			"request_id": server.RequestID(c),
			"source":     "control",
		}).Info("cold_boot_enter")
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/-/cold-boot/exit", func(c fiber.Ctx) error {
		wasColdBoot := ctl.ColdBoot.Exit()
		ctl.Logger.WithFields(logrus.Fields{
			"action":        "cold_boot_exit",
			"request_id":    server.RequestID(c),
			"was_cold_boot": wasColdBoot,
		}).Info("cold_boot_exit")
		return c.JSON(fiber.Map{"wasColdBoot": wasColdBoot})
	})
}

func registerSyncRoute(app *fiber.App, ctl Controls) {
	app.Post("/-/sync/:tag", func(c fiber.Ctx) error {
		tag := strings.TrimSpace(c.Params("tag"))
		if tag == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sync_tag_required"})
		}
		report, ok := ctl.Sync.Trigger(c.Context(), tag)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "sync_tag_unknown", "tag": tag})
		}
		return c.JSON(syncPayload{Tag: tag, Deleted: report.Deleted, Failed: report.Failed})
	})
}
