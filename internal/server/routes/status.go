package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/version"
)

type statusPayload struct {
	Version     string         `json:"version"`
	CacheName   string         `json:"cache_name"`
	App         appPayload     `json:"app"`
	Routes      []string       `json:"routes"`
	ColdBoot    bool           `json:"cold_boot"`
	Subscribers int            `json:"subscribers"`
	Cleanup     cleanupPayload `json:"cleanup"`
}

type appPayload struct {
	Domain        string `json:"domain"`
	Origin        string `json:"origin"`
	Upstream      string `json:"upstream"`
	OfflinePage   string `json:"offline_page"`
	ColdBootParam string `json:"cold_boot_param"`
	Port          int    `json:"port"`
}

type cleanupPayload struct {
	Tag string `json:"tag"`
}

// registerStatusRoute 暴露 /-/status 诊断接口，汇总应用绑定与运行时状态。
func registerStatusRoute(app *fiber.App, ctl Controls) {
	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := statusPayload{
			Version:   version.Full(),
			CacheName: ctl.CacheName,
			App:       encodeApp(ctl.Route),
			Routes:    copyRoutes(ctl.Routes),
		}
		if ctl.ColdBoot != nil {
			payload.ColdBoot = ctl.ColdBoot.Active()
		}
		if ctl.Events != nil {
			payload.Subscribers = ctl.Events.Count()
		}
		if ctl.Sync != nil {
			payload.Cleanup.Tag = ctl.Sync.Tag()
		}
		return c.JSON(payload)
	})
}

func encodeApp(route *server.AppRoute) appPayload {
	if route == nil {
		return appPayload{}
	}
	payload := appPayload{
		Domain:        route.Config.Domain,
		OfflinePage:   route.OfflinePage,
		ColdBootParam: route.Config.ColdBootParam,
		Port:          route.ListenPort,
	}
	if route.Origin != nil {
		payload.Origin = route.Origin.String()
	}
	if route.UpstreamURL != nil {
		payload.Upstream = route.UpstreamURL.String()
	}
	return payload
}

// copyRoutes 保留路由表的匹配顺序；缺失时返回空切片，JSON 输出 []。
func copyRoutes(routes []string) []string {
	if len(routes) == 0 {
		return []string{}
	}
	return append([]string(nil), routes...)
}
