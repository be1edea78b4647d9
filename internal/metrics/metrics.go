// Package metrics 集中定义 offline-hub 的 Prometheus 指标，全部通过 promauto 注册到默认
// Registry，并由 `/-/metrics` 暴露。
//
// 指标一览：
//   - offline_hub_route_decisions_total{route, kind}: 路由决策
//   - offline_hub_cache_lookups_total{strategy, result}: 策略层缓存查找（hit/miss）
//   - offline_hub_background_refresh_total{result}: 后台刷新（started/throttled/ok/failed）
//   - offline_hub_pipeline_total{outcome}: 抓取管线结果（cached/redirect_cached/opaque/not_ok/error）
//   - offline_hub_cors_retries_total{mode}: CORS 重试及其采用的 mode
//   - offline_hub_cleanup_runs_total{result}: 清理任务执行次数
//   - offline_hub_cleanup_deleted_total: 清理删除的缓存条目
//   - offline_hub_notifications_total: 发出的 UPDATE_FOUND 消息
//   - offline_hub_metadata_errors_total{operation}: 元数据存储错误
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry 是默认注册器，所有指标均通过 promauto 自动注册。
var Registry = prometheus.DefaultRegisterer

var (
	RouteDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_hub_route_decisions_total",
			Help: "Total number of router decisions by route and kind",
		},
		[]string{"route", "kind"}, // kind: "pass_through", "handled"
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_hub_cache_lookups_total",
			Help: "Total number of cache lookups performed by strategies",
		},
		[]string{"strategy", "result"},
	)

	BackgroundRefresh = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_hub_background_refresh_total",
			Help: "Background refresh attempts by result",
		},
		[]string{"result"},
	)

	PipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_hub_pipeline_total",
			Help: "Fetch-and-cache pipeline outcomes",
		},
		[]string{"outcome"},
	)

	CORSRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_hub_cors_retries_total",
			Help: "Fetch retries performed after an unusable first response",
		},
		[]string{"mode"},
	)

	CleanupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_hub_cleanup_runs_total",
			Help: "Cleanup task runs by result",
		},
		[]string{"result"}, // "ok", "partial", "failed"
	)

	CleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_hub_cleanup_deleted_total",
			Help: "Cache entries deleted by the cleanup task",
		},
	)

	Notifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_hub_notifications_total",
			Help: "UPDATE_FOUND messages broadcast to clients",
		},
	)

	MetadataErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_hub_metadata_errors_total",
			Help: "Metadata store errors by operation",
		},
		[]string{"operation"}, // "open", "put", "get", "delete_expired"
	)
)
