package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/metrics"
	"github.com/any-hub/offline-hub/internal/resource"
)

// Notifier 比较导航页面新旧版本的 Last-Modified，不一致时广播 UPDATE_FOUND。
type Notifier struct {
	cache       cache.Store
	broadcaster *Broadcaster
	logger      *logrus.Logger
}

// NewNotifier 构造 Notifier。
func NewNotifier(store cache.Store, broadcaster *Broadcaster, logger *logrus.Logger) *Notifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Notifier{cache: store, broadcaster: broadcaster, logger: logger}
}

// Snapshot 在网络写入覆盖缓存之前读取旧版本；非导航请求或未命中返回 nil。
func (n *Notifier) Snapshot(ctx context.Context, req *resource.Request) *resource.Response {
	if !req.IsNavigation() {
		return nil
	}
	previous, err := n.cache.Match(ctx, req, cache.MatchOptions{})
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			n.logger.WithFields(logrus.Fields{
				"action": "revalidate_snapshot_failed",
				"url":    req.Key(),
			}).WithError(err).Warn("revalidate_snapshot_failed")
		}
		return nil
	}
	return previous
}

// Compare 在两个版本都带有 Last-Modified 且取值不同时广播，返回是否已通知。
func (n *Notifier) Compare(ctx context.Context, req *resource.Request, previous, fresh *resource.Response) bool {
	if !req.IsNavigation() || previous == nil || !fresh.OK() {
		return false
	}
	cachedVer := previous.Header.Get("Last-Modified")
	fetchedVer := fresh.Header.Get("Last-Modified")
	if cachedVer == "" || fetchedVer == "" || cachedVer == fetchedVer {
		return false
	}

	delivered := n.broadcaster.Broadcast(Message{Command: CommandUpdateFound, URL: req.Key()})
	metrics.Notifications.Inc()
	n.logger.WithFields(logrus.Fields{
		"action":      "update_found",
		"url":         req.Key(),
		"subscribers": delivered,
	}).Info("update_found")
	return true
}
