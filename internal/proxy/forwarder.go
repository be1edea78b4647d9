package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/server"
)

// FallbackHandler 是可以在失败时给出兜底响应的 ProxyHandler，由 Handler 实现。
type FallbackHandler interface {
	server.ProxyHandler
	Fallback(fiber.Ctx, *server.AppRoute) error
}

// Forwarder 包装 Handler：处理过程中的 panic 会被恢复并转为离线页或 503，
// 保证每个请求最终都有响应。
type Forwarder struct {
	handler FallbackHandler
	logger  *logrus.Logger
}

// NewForwarder 创建 Forwarder，handler 不能为空。
func NewForwarder(handler FallbackHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		handler: handler,
		logger:  logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.AppRoute) error {
	requestID := server.RequestID(c)
	if f.handler == nil {
		f.logHandlerError(c, "proxy_handler_missing", nil, requestID)
		setRequestIDHeader(c, requestID)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "proxy_handler_missing"})
	}
	return f.invokeHandler(c, route, requestID)
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.AppRoute, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()
	return f.handler.Handle(c, route)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.AppRoute, recovered interface{}, requestID string) (err error) {
	f.logHandlerError(c, "proxy_handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	defer func() {
		if r := recover(); r != nil {
			err = c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "proxy_handler_panic"})
		}
	}()
	return f.handler.Fallback(c, route)
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logHandlerError(c fiber.Ctx, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := logging.RequestFields(requestID, string(c.Request().URI().FullURI()), "")
	fields["action"] = "proxy"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("proxy handler unavailable")
}
