package proxy

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/any-hub/offline-hub/internal/resource"
	"github.com/any-hub/offline-hub/internal/router"
	"github.com/any-hub/offline-hub/internal/server"
)

const requestIDKey = "_offlinehub_request_id"

func TestForwarderMissingHandler(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "missing-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(nil, logger)
	if err := forwarder.Handle(ctx, testRoute(t)); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for missing handler, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "proxy_handler_missing") {
		t.Fatalf("expected error body to mention proxy_handler_missing, got %s", body)
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "missing-req" {
		t.Fatalf("expected request id header missing-req, got %s", got)
	}
	if !strings.Contains(logBuf.String(), "missing-req") {
		t.Fatalf("expected log to include request id, got %s", logBuf.String())
	}
}

func TestForwarderRecoversPanicIntoOfflinePage(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(requestIDKey, "panic-req")
	ctx.Request().SetRequestURI("/posts/1")
	ctx.Request().Header.SetHost("blog.example.com")
	ctx.Request().Header.Set("Accept", "text/html")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	handler := NewHandler(Options{
		Router:  panicRouter{},
		Offline: &fakeOffline{page: offlinePage()},
		Logger:  logger,
	})
	forwarder := NewForwarder(handler, logger)

	if err := forwarder.Handle(ctx, testRoute(t)); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusOK {
		t.Fatalf("expected offline page status 200, got %d", status)
	}
	if body := string(ctx.Response().Body()); body != "offline" {
		t.Fatalf("expected offline page body, got %s", body)
	}
	if !strings.Contains(logBuf.String(), "proxy_handler_panic") {
		t.Fatalf("expected log to mention proxy_handler_panic, got %s", logBuf.String())
	}
}

func TestForwarderRecoversPanicInto503(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Request().SetRequestURI("/app.js")
	ctx.Request().Header.SetHost("blog.example.com")

	handler := NewHandler(Options{
		Router:  panicRouter{},
		Offline: &fakeOffline{page: offlinePage()},
		Logger:  quietLogger(),
	})
	if err := NewForwarder(handler, quietLogger()).Handle(ctx, testRoute(t)); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503 for non-navigation, got %d", status)
	}
}

func TestForwarderSurvivesPanickingFallback(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)

	forwarder := NewForwarder(brokenHandler{}, quietLogger())
	if err := forwarder.Handle(ctx, testRoute(t)); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503 when fallback panics, got %d", status)
	}
}

type panicRouter struct{}

func (panicRouter) Route(context.Context, *resource.Request) router.Result {
	panic("boom")
}

type brokenHandler struct{}

func (brokenHandler) Handle(fiber.Ctx, *server.AppRoute) error {
	panic("handle")
}

func (brokenHandler) Fallback(fiber.Ctx, *server.AppRoute) error {
	panic("fallback")
}
