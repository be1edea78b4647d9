package routes

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/server"
)

const defaultHeartbeat = 25 * time.Second

// registerEventRoute 以 Server-Sent Events 推送更新通知，客户端断开后自动退订。
func registerEventRoute(app *fiber.App, ctl Controls) {
	heartbeat := ctl.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	app.Get("/-/events", func(c fiber.Ctx) error {
		id, messages, cancel := ctl.Events.Subscribe()
		logger := ctl.Logger.WithFields(logrus.Fields{
			"action":        "events_subscribe",
			"subscriber_id": id,
			"request_id":    server.RequestID(c),
		})
		logger.Debug("events_subscribe")

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")

		return c.SendStreamWriter(func(w *bufio.Writer) {
			defer cancel()
			defer logger.Debug("events_unsubscribe")

			ticker := time.NewTicker(heartbeat)
			defer ticker.Stop()

			if _, err := fmt.Fprintf(w, "retry: %d\n\n", heartbeat.Milliseconds()); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
			for {
				select {
				case msg, ok := <-messages:
					if !ok {
						return
					}
					if err := writeEvent(w, msg.Command, msg); err != nil {
						return
					}
				case <-ticker.C:
					if _, err := w.WriteString(": ping\n\n"); err != nil {
						return
					}
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		})
	})
}

func writeEvent(w *bufio.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
