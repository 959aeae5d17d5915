package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"whatspro/pkg/logx"
)

// GET /v1/events
//
// Bridges the internal bus onto a server-sent event stream. The SSE
// event name is the bus event type; the data payload is the event's
// JSON-encoded data. A slow client is dropped by the bus, not buffered
// without bound; periodic keepalive comments hold idle connections open.
func (s *Server) streamEvents(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	events, unsub := s.bus.Subscribe(32)
	defer unsub()

	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				s.log.Warn("encode stream event", logx.String("type", ev.Type), logx.Err(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
