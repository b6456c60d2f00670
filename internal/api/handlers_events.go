package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"docdex/internal/events"
)

const keepaliveInterval = 15 * time.Second

// streamEvents serves the bus as server-sent events. Each bus event
// becomes one SSE message named after the event type, carrying the wire
// JSON. Slow clients drop events rather than stall the emitter.
func (s *Server) streamEvents(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	ch := make(chan events.WireEvent, 64)
	var unsubs []func()
	for _, t := range []events.Type{
		events.TypeJobStatusChange,
		events.TypeJobProgress,
		events.TypeJobListChange,
		events.TypeLibraryChange,
	} {
		t := t
		unsubs = append(unsubs, s.bus.On(t, func(payload any) {
			ev, err := events.EncodeWire(t, payload)
			if err != nil {
				s.logger.Warn().Err(err).Str("event_type", string(t)).Msg("Wire encode failed")
				return
			}
			select {
			case ch <- ev:
			default:
			}
		}))
	}

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer func() {
			for _, unsub := range unsubs {
				unsub()
			}
		}()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case ev := <-ch:
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
			}
			// Flush errors mean the client went away.
			if err := w.Flush(); err != nil {
				return
			}
		}
	}))
	return nil
}
