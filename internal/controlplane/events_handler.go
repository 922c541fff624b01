package controlplane

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/pixrelay/pixrelay/internal/uploader"
)

const eventsWriteTimeout = 20 * time.Second

type EventsHandler struct {
	services *Services
}

func NewEventsHandler(services *Services) *EventsHandler {
	return &EventsHandler{
		services: services,
	}
}

// Stream upgrades to a websocket and feeds one run's typed events to the
// client as JSON, ending with the done event. The stream is
// single-consumer: a second subscriber on the same run splits the feed.
//
// For a run that already settled the socket delivers a synthetic done
// event and closes, so late clients still get the result.
func (h *EventsHandler) Stream(c *gin.Context) {
	id := c.Query("request_id")
	if id == "" {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest,
			errors.New("request_id query parameter is required"))
		return
	}

	run, live := h.services.Runs.Get(id)
	var settled *uploader.AggregateResult
	if live {
		settled = run.Result()
	} else {
		res, tracked := h.services.Coordinator.Result(id)
		if !tracked {
			AbortWithError(c, http.StatusNotFound, ErrCodeRunNotFound,
				errors.New("no run with this request id"))
			return
		}
		settled = res
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("events socket accept", "request_id", id, "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(512)

	// The stream is one-way. CloseRead keeps control frames serviced
	// and cancels the context once the peer goes away.
	ctx := conn.CloseRead(c.Request.Context())

	if settled != nil {
		ev := uploader.RunEvent{Type: uploader.RunEventDone, Result: settled}
		if err := writeEvent(ctx, conn, ev); err != nil {
			warnEventWrite(id, err)
			return
		}
		conn.Close(websocket.StatusNormalClosure, "run already settled")
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "connection closed")
			return

		case ev, ok := <-run.Events():
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "run settled")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				warnEventWrite(id, err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev uploader.RunEvent) error {
	writeCtx, cancel := context.WithTimeout(ctx, eventsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, ev)
}

func warnEventWrite(id string, err error) {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return
	}
	if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusNoStatusRcvd {
		return
	}
	slog.Warn("events socket write", "request_id", id, "error", err)
}
