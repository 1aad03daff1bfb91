package routes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"tokensale/observability"
	"tokensale/observability/eventlog"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamBuffer       = 256
)

var errStreamLagged = errors.New("event stream lagged")

// EventFeed delivers events as they are committed.
type EventFeed interface {
	Subscribe(buffer int) (<-chan eventlog.Record, func())
}

// streamEvents replays the log after the requested cursor and then follows
// live events over a websocket. A client that falls behind is disconnected
// with StatusTryAgainLater and resumes from the last sequence it received.
func (h *saleHandlers) streamEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	after, err := parseCursor(query.Get("after"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	eventType := strings.TrimSpace(query.Get("type"))

	// Subscribe before reading the backlog so nothing committed in between is missed.
	live, cancel := h.feed.Subscribe(streamBuffer)
	defer cancel()

	// Server read and write timeouts would otherwise end long-lived streams.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	defer observability.Gateway().StreamOpened()()

	ctx := conn.CloseRead(r.Context())
	err = h.stream(ctx, conn, live, after, eventType)
	switch {
	case errors.Is(err, errStreamLagged):
		_ = conn.Close(websocket.StatusTryAgainLater, "resume from last sequence")
	case err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil:
		h.logger.Warn("event stream failed", slog.String("error", err.Error()))
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

func (h *saleHandlers) stream(ctx context.Context, conn *websocket.Conn, live <-chan eventlog.Record, cursor int64, eventType string) error {
	for {
		records, err := h.events.List(ctx, cursor, eventType, maxEventPage)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := writeEvent(ctx, conn, rec); err != nil {
				return err
			}
			cursor = rec.Sequence
		}
		if len(records) < maxEventPage {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-live:
			if !ok {
				return errStreamLagged
			}
			if rec.Sequence <= cursor || (eventType != "" && rec.Type != eventType) {
				continue
			}
			if err := writeEvent(ctx, conn, rec); err != nil {
				return err
			}
			cursor = rec.Sequence
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, rec eventlog.Record) error {
	data, err := json.Marshal(newEventViews([]eventlog.Record{rec})[0])
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
