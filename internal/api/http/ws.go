package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"nhooyr.io/websocket"

	"pulseoracle/internal/metrics"
)

// WS upgrades the request and streams every oracle event to the client as
// JSON text frames. Subscribers that fall behind the bus capacity lose the
// oldest events and keep receiving from the live edge; the stream never
// pushes backpressure onto the publisher.
func (a *API) WS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		a.log.Warnf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	sub := a.oracle.Subscribe()
	defer sub.Close()

	metrics.Subscribers.Inc()
	defer metrics.Subscribers.Dec()

	a.log.Debugf("Websocket subscriber connected: %s", r.RemoteAddr)

	// inbound frames are ignored; CloseRead surfaces client disconnect as
	// context cancellation
	ctx := conn.CloseRead(r.Context())

	for {
		ev, skipped, err := sub.Recv(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				a.log.Debugf("Websocket subscriber %s stream ended: %v", r.RemoteAddr, err)
			}
			break
		}

		if skipped > 0 {
			a.log.Warnf("Websocket subscriber %s lagged, skipped %d events", r.RemoteAddr, skipped)
		}

		data, err := json.Marshal(ev)
		if err != nil {
			a.log.Errorf("Failed to marshal %s event: %v", ev.Type, err)
			continue
		}

		if err := a.writeFrame(ctx, conn, data); err != nil {
			break
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

func (a *API) writeFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, a.wsWriteTimeout)
	defer cancel()

	return conn.Write(writeCtx, websocket.MessageText, data)
}
