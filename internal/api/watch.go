package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers are already allowed in by the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchJob handles GET /v1/jobs/{jobId}/watch. It upgrades to a websocket
// and writes a JSON snapshot of the job on every change, starting with the
// current one. The connection is closed normally after the terminal snapshot.
func (h *Handler) WatchJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.jobID(w, r)
	if !ok {
		return
	}

	updates, stop, err := h.svc.Watch(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	defer stop()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		slog.Warn("Websocket upgrade failed", "jobId", jobID, "error", err)
		return
	}
	defer conn.Close()

	logger := slog.With("component", "watch", "jobId", jobID)

	// The read loop handles pongs and notices when the client goes away.
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("Watch client error", "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case snapshot, ok := <-updates:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snapshot); err != nil {
				logger.Debug("Watch write failed", "error", err)
				return
			}
		}
	}
}
