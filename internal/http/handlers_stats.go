package httpx

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MRC-CLIMB/bryn/internal/ws"
)

const wsPongWait = 60 * time.Second

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.stats.List(req.Context())
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleStatsWS upgrades to a websocket subscribed to hypervisor stats updates.
func (r *Router) handleStatsWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "stats feed unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(ws.TopicHypervisorStats, client)
	r.trackStreamClient("websocket", 1)
	defer func() {
		r.hub.Unregister(ws.TopicHypervisorStats, client)
		r.trackStreamClient("websocket", -1)
		client.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					r.logger.Debug("websocket closed", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Ping(); err != nil {
				return
			}
		}
	}
}

// handleStatsStream serves the same feed as Server-Sent Events.
func (r *Router) handleStatsStream(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "stats feed unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, ws.TopicHypervisorStats, r.logger)
	r.hub.Register(ws.TopicHypervisorStats, client)
	r.trackStreamClient("sse", 1)
	defer func() {
		r.hub.Unregister(ws.TopicHypervisorStats, client)
		r.trackStreamClient("sse", -1)
		client.Close()
	}()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}
