package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const realtimeEventReady = "ready"

// handleGameEvents streams committed changes of one game as server-sent events
// until the client disconnects or the game is deleted. A heartbeat keeps idle proxies from closing the stream.
func (h *httpHandler) handleGameEvents(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.ledger.GetGame(ctx, gameID); err != nil {
		h.respondError(c, err)
		return
	}

	stream, cleanup := h.realtime.Subscribe(ctx, gameID.String())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(realtimeEventReady, newRealtimeEventPayload(RealtimeMessage{GameID: gameID.String(), Timestamp: time.Now().UTC()}))
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	h.logger.Debug("realtime stream opened", zap.String("game_id", gameID.String()))
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, newRealtimeEventPayload(message))
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, newRealtimeEventPayload(RealtimeMessage{GameID: gameID.String(), Timestamp: tick.UTC()}))
			return true
		}
	})
	h.logger.Debug("realtime stream closed", zap.String("game_id", gameID.String()))
}
