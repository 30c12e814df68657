package api

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/wagerarena/internal/match"
	"github.com/rawblock/wagerarena/internal/session"
)

// handleWebSocket upgrades the connection and hands it to a new
// internal/session.Session bound to the match named in the URL. Every
// connected session registers its own Subscriber on the Match so the
// same tick's snapshot and events reach all members, not just whichever
// session happens to win the receive on a shared channel.
func (h *Handler) handleWebSocket(c *gin.Context) {
	matchID := c.Param("match_id")
	rt := h.controller.ByMatchID(matchID)
	if rt == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
		return
	}
	sim := rt.Sim
	if sim == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "match not yet running"})
		return
	}

	conn, err := session.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	sub := sim.Subscribe()
	defer sim.Unsubscribe(sub)

	sess := session.New(conn, sim, h.controller, matchID, h.jwtSecret, h.tickRate)
	go fanOut(c.Request.Context(), sess, sub)
	sess.Run()
}

// fanOut bridges one session's Subscriber to its outbound writer until the
// match ends or the request context is cancelled (connection closed).
func fanOut(ctx context.Context, sess *session.Session, sub *match.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			if err := sess.WriteSnapshot(snap); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := sess.WriteEvent(ev); err != nil {
				return
			}
			if ev.Kind == match.EventEnd {
				return
			}
		}
	}
}
