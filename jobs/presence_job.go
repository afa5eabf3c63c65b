package jobs

import (
	"context"
	"log"
	"time"

	"github.com/kevinochieng254/giglink/services"
	"github.com/kevinochieng254/giglink/websocket"
)

const presenceMaxAge = 2 * time.Minute

// SweepStalePresence returns a cron job that removes presence entries whose
// heartbeat went stale. A cleanly disconnecting socket removes its own
// entry; this catches the ones orphaned by a crashed process.
func SweepStalePresence(presence *services.Presence, bridge *services.Bridge) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		removed, err := presence.SweepStale(ctx, presenceMaxAge)
		if err != nil {
			log.Printf("Error sweeping stale presence entries: %v", err)
			return
		}
		if len(removed) == 0 {
			return
		}

		log.Printf("Swept %d stale presence entries", len(removed))
		for _, userID := range removed {
			err := bridge.EmitAll(ctx, websocket.EventUserOffline, map[string]interface{}{"user_id": userID})
			if err != nil {
				log.Printf("Failed to broadcast user_offline for %s: %v", userID, err)
			}
		}
	}
}
