package relay

import (
	"log"

	"github.com/Maarij07/smart-wristband/internal/metrics"
	"github.com/Maarij07/smart-wristband/internal/protocol"
)

// broadcastPresence pushes a presence record to every open registered
// connection, including the one whose activity triggered it. Each push is
// isolated: a failing connection is logged and skipped so it cannot keep
// the record from the rest.
func (rt *Router) broadcastPresence(msg protocol.PresenceMsg) {
	data, err := protocol.NewServerMessage(protocol.TypeStatus, msg)
	if err != nil {
		log.Printf("relay: failed to build presence record user=%s: %v", msg.UserID, err)
		return
	}

	conns := rt.registry.Snapshot()
	for _, c := range conns {
		if err := c.Send(data); err != nil {
			log.Printf("relay: presence push failed user=%s: %v", msg.UserID, err)
		}
	}
	metrics.RecordsTotal.WithLabelValues("broadcast").Add(float64(len(conns)))
	metrics.BroadcastFanout.Observe(float64(len(conns)))
}
