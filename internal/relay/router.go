package relay

import (
	"context"
	"log"
	"time"

	"github.com/Maarij07/smart-wristband/internal/metrics"
	"github.com/Maarij07/smart-wristband/internal/presence"
	"github.com/Maarij07/smart-wristband/internal/protocol"
	"github.com/Maarij07/smart-wristband/internal/ratelimit"
)

// mirrorTimeout bounds best-effort writes to the Redis presence mirror so a
// slow Redis never stalls record routing.
const mirrorTimeout = 3 * time.Second

// Router consumes decoded client records and applies the relay semantics:
// handshake, direct-message delivery, typing relay, and presence updates.
// Every delivery is a single synchronous attempt — no retries, no queues,
// no durability.
//
// The presence store and the rate limiter are optional; either may be nil
// and the router degrades to purely in-memory operation.
type Router struct {
	registry *Registry
	mirror   *presence.Store
	limiter  *ratelimit.Limiter
}

// NewRouter creates a Router over the given registry. mirror and limiter
// may be nil.
func NewRouter(registry *Registry, mirror *presence.Store, limiter *ratelimit.Limiter) *Router {
	return &Router{
		registry: registry,
		mirror:   mirror,
		limiter:  limiter,
	}
}

// Registry exposes the router's registry for transport-side bookkeeping
// (the health endpoint reports its size).
func (rt *Router) Registry() *Registry {
	return rt.registry
}

// HandleAuth performs the session handshake: it builds an identity binding
// from the claimed (unverified) identity, registers it, acknowledges on the
// same connection, and announces the user online to everyone. It cannot
// fail on a well-formed record — malformed ones never get here.
func (rt *Router) HandleAuth(conn Conn, msg protocol.AuthMsg) {
	now := time.Now()

	binding := Binding{
		UserID:      msg.UserID,
		DisplayName: msg.UserName,
		AvatarRef:   msg.UserAvatar,
		Status:      protocol.StatusOnline,
		LastSeenAt:  now,
	}
	rt.registry.Register(conn, binding)
	log.Printf("relay: user authenticated user=%s name=%q", msg.UserID, msg.UserName)

	ack, err := protocol.NewServerMessage(protocol.TypeStatus, protocol.AuthAckMsg{
		Status: protocol.StatusAuthenticated,
		UserID: msg.UserID,
	})
	if err != nil {
		log.Printf("relay: failed to build auth ack user=%s: %v", msg.UserID, err)
	} else if err := conn.Send(ack); err != nil {
		log.Printf("relay: failed to send auth ack user=%s: %v", msg.UserID, err)
	}

	if rt.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := rt.mirror.Set(ctx, msg.UserID, msg.UserName, msg.UserAvatar, protocol.StatusOnline, now); err != nil {
			log.Printf("relay: presence mirror set failed user=%s: %v", msg.UserID, err)
		}
	}

	rt.broadcastPresence(protocol.PresenceMsg{
		UserID:    msg.UserID,
		Status:    protocol.StatusOnline,
		Timestamp: now.Format(time.RFC3339),
	})
}

// HandleMessage routes a direct message. The sender's registered connection
// gets a delivered-stamped echo; the recipient, if registered and open,
// gets the original record annotated delivered. An unreachable recipient is
// a silent best-effort drop, not an error. The delivered stamp reflects
// routing success inside this process, nothing more.
func (rt *Router) HandleMessage(conn Conn, msg protocol.ChatMsg) {
	if rt.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		allowed, _ := rt.limiter.Allow(ctx, msg.SenderID, ratelimit.RuleMessage)
		cancel()
		if !allowed {
			log.Printf("relay: message rate limited sender=%s", msg.SenderID)
			metrics.RecordsTotal.WithLabelValues("rate_limited").Inc()
			return
		}
	}

	deliveredAt := time.Now().Format(time.RFC3339)

	// Echo to the sender's own registered connection as delivery
	// confirmation. The echo carries deliveredAt; it is stamped regardless
	// of whether the recipient is reachable.
	echo, err := protocol.NewServerMessage(protocol.TypeMessage, protocol.DeliveredMsg{
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		Text:           msg.Text,
		Timestamp:      msg.Timestamp,
		DeliveryStatus: protocol.DeliveryDelivered,
		DeliveredAt:    deliveredAt,
	})
	if err != nil {
		log.Printf("relay: failed to build message echo sender=%s: %v", msg.SenderID, err)
		return
	}
	if senderConn, _, ok := rt.registry.Lookup(msg.SenderID); ok {
		if err := senderConn.Send(echo); err != nil {
			log.Printf("relay: message echo push failed sender=%s: %v", msg.SenderID, err)
		}
		metrics.RecordsTotal.WithLabelValues("echoed").Inc()
	}

	recipientConn, _, ok := rt.registry.Lookup(msg.RecipientID)
	if !ok || !recipientConn.IsOpen() {
		// Recipient offline: the message is gone. Offline delivery would
		// hang off this branch, but no message is durably stored here.
		log.Printf("relay: recipient offline, message dropped from=%s to=%s", msg.SenderID, msg.RecipientID)
		metrics.RecordsTotal.WithLabelValues("dropped").Inc()
		return
	}

	forward, err := protocol.NewServerMessage(protocol.TypeMessage, protocol.DeliveredMsg{
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		Text:           msg.Text,
		Timestamp:      msg.Timestamp,
		DeliveryStatus: protocol.DeliveryDelivered,
	})
	if err != nil {
		log.Printf("relay: failed to build message forward to=%s: %v", msg.RecipientID, err)
		return
	}
	if err := recipientConn.Send(forward); err != nil {
		log.Printf("relay: message push failed from=%s to=%s: %v", msg.SenderID, msg.RecipientID, err)
		return
	}
	metrics.RecordsTotal.WithLabelValues("delivered").Inc()
	log.Printf("relay: message delivered from=%s to=%s", msg.SenderID, msg.RecipientID)
}

// HandleTyping forwards a typing indicator to its single recipient. No
// echo, no fan-out, no buffering: staleness has no cost, so an offline
// recipient simply never learns about it.
func (rt *Router) HandleTyping(conn Conn, msg protocol.TypingMsg) {
	recipientConn, _, ok := rt.registry.Lookup(msg.RecipientID)
	if !ok || !recipientConn.IsOpen() {
		metrics.RecordsTotal.WithLabelValues("typing_dropped").Inc()
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeTyping, protocol.ServerTypingMsg{
		UserID:   msg.SenderID,
		IsTyping: msg.IsTyping,
	})
	if err != nil {
		log.Printf("relay: failed to build typing record from=%s: %v", msg.SenderID, err)
		return
	}
	if err := recipientConn.Send(data); err != nil {
		log.Printf("relay: typing push failed from=%s to=%s: %v", msg.SenderID, msg.RecipientID, err)
		return
	}
	metrics.RecordsTotal.WithLabelValues("typing").Inc()
}

// HandleStatus applies an explicit presence change: refresh the binding's
// status and last-seen time, then broadcast. A status record for an
// unregistered userId is silently ignored.
func (rt *Router) HandleStatus(conn Conn, msg protocol.StatusMsg) {
	now := time.Now()

	if _, ok := rt.registry.SetStatus(msg.UserID, msg.Status, now); !ok {
		return
	}

	if rt.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := rt.mirror.SetStatus(ctx, msg.UserID, msg.Status, now); err != nil {
			log.Printf("relay: presence mirror update failed user=%s: %v", msg.UserID, err)
		}
	}

	rt.broadcastPresence(protocol.PresenceMsg{
		UserID:   msg.UserID,
		Status:   msg.Status,
		LastSeen: now.Format(time.RFC3339),
	})
	log.Printf("relay: status update user=%s status=%s", msg.UserID, msg.Status)
}

// HandleDisconnect reacts to a closed transport. Only the current registry
// holder triggers an unregister and an offline broadcast; a connection that
// was already replaced by a newer handshake affects nothing.
func (rt *Router) HandleDisconnect(conn Conn) {
	userID, ok := rt.registry.DropConn(conn)
	if !ok {
		return
	}
	log.Printf("relay: user disconnected user=%s", userID)

	if rt.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := rt.mirror.Delete(ctx, userID); err != nil {
			log.Printf("relay: presence mirror delete failed user=%s: %v", userID, err)
		}
	}

	rt.broadcastPresence(protocol.PresenceMsg{
		UserID:    userID,
		Status:    protocol.StatusOffline,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
