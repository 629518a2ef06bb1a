package ws

import (
	"errors"
	"log"

	"github.com/Maarij07/smart-wristband/internal/metrics"
	"github.com/Maarij07/smart-wristband/internal/protocol"
)

// MessageHandler is the callback signature for handling a decoded client
// record. The msg parameter is the concrete struct returned by
// protocol.ParseClientMessage (protocol.AuthMsg, protocol.ChatMsg, ...).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes inbound records to registered handlers based on
// the record type. Payloads that fail to decode earn the sender exactly one
// error record; records with an unknown type are logged and otherwise
// ignored.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty dispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
	}
}

// Register associates a MessageHandler with a record type. A handler
// already registered for the type is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the server's onMessage callback. It decodes the raw bytes
// into a typed record and routes it. Decode failures are answered with the
// wire-contract error record on the offending connection only; the
// connection stays open and no other connection is affected.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := d.parse(conn, data)
	if err != nil {
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		// Known type without a handler: a wiring gap, not a client error.
		log.Printf("ws: no handler registered for type=%q conn=%s", msgType, conn.ID)
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) parse(conn *Connection, data []byte) (string, interface{}, error) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err == nil {
		return msgType, msg, nil
	}

	var unknown *protocol.UnknownTypeError
	if errors.As(err, &unknown) {
		// Unknown record types are observed only: no response, no failure.
		log.Printf("ws: unknown message type=%q conn=%s", unknown.Type, conn.ID)
		return "", nil, err
	}

	log.Printf("ws: dispatch parse error conn=%s: %v", conn.ID, err)
	metrics.DecodeErrorsTotal.Inc()
	d.sendInvalidFormat(conn)
	return "", nil, err
}

// sendInvalidFormat sends the malformed-input error record back to the
// client. Failures here are logged and dropped.
func (d *MessageDispatcher) sendInvalidFormat(conn *Connection) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Message: protocol.ErrInvalidFormat,
	})
	if err != nil {
		log.Printf("ws: failed to build error message conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.Send(data); err != nil {
		log.Printf("ws: failed to send error message conn=%s: %v", conn.ID, err)
	}
}
