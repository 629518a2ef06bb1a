package ws

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection open states. A connection is writable only while open;
// closing means a failure was detected and teardown is underway.
const (
	StateOpen int32 = iota
	StateClosing
	StateClosed
)

var (
	// ErrConnClosed is returned by Send on a connection that is no longer
	// open.
	ErrConnClosed = errors.New("ws: connection closed")

	// ErrSendQueueFull is returned by Send when the outbound queue is full.
	// The connection is torn down as a side effect: a peer that cannot
	// drain its queue is disconnected rather than allowed to block senders.
	ErrSendQueueFull = errors.New("ws: outbound queue full")
)

// outboundQueueSize bounds the per-connection write queue. Small on
// purpose — a wristband client that falls this far behind is gone anyway.
const outboundQueueSize = 64

// frame is one queued outbound WebSocket frame.
type frame struct {
	op      ws.OpCode
	payload []byte
}

// Connection represents a single WebSocket client connection. All outbound
// frames go through a bounded queue drained by one writer goroutine, so
// Send never blocks and concurrent callers never interleave frame bytes.
type Connection struct {
	ID        string    // connection id (UUID), assigned at upgrade
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor for poller lookups
	CreatedAt time.Time // when the connection was established

	out        chan frame
	done       chan struct{}
	state      atomic.Int32
	lastActive atomic.Int64 // unix nanos of last inbound activity
	processing int32        // CAS flag: 0 = idle, 1 = being read by handleConn
	closeOnce  sync.Once

	// onDead is invoked (once, from a fresh goroutine) when a write fails
	// or the queue overflows. The server uses it to run full teardown.
	onDead func(*Connection)
}

func newConnection(id string, conn net.Conn, fd int) *Connection {
	c := &Connection{
		ID:        id,
		Conn:      conn,
		Fd:        fd,
		CreatedAt: time.Now(),
		out:       make(chan frame, outboundQueueSize),
		done:      make(chan struct{}),
	}
	c.touch()
	return c
}

// Send queues a text frame for delivery. It never blocks: a closed
// connection returns ErrConnClosed, and a full queue returns
// ErrSendQueueFull after initiating teardown of this connection.
func (c *Connection) Send(payload []byte) error {
	return c.enqueue(frame{op: ws.OpText, payload: payload})
}

// Ping queues a protocol-level ping frame (opcode 0x9). Browsers answer
// these automatically with a pong.
func (c *Connection) Ping() error {
	return c.enqueue(frame{op: ws.OpPing})
}

func (c *Connection) enqueue(f frame) error {
	if c.state.Load() != StateOpen {
		return ErrConnClosed
	}
	select {
	case c.out <- f:
		return nil
	default:
		c.fail()
		return ErrSendQueueFull
	}
}

// writeLoop drains the outbound queue onto the wire. It is the only
// goroutine that writes data frames to the connection. A write error kills
// the connection; the loop exits when the connection is closed.
func (c *Connection) writeLoop(timeout time.Duration) {
	for {
		select {
		case f := <-c.out:
			if timeout > 0 {
				_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
			}
			var err error
			if f.op == ws.OpPing {
				err = ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
			} else {
				err = wsutil.WriteServerMessage(c.Conn, f.op, f.payload)
			}
			_ = c.Conn.SetWriteDeadline(time.Time{})
			if err != nil {
				c.fail()
				return
			}
		case <-c.done:
			return
		}
	}
}

// fail transitions the connection from open to closing exactly once and
// schedules teardown through the onDead hook.
func (c *Connection) fail() {
	if c.state.CompareAndSwap(StateOpen, StateClosing) {
		if c.onDead != nil {
			go c.onDead(c)
		}
	}
}

// IsOpen reports whether the connection still accepts outbound frames.
func (c *Connection) IsOpen() bool {
	return c.state.Load() == StateOpen
}

// touch records inbound activity for the heartbeat monitor.
func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last inbound frame (data or control).
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Close closes the underlying network connection and stops the writer.
// Safe to call multiple times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(StateClosed)
		close(c.done)
		err = c.Conn.Close()
	})
	return err
}

// ConnectionManager is a thread-safe registry of live transport
// connections, mapping connection IDs and file descriptors to Connection
// objects. It tracks raw transports only; identity lives in the relay
// registry.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection // connection id -> Connection
	byFd map[int]*Connection    // fd -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a new connection in both lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by ID, closes the underlying network
// connection, and removes it from both lookup maps. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byFd, conn.Fd)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	return cm.GetByFd(socketFD(c))
}

// Count returns the current number of live connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
