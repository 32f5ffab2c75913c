package server

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-livehub/internal/stats"
	"github.com/npezzotti/go-livehub/internal/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	// maxDroppedEvents is how many events in a row may be dropped on a full
	// send buffer before the connection is closed.
	maxDroppedEvents = 64
)

type connState int

const (
	stateConnecting connState = iota
	stateRegistered
	stateClosed
)

type Client struct {
	id    string
	conn  *websocket.Conn
	hub   *Hub
	log   *log.Logger
	stats stats.StatsProvider
	send  chan *ServerMessage
	stop  chan struct{}

	stopOnce sync.Once
	closed   atomic.Bool
	dropped  atomic.Int32

	// owned by the read goroutine
	state    connState
	identity string
	profile  types.Profile
}

func NewClient(conn *websocket.Conn, h *Hub, l *log.Logger, su stats.StatsProvider) *Client {
	return &Client{
		id:    uuid.NewString(),
		conn:  conn,
		hub:   h,
		log:   l,
		stats: su,
		send:  make(chan *ServerMessage, h.sendBufferSize),
		stop:  make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("connection %s: write exiting", c.id)
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				c.stopClient()
				return
			}
		case <-c.stop:
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait),
			)
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				c.stopClient()
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.stopClient()
		c.hub.disconnect(c)
		c.log.Printf("connection %s: read exiting", c.id)
	}()

	c.conn.SetReadLimit(c.hub.maxMessageSize)
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		if c.state == stateRegistered || c.hub.initTimeout == 0 {
			c.extendReadDeadline()
		}
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		msg, err := parseClientMessage(raw)
		if err != nil {
			c.log.Printf("connection %s: error parsing message: %v", c.id, err)
			c.queueMessage(ErrInvalidMessage())
			continue
		}

		connecting := c.state == stateConnecting
		c.hub.dispatch(c, msg)
		if connecting && c.state == stateRegistered {
			// init went through; the pong wait replaces the init timeout
			c.extendReadDeadline()
		}
	}
}

// extendReadDeadline sets how long the next read may block. Until the
// connection registers, the init timeout applies instead of the pong wait.
func (c *Client) extendReadDeadline() {
	wait := pongWait
	if c.state == stateConnecting && c.hub.initTimeout > 0 {
		wait = c.hub.initTimeout
	}
	c.conn.SetReadDeadline(time.Now().Add(wait))
}

// queueMessage hands msg to the write goroutine without blocking. Events are
// dropped when the buffer is full, and a connection that keeps its buffer
// full is closed.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	if c.closed.Load() {
		return false
	}

	select {
	case c.send <- msg:
		c.dropped.Store(0)
		return true
	default:
	}

	if c.stats != nil {
		c.stats.Incr(stats.NumDroppedEvents)
	}

	if c.dropped.Add(1) >= maxDroppedEvents {
		c.log.Printf("connection %s: send buffer saturated, closing", c.id)
		c.stopClient()
	} else {
		c.log.Printf("connection %s: failed to send %q, channel is full", c.id, msg.Type)
	}

	return false
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// stopClient marks the connection closed and tells the write goroutine to
// exit. It is safe to call more than once.
func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
	})
}

func (c *Client) Id() string {
	return c.id
}
