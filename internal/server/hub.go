package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-livehub/internal/database"
	"github.com/npezzotti/go-livehub/internal/stats"
	"github.com/npezzotti/go-livehub/internal/types"
)

const (
	storeTimeout  = 10 * time.Second
	mirrorTimeout = 2 * time.Second

	defaultSendBufferSize = 256
	defaultMaxMessageSize = 64 * 1024
)

// PresenceMirror publishes presence changes outside the process. Failures are
// logged and otherwise ignored.
type PresenceMirror interface {
	SetOnline(ctx context.Context, profile types.Profile) error
	SetOffline(ctx context.Context, id string) error
}

type Option func(*Hub)

func WithInitTimeout(d time.Duration) Option {
	return func(h *Hub) { h.initTimeout = d }
}

func WithSendBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBufferSize = n
		}
	}
}

func WithMaxMessageSize(n int64) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxMessageSize = n
		}
	}
}

func WithPresenceMirror(p PresenceMirror) Option {
	return func(h *Hub) { h.presence = p }
}

// Hub owns every connection: it runs their read and write goroutines,
// dispatches their events and cleans up after them.
type Hub struct {
	log        *log.Logger
	stats      stats.StatsProvider
	registry   *Registry
	messaging  *MessagingService
	broadcasts *BroadcastDirectory
	relay      *SignalingRelay
	presence   PresenceMirror
	// mirrorMu orders mirror writes with the registry state they reflect
	mirrorMu sync.Mutex

	clients      map[*Client]struct{}
	clientsLock  sync.Mutex
	shuttingDown bool
	wg           sync.WaitGroup

	initTimeout    time.Duration
	sendBufferSize int
	maxMessageSize int64
}

func NewHub(logger *log.Logger, db database.MessageStore, su stats.StatsProvider, opts ...Option) *Hub {
	for _, name := range []string{
		stats.NumActiveConnections,
		stats.NumOnlineUsers,
		stats.NumLiveBroadcasts,
		stats.NumMessagesSent,
		stats.NumDroppedEvents,
	} {
		su.RegisterMetric(name)
	}

	registry := NewRegistry(logger, su)
	h := &Hub{
		log:            logger,
		stats:          su,
		registry:       registry,
		messaging:      NewMessagingService(logger, db, registry, su),
		broadcasts:     NewBroadcastDirectory(logger, registry, su),
		relay:          NewSignalingRelay(logger, registry),
		clients:        make(map[*Client]struct{}),
		sendBufferSize: defaultSendBufferSize,
		maxMessageSize: defaultMaxMessageSize,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) Broadcasts() *BroadcastDirectory {
	return h.broadcasts
}

// Connect takes ownership of conn and starts serving it.
func (h *Hub) Connect(conn *websocket.Conn) (*Client, error) {
	c := NewClient(conn, h, h.log, h.stats)

	if !h.addClient(c) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseServiceRestart, "shutting down"),
			time.Now().Add(writeWait),
		)
		conn.Close()
		return nil, errShuttingDown
	}

	h.log.Printf("connection %s opened from %s", c.id, conn.RemoteAddr())

	go func() {
		defer h.wg.Done()
		c.Write()
	}()
	go func() {
		defer h.wg.Done()
		c.Read()
	}()

	return c, nil
}

var errShuttingDown = errors.New("hub is shutting down")

func (h *Hub) addClient(c *Client) bool {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	if h.shuttingDown {
		return false
	}

	h.clients[c] = struct{}{}
	// counted under the lock so Shutdown cannot start waiting before the
	// pumps of an accepted client are accounted for
	h.wg.Add(2)
	h.stats.Incr(stats.NumActiveConnections)
	return true
}

func (h *Hub) removeClient(c *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.stats.Decr(stats.NumActiveConnections)
	}
}

// dispatch handles one inbound event on c's read goroutine.
func (h *Hub) dispatch(c *Client, msg *ClientMessage) {
	if c.state != stateRegistered && msg.Type != EventInit {
		h.log.Printf("connection %s: ignoring %q before init", c.id, msg.Type)
		return
	}

	switch msg.Type {
	case EventInit:
		h.handleInit(c, msg)
	case EventGetChatHistory:
		h.handleGetChatHistory(c, msg)
	case EventPrivateMessage:
		h.handlePrivateMessage(c, msg)
	case EventStartBroadcast:
		h.broadcasts.StartBroadcast(c.identity)
	case EventStopBroadcast:
		h.broadcasts.StopBroadcast(c.identity)
	case EventWatchStream:
		h.broadcasts.RequestWatch(c.identity, msg.BroadcasterId)
	case EventOffer, EventAnswer, EventCandidate, EventIceCandidate:
		h.relay.Relay(c.identity, msg.To, msg.Type, msg.raw)
	default:
		h.log.Printf("connection %s: unknown event %q", c.id, msg.Type)
		c.queueMessage(ErrBadRequest(msg.Type, nil, ErrUnknownEvent.Error()))
	}
}

func (h *Hub) handleInit(c *Client, msg *ClientMessage) {
	if msg.User == nil || msg.User.Id == "" {
		h.log.Printf("connection %s: %v", c.id, ErrInvalidProfile)
		c.queueMessage(ErrBadRequest(msg.Type, nil, ErrInvalidProfile.Error()))
		return
	}

	profile := *msg.User
	if c.state == stateRegistered && c.identity != profile.Id {
		// the connection switched identities; the old one goes offline
		h.release(c, c.identity)
	}

	c.state = stateRegistered
	c.identity = profile.Id
	c.profile = profile

	h.log.Printf("connection %s registered as %q", c.id, profile.Id)
	h.registry.Register(profile.Id, profile, c)
	h.broadcasts.SendList(profile.Id)
	h.mirrorOnline(c, profile)
}

func (h *Hub) handleGetChatHistory(c *Client, msg *ClientMessage) {
	partnerId := msg.partner()
	if partnerId == "" {
		c.queueMessage(ErrBadRequest(msg.Type, nil, "partnerId: "+ErrMissingRecipient.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	history, err := h.messaging.GetHistory(ctx, c.identity, partnerId)
	if err != nil {
		h.reject(c, msg, err)
		return
	}

	c.queueMessage(ChatHistoryMessage(history))
}

func (h *Hub) handlePrivateMessage(c *Client, msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if _, err := h.messaging.SendPrivateMessage(ctx, c, msg.To, msg.Text, msg.TempId); err != nil {
		h.reject(c, msg, err)
	}
}

// reject reports err to the connection that sent msg.
func (h *Hub) reject(c *Client, msg *ClientMessage, err error) {
	var (
		validationErr  *ValidationError
		persistenceErr *PersistenceError
	)

	switch {
	case errors.As(err, &validationErr):
		c.queueMessage(ErrBadRequest(msg.Type, msg.TempId, validationErr.Error()))
	case errors.As(err, &persistenceErr):
		h.log.Printf("connection %s: %s: %v", c.id, msg.Type, err)
		c.queueMessage(ErrInternalError(msg.Type, msg.TempId))
	default:
		h.log.Printf("connection %s: %s: %v", c.id, msg.Type, err)
		c.queueMessage(ErrInternalError(msg.Type, msg.TempId))
	}
}

// disconnect runs once, when c's read goroutine exits.
func (h *Hub) disconnect(c *Client) {
	h.removeClient(c)

	if c.state == stateRegistered {
		h.release(c, c.identity)
	}
	c.state = stateClosed

	h.log.Printf("connection %s closed", c.id)
}

// release takes id offline if it is still bound to c.
func (h *Hub) release(c *Client, id string) {
	if !h.registry.unregisterClient(id, c) {
		return
	}

	h.broadcasts.endBroadcastOnDisconnect(id)
	h.mirrorOffline(id)
	h.log.Printf("%q disconnected", id)
}

// mirrorOnline publishes profile while c still holds the identity. A
// connection that has been superseded in the meantime publishes nothing.
func (h *Hub) mirrorOnline(c *Client, profile types.Profile) {
	if h.presence == nil {
		return
	}

	h.mirrorMu.Lock()
	defer h.mirrorMu.Unlock()

	if owner, ok := h.registry.Lookup(profile.Id); !ok || owner != c {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	if err := h.presence.SetOnline(ctx, profile); err != nil {
		h.log.Printf("presence mirror: set online %q: %v", profile.Id, err)
	}
}

// mirrorOffline removes id unless another connection registered it again
// after it was released.
func (h *Hub) mirrorOffline(id string) {
	if h.presence == nil {
		return
	}

	h.mirrorMu.Lock()
	defer h.mirrorMu.Unlock()

	if _, ok := h.registry.Lookup(id); ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	if err := h.presence.SetOffline(ctx, id); err != nil {
		h.log.Printf("presence mirror: set offline %q: %v", id, err)
	}
}

// Shutdown closes every connection and waits for their goroutines to exit
// or for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Println("received shutdown signal")

	h.clientsLock.Lock()
	h.shuttingDown = true
	for c := range h.clients {
		c.stopClient()
	}
	h.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
