package server

import (
	"testing"

	"github.com/npezzotti/go-livehub/internal/database"
	"github.com/npezzotti/go-livehub/internal/stats"
	"github.com/npezzotti/go-livehub/internal/testutil"
	"github.com/npezzotti/go-livehub/internal/types"
	"github.com/stretchr/testify/mock"
)

// newTestStats returns a stats mock that accepts any update.
func newTestStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

func newTestHub(t *testing.T, db database.MessageStore, opts ...Option) *Hub {
	if db == nil {
		db = database.NewMemoryMessageStore()
	}
	return NewHub(testutil.TestLogger(t), db, newTestStats(), opts...)
}

// newTestClient returns a client without a network connection.
func newTestClient(t *testing.T, h *Hub, id string) *Client {
	return &Client{
		id:    id,
		hub:   h,
		log:   testutil.TestLogger(t),
		stats: h.stats,
		send:  make(chan *ServerMessage, 256),
		stop:  make(chan struct{}),
	}
}

// registerTestClient registers a connection-less client under id and drains
// the events its registration produced.
func registerTestClient(t *testing.T, h *Hub, id string) *Client {
	c := newTestClient(t, h, "conn-"+id)
	c.state = stateRegistered
	c.identity = id
	c.profile = types.Profile{Id: id, Username: id}
	h.registry.Register(id, c.profile, c)
	drain(c)
	return c
}

// drain returns every event queued for c.
func drain(c *Client) []*ServerMessage {
	var msgs []*ServerMessage
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func ofType(msgs []*ServerMessage, typ string) []*ServerMessage {
	var res []*ServerMessage
	for _, msg := range msgs {
		if msg.Type == typ {
			res = append(res, msg)
		}
	}
	return res
}
