package server

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-livehub/internal/stats"
	"github.com/npezzotti/go-livehub/internal/types"
	"github.com/teris-io/shortid"
)

// BroadcastDirectory tracks which identities are live streaming.
type BroadcastDirectory struct {
	log          *log.Logger
	registry     *Registry
	stats        stats.StatsProvider
	mu           sync.Mutex
	broadcasters map[string]types.Broadcaster
	newStreamId  func(id string) string
}

func NewBroadcastDirectory(logger *log.Logger, registry *Registry, su stats.StatsProvider) *BroadcastDirectory {
	return &BroadcastDirectory{
		log:          logger,
		registry:     registry,
		stats:        su,
		broadcasters: make(map[string]types.Broadcaster),
		newStreamId:  newStreamId,
	}
}

// newStreamId mints a handle that is unique for the life of the process.
func newStreamId(id string) string {
	return fmt.Sprintf("stream_%s_%d_%s", id, time.Now().UnixMilli(), shortid.MustGenerate())
}

// StartBroadcast marks id as live under a fresh stream handle, replacing any
// running broadcast, and announces it.
func (bd *BroadcastDirectory) StartBroadcast(id string) string {
	profile, ok := bd.registry.Profile(id)
	if !ok {
		profile = types.Profile{Id: id}
	}

	streamId := bd.newStreamId(id)

	bd.mu.Lock()
	_, replaced := bd.broadcasters[id]
	bd.broadcasters[id] = types.Broadcaster{Profile: profile, StreamId: streamId}
	bd.mu.Unlock()

	if !replaced {
		bd.stats.Incr(stats.NumLiveBroadcasts)
	}

	bd.log.Printf("%q started broadcasting %q", id, streamId)
	bd.registry.SendTo(id, BroadcastStartedMessage(streamId))
	bd.broadcastList()

	return streamId
}

// StopBroadcast ends the broadcast of id. Viewers are told explicitly so they
// can tear down their peer connections.
func (bd *BroadcastDirectory) StopBroadcast(id string) {
	if bd.remove(id) {
		bd.log.Printf("%q stopped broadcasting", id)
	}

	bd.broadcastList()
	bd.registry.Broadcast(BroadcastEndedMessage(id))
}

// endBroadcastOnDisconnect runs when id goes offline.
func (bd *BroadcastDirectory) endBroadcastOnDisconnect(id string) {
	if !bd.remove(id) {
		return
	}

	bd.log.Printf("%q broadcast ended (disconnected)", id)
	bd.broadcastList()
	bd.registry.Broadcast(BroadcastEndedMessage(id))
}

// RequestWatch tells broadcasterId that viewerId wants to watch. Nothing is
// sent when broadcasterId is not live.
func (bd *BroadcastDirectory) RequestWatch(viewerId, broadcasterId string) bool {
	if !bd.IsLive(broadcasterId) {
		bd.log.Printf("%q asked to watch %q, which is not live", viewerId, broadcasterId)
		return false
	}

	return bd.registry.SendTo(broadcasterId, ViewerJoinedMessage(viewerId))
}

func (bd *BroadcastDirectory) Snapshot() []types.Broadcaster {
	bd.mu.Lock()
	defer bd.mu.Unlock()

	return bd.snapshot()
}

// snapshot must be called with bd.mu held.
func (bd *BroadcastDirectory) snapshot() []types.Broadcaster {
	broadcasters := make([]types.Broadcaster, 0, len(bd.broadcasters))
	for _, b := range bd.broadcasters {
		broadcasters = append(broadcasters, b)
	}
	return broadcasters
}

func (bd *BroadcastDirectory) IsLive(id string) bool {
	bd.mu.Lock()
	defer bd.mu.Unlock()

	_, ok := bd.broadcasters[id]
	return ok
}

// SendList sends the current broadcaster list to id alone.
func (bd *BroadcastDirectory) SendList(id string) bool {
	bd.mu.Lock()
	defer bd.mu.Unlock()

	return bd.registry.SendTo(id, LiveBroadcastersMessage(bd.snapshot()))
}

func (bd *BroadcastDirectory) remove(id string) bool {
	bd.mu.Lock()
	_, ok := bd.broadcasters[id]
	delete(bd.broadcasters, id)
	bd.mu.Unlock()

	if ok {
		bd.stats.Decr(stats.NumLiveBroadcasts)
	}
	return ok
}

// broadcastList queues the list while holding bd.mu, so lists reach every
// connection in the order their snapshots were taken. Queueing never
// blocks, and the registry never calls back into the directory.
func (bd *BroadcastDirectory) broadcastList() {
	bd.mu.Lock()
	defer bd.mu.Unlock()

	bd.registry.Broadcast(LiveBroadcastersMessage(bd.snapshot()))
}
