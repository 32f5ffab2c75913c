package server

import (
	"encoding/json"
	"log"
)

// SignalingRelay forwards WebRTC negotiation frames between two identities.
// Payloads are never inspected. Frames from one sender reach a recipient in
// the order they were relayed, since each is queued synchronously on the
// sender's read goroutine.
type SignalingRelay struct {
	log      *log.Logger
	registry *Registry
}

func NewSignalingRelay(logger *log.Logger, registry *Registry) *SignalingRelay {
	return &SignalingRelay{
		log:      logger,
		registry: registry,
	}
}

// Relay sends frame to toId with "from" set to fromId and "type" set to kind.
// Every other key of frame is passed through byte for byte.
func (sr *SignalingRelay) Relay(fromId, toId, kind string, frame []byte) bool {
	if toId == "" {
		sr.log.Printf("dropping %q from %q: no recipient", kind, fromId)
		return false
	}

	fields := make(map[string]json.RawMessage)
	if len(frame) > 0 {
		if err := json.Unmarshal(frame, &fields); err != nil {
			sr.log.Printf("dropping %q from %q: %v", kind, fromId, err)
			return false
		}
	}

	from, err := json.Marshal(fromId)
	if err != nil {
		return false
	}
	typ, err := json.Marshal(kind)
	if err != nil {
		return false
	}
	fields["from"] = from
	fields["type"] = typ

	raw, err := json.Marshal(fields)
	if err != nil {
		sr.log.Printf("dropping %q from %q: %v", kind, fromId, err)
		return false
	}

	return sr.registry.SendTo(toId, &ServerMessage{Type: kind, raw: raw})
}
