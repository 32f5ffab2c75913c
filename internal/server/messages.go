package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/npezzotti/go-livehub/internal/types"
)

// inbound event types
const (
	EventInit           = "init"
	EventGetChatHistory = "getChatHistory"
	EventPrivateMessage = "privateMessage"
	EventStartBroadcast = "startBroadcast"
	EventStopBroadcast  = "stopBroadcast"
	EventWatchStream    = "watchStream"
	EventOffer          = "offer"
	EventAnswer         = "answer"
	EventCandidate      = "candidate"
	// EventIceCandidate is the name older clients use for EventCandidate.
	EventIceCandidate = "iceCandidate"
)

// outbound event types
const (
	EventOnlineUsers      = "onlineUsers"
	EventLiveBroadcasters = "liveBroadcasters"
	EventChatHistory      = "chatHistory"
	EventMessage          = "message"
	EventMessageSent      = "messageSent"
	EventMessagesSeen     = "messagesSeen"
	EventBroadcastStarted = "broadcastStarted"
	EventBroadcastEnded   = "broadcastEnded"
	EventViewerJoined     = "viewerJoined"
	EventError            = "error"
)

type ClientMessage struct {
	Type          string          `json:"type"`
	User          *types.Profile  `json:"user,omitempty"`
	PartnerId     string          `json:"partnerId,omitempty"`
	ChatPartnerId string          `json:"chatPartnerId,omitempty"`
	To            string          `json:"to,omitempty"`
	Text          string          `json:"text,omitempty"`
	TempId        json.RawMessage `json:"tempId,omitempty"`
	BroadcasterId string          `json:"broadcasterId,omitempty"`
	raw           []byte
}

func parseClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &ProtocolError{Err: err}
	}

	if msg.Type == "" {
		return nil, &ProtocolError{Err: errMissingType}
	}

	msg.raw = raw
	return &msg, nil
}

// partner returns the chat partner of a getChatHistory request.
func (m *ClientMessage) partner() string {
	if m.PartnerId != "" {
		return m.PartnerId
	}
	return m.ChatPartnerId
}

// ServerMessage is a single outbound event. Exactly one of the embedded
// payloads is set; their fields are flattened next to "type" on the wire.
type ServerMessage struct {
	Type string `json:"type"`
	*OnlineUsers
	*LiveBroadcasters
	*ChatHistory
	*ChatMessage
	*MessageSent
	*MessagesSeen
	*BroadcastStarted
	*BroadcastEnded
	*ViewerJoined
	*Rejection
	// raw holds a pre-encoded frame that is written as is.
	raw []byte
}

type OnlineUsers struct {
	Users []types.Profile `json:"users"`
}

type LiveBroadcasters struct {
	Broadcasters []types.Broadcaster `json:"broadcasters"`
}

type ChatHistory struct {
	Messages []types.Message `json:"messages"`
}

type ChatMessage struct {
	Id        int64     `json:"id,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageSent struct {
	TempId  json.RawMessage `json:"tempId,omitempty"`
	Message ChatMessage     `json:"message"`
}

type MessagesSeen struct {
	SeenBy string `json:"seenBy"`
	ChatId string `json:"chatId"`
}

type BroadcastStarted struct {
	StreamId string `json:"streamId"`
}

type BroadcastEnded struct {
	BroadcasterId string `json:"broadcasterId"`
}

type ViewerJoined struct {
	ViewerId string `json:"viewerId"`
}

// Rejection reports a failed inbound event to the connection that sent it.
type Rejection struct {
	Code  int             `json:"code"`
	Error string          `json:"error"`
	Event string          `json:"event,omitempty"`
	Ref   json.RawMessage `json:"ref,omitempty"`
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	if msg.raw != nil {
		return msg.raw, nil
	}
	return json.Marshal(msg)
}

func OnlineUsersMessage(users []types.Profile) *ServerMessage {
	if users == nil {
		users = []types.Profile{}
	}
	return &ServerMessage{
		Type:        EventOnlineUsers,
		OnlineUsers: &OnlineUsers{Users: users},
	}
}

func LiveBroadcastersMessage(broadcasters []types.Broadcaster) *ServerMessage {
	if broadcasters == nil {
		broadcasters = []types.Broadcaster{}
	}
	return &ServerMessage{
		Type:             EventLiveBroadcasters,
		LiveBroadcasters: &LiveBroadcasters{Broadcasters: broadcasters},
	}
}

func ChatHistoryMessage(messages []types.Message) *ServerMessage {
	if messages == nil {
		messages = []types.Message{}
	}
	return &ServerMessage{
		Type:        EventChatHistory,
		ChatHistory: &ChatHistory{Messages: messages},
	}
}

func newChatMessage(msg types.Message) ChatMessage {
	return ChatMessage{
		Id:        msg.Id,
		From:      msg.SenderId,
		To:        msg.ReceiverId,
		Text:      msg.Content,
		Timestamp: msg.CreatedAt,
	}
}

func PrivateMessage(msg types.Message) *ServerMessage {
	cm := newChatMessage(msg)
	return &ServerMessage{
		Type:        EventMessage,
		ChatMessage: &cm,
	}
}

func MessageSentMessage(tempId json.RawMessage, msg types.Message) *ServerMessage {
	return &ServerMessage{
		Type: EventMessageSent,
		MessageSent: &MessageSent{
			TempId:  tempId,
			Message: newChatMessage(msg),
		},
	}
}

func MessagesSeenMessage(seenBy, chatId string) *ServerMessage {
	return &ServerMessage{
		Type:         EventMessagesSeen,
		MessagesSeen: &MessagesSeen{SeenBy: seenBy, ChatId: chatId},
	}
}

func BroadcastStartedMessage(streamId string) *ServerMessage {
	return &ServerMessage{
		Type:             EventBroadcastStarted,
		BroadcastStarted: &BroadcastStarted{StreamId: streamId},
	}
}

func BroadcastEndedMessage(broadcasterId string) *ServerMessage {
	return &ServerMessage{
		Type:           EventBroadcastEnded,
		BroadcastEnded: &BroadcastEnded{BroadcasterId: broadcasterId},
	}
}

func ViewerJoinedMessage(viewerId string) *ServerMessage {
	return &ServerMessage{
		Type:         EventViewerJoined,
		ViewerJoined: &ViewerJoined{ViewerId: viewerId},
	}
}

func ErrInvalidMessage() *ServerMessage {
	return &ServerMessage{
		Type: EventError,
		Rejection: &Rejection{
			Code:  http.StatusBadRequest,
			Error: "invalid message format",
		},
	}
}

func ErrBadRequest(event string, ref json.RawMessage, reason string) *ServerMessage {
	return &ServerMessage{
		Type: EventError,
		Rejection: &Rejection{
			Code:  http.StatusBadRequest,
			Error: reason,
			Event: event,
			Ref:   ref,
		},
	}
}

func ErrInternalError(event string, ref json.RawMessage) *ServerMessage {
	return &ServerMessage{
		Type: EventError,
		Rejection: &Rejection{
			Code:  http.StatusInternalServerError,
			Error: "internal server error",
			Event: event,
			Ref:   ref,
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
