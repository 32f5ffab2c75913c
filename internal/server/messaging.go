package server

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/npezzotti/go-livehub/internal/database"
	"github.com/npezzotti/go-livehub/internal/stats"
	"github.com/npezzotti/go-livehub/internal/types"
)

// MessagingService handles one-to-one messages: persistence, live delivery
// and read receipts.
type MessagingService struct {
	log      *log.Logger
	db       database.MessageStore
	registry *Registry
	stats    stats.StatsProvider
}

func NewMessagingService(logger *log.Logger, db database.MessageStore, registry *Registry, su stats.StatsProvider) *MessagingService {
	return &MessagingService{
		log:      logger,
		db:       db,
		registry: registry,
		stats:    su,
	}
}

// GetHistory returns the conversation between requesterId and partnerId in
// ascending order and marks the messages addressed to requesterId as seen.
// The returned messages carry their seen flags as they were before the
// update.
func (ms *MessagingService) GetHistory(ctx context.Context, requesterId, partnerId string) ([]types.Message, error) {
	chatId := types.ChatId(requesterId, partnerId)

	dbMessages, err := ms.db.GetMessagesByChatId(ctx, chatId)
	if err != nil {
		return nil, &PersistenceError{Op: "get messages", Err: err}
	}

	// only what the requester is about to read gets marked, so messages
	// stored after the query stay unseen
	var upToId int64
	history := make([]types.Message, len(dbMessages))
	for i, m := range dbMessages {
		history[i] = types.Message{
			Id:         m.Id,
			ChatId:     m.ChatId,
			SenderId:   m.SenderId,
			ReceiverId: m.ReceiverId,
			Content:    m.Content,
			Seen:       m.Seen,
			CreatedAt:  m.CreatedAt,
		}

		if m.ReceiverId == requesterId && !m.Seen && m.Id > upToId {
			upToId = m.Id
		}
	}

	if upToId > 0 {
		n, err := ms.db.MarkMessagesSeen(ctx, chatId, requesterId, upToId)
		if err != nil {
			return nil, &PersistenceError{Op: "mark seen", Err: err}
		}
		ms.log.Printf("marked %d messages seen in %q for %q", n, chatId, requesterId)
	}

	ms.registry.SendTo(partnerId, MessagesSeenMessage(requesterId, chatId))

	return history, nil
}

// SendPrivateMessage stores a message from sender to receiverId, confirms it
// to sender and forwards it to the receiver if connected. The message is
// stored whether or not the receiver is online.
func (ms *MessagingService) SendPrivateMessage(ctx context.Context, sender *Client, receiverId, content string, tempId json.RawMessage) (types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return types.Message{}, &ValidationError{Field: "text", Err: ErrEmptyMessage}
	}
	if receiverId == "" {
		return types.Message{}, &ValidationError{Field: "to", Err: ErrMissingRecipient}
	}

	senderId := sender.identity
	dbMsg, err := ms.db.CreateMessage(ctx, database.CreateMessageParams{
		ChatId:     types.ChatId(senderId, receiverId),
		SenderId:   senderId,
		ReceiverId: receiverId,
		Content:    content,
		CreatedAt:  Now(),
	})
	if err != nil {
		return types.Message{}, &PersistenceError{Op: "create message", Err: err}
	}

	ms.stats.Incr(stats.NumMessagesSent)

	msg := types.Message{
		Id:         dbMsg.Id,
		ChatId:     dbMsg.ChatId,
		SenderId:   dbMsg.SenderId,
		ReceiverId: dbMsg.ReceiverId,
		Content:    dbMsg.Content,
		Seen:       dbMsg.Seen,
		CreatedAt:  dbMsg.CreatedAt,
	}

	sender.queueMessage(MessageSentMessage(tempId, msg))
	ms.registry.SendTo(receiverId, PrivateMessage(msg))

	return msg, nil
}
