package database

import "context"

// MessageStore persists one-to-one messages. Implementations must be safe for
// concurrent use.
type MessageStore interface {
	Ping(ctx context.Context) error
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessagesByChatId(ctx context.Context, chatId string) ([]Message, error)
	// MarkMessagesSeen flags every unseen message in chatId addressed to
	// receiverId whose id is at most upToId, and returns how many changed.
	MarkMessagesSeen(ctx context.Context, chatId, receiverId string, upToId int64) (int64, error)
	Close() error
}
