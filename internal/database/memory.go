package database

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// MemoryMessageStore keeps messages in process memory. History is lost on
// restart, so it is only meant for development and tests.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages []Message
	nextId   int64
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{}
}

func (s *MemoryMessageStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryMessageStore) CreateMessage(_ context.Context, params CreateMessageParams) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextId++
	msg := Message{
		Id:         s.nextId,
		ChatId:     params.ChatId,
		SenderId:   params.SenderId,
		ReceiverId: params.ReceiverId,
		Content:    params.Content,
		CreatedAt:  params.CreatedAt.UTC(),
	}
	s.messages = append(s.messages, msg)

	return msg, nil
}

func (s *MemoryMessageStore) GetMessagesByChatId(_ context.Context, chatId string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := make([]Message, 0)
	for _, msg := range s.messages {
		if msg.ChatId == chatId {
			messages = append(messages, msg)
		}
	}

	slices.SortStableFunc(messages, func(a, b Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Id, b.Id)
	})

	return messages, nil
}

func (s *MemoryMessageStore) MarkMessagesSeen(_ context.Context, chatId, receiverId string, upToId int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.messages {
		msg := &s.messages[i]
		if msg.ChatId == chatId && msg.ReceiverId == receiverId && !msg.Seen && msg.Id <= upToId {
			msg.Seen = true
			n++
		}
	}

	return n, nil
}

func (s *MemoryMessageStore) Close() error {
	return nil
}
