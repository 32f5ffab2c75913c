package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockMessageStore) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMessageStore) GetMessagesByChatId(ctx context.Context, chatId string) ([]Message, error) {
	args := m.Called(ctx, chatId)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessageStore) MarkMessagesSeen(ctx context.Context, chatId, receiverId string, upToId int64) (int64, error) {
	args := m.Called(ctx, chatId, receiverId, upToId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockMessageStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
