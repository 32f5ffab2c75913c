package database

import (
	"context"
	"fmt"
	"regexp"
)

const (
	createMessageQuery = "INSERT INTO private_messages (chat_id, sender_id, receiver_id, content, seen, created_at) " +
		"VALUES ($1, $2, $3, $4, FALSE, $5) RETURNING id"
	getMessagesQuery = "SELECT id, chat_id, sender_id, receiver_id, content, seen, created_at FROM private_messages " +
		"WHERE chat_id = $1 ORDER BY created_at ASC, id ASC"
	markSeenQuery = "UPDATE private_messages SET seen = TRUE " +
		"WHERE chat_id = $1 AND receiver_id = $2 AND seen = FALSE AND id <= $3"
)

var placeholderRe = regexp.MustCompile(`\$\d+`)

// rebind rewrites postgres style placeholders for drivers that only accept
// '?'. Every query here uses its placeholders once and in order.
func (db *SQLMessageStore) rebind(query string) string {
	if db.driver == DriverPostgres {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

func (db *SQLMessageStore) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	createdAt := params.CreatedAt.UTC()
	row := db.conn.QueryRowContext(ctx,
		db.rebind(createMessageQuery),
		params.ChatId,
		params.SenderId,
		params.ReceiverId,
		params.Content,
		createdAt,
	)

	msg := Message{
		ChatId:     params.ChatId,
		SenderId:   params.SenderId,
		ReceiverId: params.ReceiverId,
		Content:    params.Content,
		CreatedAt:  createdAt,
	}

	if err := row.Scan(&msg.Id); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

func (db *SQLMessageStore) GetMessagesByChatId(ctx context.Context, chatId string) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(getMessagesQuery), chatId)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages = make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.ChatId,
			&msg.SenderId,
			&msg.ReceiverId,
			&msg.Content,
			&msg.Seen,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}

func (db *SQLMessageStore) MarkMessagesSeen(ctx context.Context, chatId, receiverId string, upToId int64) (int64, error) {
	res, err := db.conn.ExecContext(ctx, db.rebind(markSeenQuery), chatId, receiverId, upToId)
	if err != nil {
		return 0, fmt.Errorf("mark seen: %w", err)
	}

	return res.RowsAffected()
}
