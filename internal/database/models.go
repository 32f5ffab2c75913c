package database

import "time"

type Message struct {
	Id         int64
	ChatId     string
	SenderId   string
	ReceiverId string
	Content    string
	Seen       bool
	CreatedAt  time.Time
}

type CreateMessageParams struct {
	ChatId     string
	SenderId   string
	ReceiverId string
	Content    string
	CreatedAt  time.Time
}
