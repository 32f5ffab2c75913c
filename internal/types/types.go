package types

import (
	"slices"
	"strings"
	"time"
)

// Profile is the display snapshot a client supplies when it registers.
// It is not refreshed until the client registers again.
type Profile struct {
	Id        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Image     string `json:"image,omitempty"`
}

type Broadcaster struct {
	Profile
	StreamId string `json:"streamId"`
}

type Message struct {
	Id         int64     `json:"id"`
	ChatId     string    `json:"chatId"`
	SenderId   string    `json:"senderId"`
	ReceiverId string    `json:"receiverId"`
	Content    string    `json:"content"`
	Seen       bool      `json:"seen"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ChatId returns the conversation key shared by two identities. The pair is
// sorted first, so ChatId(a, b) == ChatId(b, a).
func ChatId(a, b string) string {
	ids := []string{a, b}
	slices.Sort(ids)
	return strings.Join(ids, "_")
}
