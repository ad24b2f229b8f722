package models

import "time"

// UserRecord is the persisted presence row for a username. It is written on
// register and disconnect and never read back into the live protocol.
type UserRecord struct {
	Username string    `json:"username"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

type Message struct {
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}
