package chat

import "time"

// Wire event type tags. Field names follow the client protocol exactly.
const (
	TypeRequestUsername  = "request_username"
	TypeRegisterUsername = "register_username"
	TypeUsernameAccepted = "username_accepted"
	TypeError            = "error"
	TypeOtherUser        = "other_user"
	TypeUserJoined       = "user_joined"
	TypeUserLeft         = "user_left"
	TypeChatMessage      = "chat_message"
	TypeMessageSent      = "message_sent"
)

// Client-visible error messages.
const (
	MsgUsernameTaken     = "Username already taken"
	MsgChatFull          = "Chat is full (max 2 users)"
	MsgNoOtherUser       = "No other user connected"
	MsgEmptyUsername     = "Username cannot be empty"
	MsgAlreadyRegistered = "Already registered"
)

// inbound is the envelope for client->server frames. Both payload kinds fit
// in one struct; unknown fields are ignored.
type inbound struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type typeOnlyEvent struct {
	Type string `json:"type"`
}

type usernameEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type chatEvent struct {
	Type      string    `json:"type"`
	From      string    `json:"from"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	IsHistory bool      `json:"isHistory,omitempty"`
	IsMe      bool      `json:"isMe,omitempty"`
}
