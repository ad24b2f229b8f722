package store

import (
	"time"

	"github.com/pliu/pairchat/internal/models"
)

// Store is the durable backend behind the relay. Every method is an
// independent unit of work; callers treat failures as log-and-continue and
// never let them gate the in-memory protocol.
type Store interface {
	// UpsertPresence records whether a username is currently connected.
	// Idempotent, keyed by username.
	UpsertPresence(username string, online bool, lastSeen time.Time) error

	// AppendMessage persists one chat message. Append-only.
	AppendMessage(m *models.Message) error

	// RecentMessages returns up to limit most-recent messages, ordered
	// ascending by timestamp (oldest first).
	RecentMessages(limit int) ([]models.Message, error)

	// MarkAllOffline flips every online user record to offline. Shutdown path.
	MarkAllOffline(at time.Time) error

	Close() error
}
