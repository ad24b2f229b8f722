package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pliu/pairchat/internal/models"
)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	// Simplified for brevity, ideally use migrations
	query := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		is_online BOOLEAN NOT NULL DEFAULT FALSE,
		last_seen DATETIME
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`

	if s.driverName == "postgres" {
		// Adjust for Postgres syntax
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY")
		query = strings.ReplaceAll(query, "DATETIME", "TIMESTAMP")
	}

	_, err := s.db.Exec(query)
	return err
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

func (s *SQLStore) UpsertPresence(username string, online bool, lastSeen time.Time) error {
	query := s.rebind(`
		INSERT INTO users (username, is_online, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET is_online = excluded.is_online, last_seen = excluded.last_seen
	`)
	_, err := s.db.Exec(query, username, online, lastSeen.UTC())
	return err
}

func (s *SQLStore) AppendMessage(m *models.Message) error {
	query := s.rebind("INSERT INTO messages (sender, recipient, body, created_at) VALUES (?, ?, ?, ?)")
	_, err := s.db.Exec(query, m.Sender, m.Recipient, m.Body, m.Timestamp.UTC())
	return err
}

func (s *SQLStore) RecentMessages(limit int) ([]models.Message, error) {
	// Fetch the newest rows, then flip to oldest-first for replay.
	query := s.rebind(`
		SELECT sender, recipient, body, created_at
		FROM messages
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`)
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.Sender, &m.Recipient, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *SQLStore) MarkAllOffline(at time.Time) error {
	query := s.rebind("UPDATE users SET is_online = FALSE, last_seen = ? WHERE is_online = TRUE")
	_, err := s.db.Exec(query, at.UTC())
	return err
}

// GetUser looks up a single presence row. Not part of the store.Store
// contract; the relay never reads user records back.
func (s *SQLStore) GetUser(username string) (*models.UserRecord, error) {
	var u models.UserRecord
	query := s.rebind("SELECT username, is_online, last_seen FROM users WHERE username = ?")
	err := s.db.QueryRow(query, username).Scan(&u.Username, &u.IsOnline, &u.LastSeen)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
