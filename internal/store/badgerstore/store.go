package badgerstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/pliu/pairchat/internal/models"
)

const (
	userPrefix = "user:"
	msgPrefix  = "msg:"
)

// BadgerStore is a pure-Go embedded backend. Messages are keyed by
// zero-padded unix nanos so that key order is chronological order.
type BadgerStore struct {
	db *badger.DB
}

func New(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func userKey(username string) []byte {
	return []byte(userPrefix + username)
}

func msgKey(ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", msgPrefix, ts.UnixNano(), uuid.NewString()))
}

func (s *BadgerStore) UpsertPresence(username string, online bool, lastSeen time.Time) error {
	rec := models.UserRecord{Username: username, IsOnline: online, LastSeen: lastSeen.UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(username), data)
	})
}

func (s *BadgerStore) AppendMessage(m *models.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(msgKey(m.Timestamp), data)
	})
}

func (s *BadgerStore) RecentMessages(limit int) ([]models.Message, error) {
	var messages []models.Message
	prefix := []byte(msgPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchSize = limit

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts just past the last message key, so we
		// walk newest to oldest.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(messages) < limit; it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var m models.Message
				if err := json.Unmarshal(v, &m); err != nil {
					return fmt.Errorf("unmarshal message: %w", err)
				}
				messages = append(messages, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Collected newest-first; replay wants oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *BadgerStore) MarkAllOffline(at time.Time) error {
	prefix := []byte(userPrefix)
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec models.UserRecord
			err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			})
			if err != nil {
				return err
			}
			if !rec.IsOnline {
				continue
			}
			rec.IsOnline = false
			rec.LastSeen = at.UTC()
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(item.KeyCopy(nil), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetUser looks up a single presence record. Test and ops helper, not part of
// the store.Store contract.
func (s *BadgerStore) GetUser(username string) (*models.UserRecord, error) {
	var rec models.UserRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
