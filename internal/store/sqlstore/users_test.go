package sqlstore

import (
	"testing"
	"time"
)

func TestUpsertPresence(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	now := time.Now().UTC()
	if err := testStore.UpsertPresence("alice", true, now); err != nil {
		t.Errorf("Failed to upsert presence: %v", err)
	}

	user, err := testStore.GetUser("alice")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if !user.IsOnline {
		t.Error("Expected alice to be online")
	}

	// Upsert again with the same key must update, not duplicate.
	later := now.Add(time.Minute)
	if err := testStore.UpsertPresence("alice", false, later); err != nil {
		t.Errorf("Failed to re-upsert presence: %v", err)
	}

	user, err = testStore.GetUser("alice")
	if err != nil {
		t.Fatalf("Failed to get user after re-upsert: %v", err)
	}
	if user.IsOnline {
		t.Error("Expected alice to be offline after re-upsert")
	}
	if !user.LastSeen.Equal(later) {
		t.Errorf("Expected last_seen %v, got %v", later, user.LastSeen)
	}
}

func TestMarkAllOffline(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	now := time.Now().UTC()
	testStore.UpsertPresence("alice", true, now)
	testStore.UpsertPresence("bob", true, now)
	testStore.UpsertPresence("carol", false, now.Add(-time.Hour))

	shutdownAt := now.Add(time.Minute)
	if err := testStore.MarkAllOffline(shutdownAt); err != nil {
		t.Fatalf("MarkAllOffline failed: %v", err)
	}

	for _, name := range []string{"alice", "bob"} {
		user, err := testStore.GetUser(name)
		if err != nil {
			t.Fatalf("Failed to get %s: %v", name, err)
		}
		if user.IsOnline {
			t.Errorf("Expected %s to be offline", name)
		}
		if !user.LastSeen.Equal(shutdownAt) {
			t.Errorf("Expected %s last_seen %v, got %v", name, shutdownAt, user.LastSeen)
		}
	}

	// Already-offline rows keep their original last_seen.
	carol, err := testStore.GetUser("carol")
	if err != nil {
		t.Fatalf("Failed to get carol: %v", err)
	}
	if carol.LastSeen.Equal(shutdownAt) {
		t.Error("Expected carol's last_seen to be untouched")
	}
}
