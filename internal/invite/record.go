package invite

import (
	"sync"
	"time"

	"invitebot/internal/transport"
)

// Record tracks one active invite link for a chat.
//
// MessageID stays 0 between minting the link and sending the announcement;
// that window is a valid transient state.
type Record struct {
	ChatID    int64
	Link      string
	ExpiresAt time.Time
	MessageID int
	ThreadID  int
}

// Store maps chat id -> active invite record. At most one record exists per
// chat; Put overwrites any previous record for the same chat.
//
// All mutation funnels through Put, SetAnnouncement and Remove. Remove is the
// claim step of revocation: the first caller gets the record, later callers
// get ok=false, which is what makes the timer/manual double-fire a no-op.
type Store struct {
	mu   sync.Mutex
	recs map[int64]Record
}

func NewStore() *Store {
	return &Store{recs: map[int64]Record{}}
}

func (s *Store) Put(r Record) {
	s.mu.Lock()
	s.recs[r.ChatID] = r
	s.mu.Unlock()
}

func (s *Store) Get(chatID int64) (Record, bool) {
	s.mu.Lock()
	r, ok := s.recs[chatID]
	s.mu.Unlock()
	return r, ok
}

// SetAnnouncement records the announcement message id once it is known.
// Reports false when the record is already gone.
func (s *Store) SetAnnouncement(chatID int64, messageID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[chatID]
	if !ok {
		return false
	}
	r.MessageID = messageID
	s.recs[chatID] = r
	return true
}

// Remove claims and deletes the record for chatID.
func (s *Store) Remove(chatID int64) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[chatID]
	if ok {
		delete(s.recs, chatID)
	}
	return r, ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// ActiveTargets snapshots the chats that currently hold a record.
func (s *Store) ActiveTargets() []transport.ChatTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.ChatTarget, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, transport.ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID})
	}
	return out
}
