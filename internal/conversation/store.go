package conversation

import (
	"sync"

	"medrelay/pkg/types"
)

// Store keeps every conversation's messages for the process lifetime
// ARCHITECTURAL DISCOVERY: A read lock on the thread map plus one mutex per thread
// serializes appends within a conversation without serializing unrelated conversations
type Store struct {
	mu      sync.RWMutex
	threads map[string]*thread
}

type thread struct {
	mu       sync.Mutex
	messages []types.Message
}

// Stats summarizes the store contents
type Stats struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
}

// NewStore creates an empty conversation store
func NewStore() *Store {
	return &Store{threads: make(map[string]*thread)}
}

// threadFor returns the thread for id, creating it lazily when create is set
func (s *Store) threadFor(id ID, create bool) *thread {
	key := id.Key()

	s.mu.RLock()
	t, ok := s.threads[key]
	s.mu.RUnlock()
	if ok || !create {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok = s.threads[key]; ok {
		return t
	}
	t = &thread{}
	s.threads[key] = t
	return t
}

// Append stores msg at the end of the conversation and returns the stored copy.
// deliver, when non-nil, runs while the conversation is still locked so pushes to
// the counterparty leave in the same order as the history; its result becomes
// the stored delivered flag.
func (s *Store) Append(id ID, msg types.Message, deliver func(types.Message) bool) types.Message {
	t := s.threadFor(id, true)

	t.mu.Lock()
	defer t.mu.Unlock()

	msg.Delivered = false
	msg.Read = false
	t.messages = append(t.messages, msg)
	idx := len(t.messages) - 1

	if deliver != nil {
		pushed := msg
		pushed.Delivered = true
		if deliver(pushed) {
			t.messages[idx].Delivered = true
		}
	}
	return t.messages[idx]
}

// MarkRead flips the read flag on every message readerID received and returns how many changed
func (s *Store) MarkRead(id ID, readerID string) int {
	t := s.threadFor(id, false)
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for i := range t.messages {
		if t.messages[i].SenderID != readerID && !t.messages[i].Read {
			t.messages[i].Read = true
			count++
		}
	}
	return count
}

// History returns a copy of the conversation in append order; unknown ids yield an empty slice
func (s *Store) History(id ID) []types.Message {
	t := s.threadFor(id, false)
	if t == nil {
		return []types.Message{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Stats returns conversation and message counts
func (s *Store) Stats() Stats {
	s.mu.RLock()
	threads := make([]*thread, 0, len(s.threads))
	for _, t := range s.threads {
		threads = append(threads, t)
	}
	s.mu.RUnlock()

	stats := Stats{Conversations: len(threads)}
	for _, t := range threads {
		t.mu.Lock()
		stats.Messages += len(t.messages)
		t.mu.Unlock()
	}
	return stats
}
