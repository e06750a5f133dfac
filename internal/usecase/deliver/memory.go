package deliver

import (
	"context"
	"sync"
)

// MemoryStore is a bounded in-process ring. Its contents do not survive a
// restart.
type MemoryStore struct {
	mu   sync.Mutex
	buf  []Message
	head int
	size int
}

// NewMemoryStore returns a ring holding at most capacity messages.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	return &MemoryStore{buf: make([]Message, capacity)}
}

// Push appends msg, overwriting the oldest entry when full.
func (s *MemoryStore) Push(_ context.Context, msg Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	if s.size == len(s.buf) {
		s.head = (s.head + 1) % len(s.buf)
		s.size--
		evicted = 1
	}
	s.buf[(s.head+s.size)%len(s.buf)] = msg
	s.size++
	return evicted, nil
}

// Pop removes up to n of the oldest messages.
func (s *MemoryStore) Pop(_ context.Context, n int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > s.size {
		n = s.size
	}
	out := make([]Message, n)
	for i := range out {
		out[i] = s.buf[s.head]
		s.buf[s.head] = Message{}
		s.head = (s.head + 1) % len(s.buf)
	}
	s.size -= n
	return out, nil
}

// Requeue puts msgs back in front of the oldest entry, msgs[0] first. When
// the ring fills up, the remaining (oldest) of msgs are dropped.
func (s *MemoryStore) Requeue(_ context.Context, msgs []Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(msgs) - 1; i >= 0; i-- {
		if s.size == len(s.buf) {
			return i + 1, nil
		}
		s.head = (s.head - 1 + len(s.buf)) % len(s.buf)
		s.buf[s.head] = msgs[i]
		s.size++
	}
	return 0, nil
}

// Len returns the number of queued messages.
func (s *MemoryStore) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size, nil
}

// Cap returns the ring capacity.
func (s *MemoryStore) Cap() int {
	return len(s.buf)
}
