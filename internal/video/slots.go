package video

import "sync"

// Slots caps how many elements may play at once, like a platform's
// hardware decoder limit.
type Slots struct {
	mu   sync.Mutex
	max  int
	used int
}

// NewSlots allows n concurrent players. n <= 0 means unlimited.
func NewSlots(n int) *Slots {
	return &Slots{max: n}
}

func (s *Slots) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.max > 0 && s.used >= s.max {
		return false
	}
	s.used++
	return true
}

func (s *Slots) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used > 0 {
		s.used--
	}
}

// InUse returns the number of playing elements holding a slot.
func (s *Slots) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}
