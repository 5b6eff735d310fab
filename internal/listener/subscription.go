package listener

import "sync"

// Subscription collects the unsubscribe callbacks of one mounted tree.
type Subscription struct {
	mu     sync.Mutex
	unsubs []func()

	// gate orders deliveries against Close.
	gate   sync.RWMutex
	closed bool
}

// Add registers an unsubscribe callback. Adding to a closed subscription runs
// the callback immediately.
func (s *Subscription) Add(unsubscribe func()) {
	if unsubscribe == nil {
		return
	}
	s.gate.RLock()
	if s.closed {
		s.gate.RUnlock()
		unsubscribe()
		return
	}
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsubscribe)
	s.mu.Unlock()
	s.gate.RUnlock()
}

// Active reports whether the subscription holds listeners and is not closed.
func (s *Subscription) Active() bool {
	s.gate.RLock()
	closed := s.closed
	s.gate.RUnlock()
	if closed {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unsubs) > 0
}

// Close stops delivery and runs every collected callback exactly once. It
// waits for an in-flight delivery to finish. Calling it again does nothing.
func (s *Subscription) Close() {
	s.gate.Lock()
	if s.closed {
		s.gate.Unlock()
		return
	}
	s.closed = true
	s.gate.Unlock()

	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
