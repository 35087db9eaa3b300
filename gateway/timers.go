package gateway

import (
	"sync"
	"time"
)

// Logical timer names. Arming a name again replaces the previous
// instance, so a restart can never leave a stale timer firing against
// a newer connection attempt.
const (
	timerHeartbeat = "heartbeat"
	timerReconnect = "reconnect"
)

// timerSet keys active timers by a stable name. Re-arming an existing
// name cancels and replaces the previous timer.
type timerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string]*time.Timer)}
}

// Arm schedules fn after d, replacing any timer already registered
// under name.
func (s *timerSet) Arm(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[name]; ok {
		prev.Stop()
	}
	s.timers[name] = time.AfterFunc(d, fn)
}

// Cancel stops the timer registered under name, if any.
func (s *timerSet) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[name]; ok {
		timer.Stop()
		delete(s.timers, name)
	}
}

// CancelAll stops every registered timer.
func (s *timerSet) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, timer := range s.timers {
		timer.Stop()
		delete(s.timers, name)
	}
}
