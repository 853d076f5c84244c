// Package session provides keyed, in-memory conversation state.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/saathi-labs/saathi/internal/onboarding"
)

// Turn roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Turn is one message in conversation order. Immutable once appended.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Summary   bool      `json:"summary,omitempty"` // synthetic compaction turn
	Timestamp time.Time `json:"timestamp"`
}

// Session holds all mutable state for one conversation. Callers must
// hold mu around any read-modify-write of Turns or Onboarding; the
// store only guards the map itself.
type Session struct {
	ID          string
	Turns       []Turn
	Summary     string
	LastProfile string
	Onboarding  *onboarding.State
	LastActive  time.Time

	mu sync.Mutex
}

// Lock serializes turn processing within this session.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }

// Append adds a turn and stamps activity.
func (s *Session) Append(role, text string) {
	s.Turns = append(s.Turns, Turn{Role: role, Text: text, Timestamp: time.Now()})
	s.LastActive = time.Now()
}

// OnboardingState lazily initializes slot state.
func (s *Session) OnboardingState() *onboarding.State {
	if s.Onboarding == nil {
		s.Onboarding = onboarding.NewState()
	}
	return s.Onboarding
}

// Store manages sessions by ID. Sessions live for the process lifetime
// unless explicitly reset or expired by the idle sweep.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration // 0 = no expiry
	logger   *slog.Logger

	stop chan struct{}
	once sync.Once
}

// NewStore creates a store. ttl > 0 enables idle expiry; call Start to
// run the sweep.
func NewStore(ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger.With("component", "session"),
		stop:     make(chan struct{}),
	}
}

// GetOrCreate returns the session for id, creating it on first use.
func (st *Store) GetOrCreate(id string) *Session {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s = &Session{ID: id, LastActive: time.Now()}
	st.sessions[id] = s
	st.logger.Debug("session created", "session", id)
	return s
}

// Reset discards all state for id.
func (st *Store) Reset(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
	st.logger.Info("session reset", "session", id)
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Start launches the idle sweep goroutine. No-op when ttl is 0.
func (st *Store) Start() {
	if st.ttl <= 0 {
		return
	}
	go st.sweepLoop()
}

// Stop halts the idle sweep.
func (st *Store) Stop() {
	st.once.Do(func() { close(st.stop) })
}

func (st *Store) sweepLoop() {
	interval := st.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			st.Sweep(time.Now())
		}
	}
}

// Sweep removes sessions idle longer than the TTL. Returns the number
// removed. Exported for tests and manual maintenance endpoints.
func (st *Store) Sweep(now time.Time) int {
	if st.ttl <= 0 {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, s := range st.sessions {
		if now.Sub(s.LastActive) > st.ttl {
			delete(st.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		st.logger.Info("idle sessions expired", "count", removed, "remaining", len(st.sessions))
	}
	return removed
}
