package thermal

import (
	"sync"
	"time"
)

// MaxCeiling is the ceiling value meaning "no cap".
const MaxCeiling = ^uint(0)

// ThrottleState is the only mutable piece of governor state. It is owned by the
// caller and shared between the Engine, which mutates it, and the
// PolicyEnforcer, which only reads the committed ceiling.
type ThrottleState struct {
	mu sync.Mutex

	ceiling          uint
	timeLeft         time.Duration
	throttling       bool
	changeInProgress bool
}

// StateSnapshot is a consistent copy of ThrottleState.
type StateSnapshot struct {
	Ceiling          uint          `json:"ceiling"`
	TimeLeft         time.Duration `json:"timeLeft"`
	Throttling       bool          `json:"throttling"`
	ChangeInProgress bool          `json:"changeInProgress"`
}

func NewThrottleState() *ThrottleState {
	return &ThrottleState{ceiling: MaxCeiling}
}

// Ceiling returns the most recently committed ceiling in kHz.
func (s *ThrottleState) Ceiling() uint {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ceiling
}

func (s *ThrottleState) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StateSnapshot{
		Ceiling:          s.ceiling,
		TimeLeft:         s.timeLeft,
		Throttling:       s.throttling,
		ChangeInProgress: s.changeInProgress,
	}
}

// Reset puts the state back to its startup values.
func (s *ThrottleState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ceiling = MaxCeiling
	s.timeLeft = 0
	s.throttling = false
	s.changeInProgress = false
}

func (s *ThrottleState) countdown(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elapsed < 0 {
		elapsed = 0
	}
	if s.timeLeft > elapsed {
		s.timeLeft -= elapsed
	} else {
		s.timeLeft = 0
	}
}

// tryCommit stores a new ceiling unless it equals the current one or would relax
// a ceiling whose hold time has not run out yet. It returns the previous ceiling.
func (s *ThrottleState) tryCommit(freq uint, hold time.Duration) (uint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.ceiling
	if freq == prev {
		return prev, false
	}
	if freq > prev && s.timeLeft > 0 {
		return prev, false
	}

	s.ceiling = freq
	s.timeLeft = hold
	s.changeInProgress = true

	return prev, true
}

func (s *ThrottleState) finishChange() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.changeInProgress = false
}

func (s *ThrottleState) setThrottling(throttling bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.throttling = throttling
}

func (s *ThrottleState) isThrottling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.throttling
}
