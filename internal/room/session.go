package room

import (
	"fmt"
	"slices"
	"sync"
)

// State represents a conversation session's setup progress.
type State string

const (
	Unresolved  State = "UNRESOLVED"
	Resolved    State = "RESOLVED"
	Provisioned State = "PROVISIONED"
)

var validTransitions = map[State][]State{
	Unresolved: {Resolved},
	Resolved:   {Provisioned},
}

// Session tracks the setup sequencing for one open conversation:
// identity resolution must complete before anything touches the room's
// log, and provisioning before anything is sent. The initial-message flag
// is orthogonal and latches after the first attempt regardless of outcome.
type Session struct {
	mu          sync.Mutex
	state       State
	handle      string
	provisioner *Provisioner
	initialSent bool
}

// NewSession creates a session in the Unresolved state.
func NewSession() *Session {
	return &Session{state: Unresolved}
}

// Current returns the session state.
func (s *Session) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns the resolved canonical handle, or "".
func (s *Session) Handle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Provisioner returns the session's provisioner, or nil before resolution.
func (s *Session) Provisioner() *Provisioner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provisioner
}

// MarkResolved records the canonical handle and its provisioner.
func (s *Session) MarkResolved(handle string, p *Provisioner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(Resolved); err != nil {
		return err
	}
	s.handle = handle
	s.provisioner = p
	return nil
}

// MarkProvisioned records that a server room id exists.
func (s *Session) MarkProvisioned() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(Provisioned)
}

// ClaimInitialSend latches the initial-message flag. It returns true
// exactly once per session; the queued opening message must be attempted
// at most once regardless of whether the attempt succeeds.
func (s *Session) ClaimInitialSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialSent {
		return false
	}
	s.initialSent = true
	return true
}

func (s *Session) transition(to State) error {
	if !slices.Contains(validTransitions[s.state], to) {
		return fmt.Errorf("invalid session transition from %s to %s", s.state, to)
	}
	s.state = to
	return nil
}
