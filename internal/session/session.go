package session

import (
	"sync"
)

// State tracks where a conversation is in the service-selection flow.
type State string

const (
	StateInitial   State = "INITIAL"
	StateSelecting State = "SELECTING_SERVICE"
	StateCompleted State = "COMPLETED"

	// StateAwaitingChoice is a vestigial alias from an earlier flow
	// version; reads re-map it to StateSelecting.
	StateAwaitingChoice State = "AWAITING_CHOICE"
)

// Store holds per-conversation states for the lifetime of the process.
// States are never persisted and never deleted.
type Store struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewStore() *Store {
	return &Store{states: make(map[string]State)}
}

// Get returns the state for a conversation, defaulting to
// StateInitial for unknown identifiers.
func (s *Store) Get(conversationID string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[conversationID]
	if !ok {
		return StateInitial
	}
	if state == StateAwaitingChoice {
		return StateSelecting
	}
	return state
}

// Set records the state for a conversation.
func (s *Store) Set(conversationID string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[conversationID] = state
}

// Known reports whether the conversation has any recorded state.
func (s *Store) Known(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.states[conversationID]
	return ok
}
