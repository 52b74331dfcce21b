// Package ledger holds the single authoritative copy of the game session
// being viewed. Server snapshots replace it wholesale; local edits are
// applied to a copy and published as optimistic until the next snapshot.
package ledger

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/anhbaysgalan1/homegame/internal/validation"
)

// State is what readers observe. Session is nil when nothing is loaded.
type State struct {
	Session    *models.GameSession
	Optimistic bool
	Generation uint64
}

// Reader is the read side handed to presentation code
type Reader interface {
	Current() (*models.GameSession, bool)
	State() State
	Subscribe() (<-chan State, func())
}

// Sink receives full snapshots from the push stream
type Sink interface {
	Replace(snapshot *models.GameSession) bool
}

// Writer is implemented by the store for the stream client and the mutation gateway
type Writer interface {
	Sink
	ApplyOptimistic(gameID string, edit Edit) error
	Reset()
}

type Store struct {
	mu         sync.Mutex
	current    *models.GameSession
	optimistic bool
	generation uint64

	subscribers map[int]chan State
	nextSubID   int

	logger *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		subscribers: make(map[int]chan State),
		logger:      logger,
	}
}

// Replace overwrites the current state with snapshot. It reports whether
// anything changed; a snapshot equal to the confirmed state is a no-op.
func (s *Store) Replace(snapshot *models.GameSession) bool {
	if snapshot == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && !s.optimistic && s.current.Equal(snapshot) {
		return false
	}

	if s.current != nil && s.current.ID == snapshot.ID && !models.CanTransition(s.current.Status, snapshot.Status) {
		s.logger.Warn("Snapshot makes an invalid status transition",
			"game_id", snapshot.ID,
			"previous_status", s.current.Status,
			"status", snapshot.Status,
			"generation", s.generation)
	}

	s.current = snapshot.Clone()
	s.optimistic = false
	s.generation++
	s.notifyLocked()
	return true
}

// ApplyOptimistic applies edit to a copy of the current state and publishes
// the copy. The store is left untouched when an error is returned.
func (s *Store) ApplyOptimistic(gameID string, edit Edit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return &validation.Error{Field: "game_id", Message: "no game session is loaded"}
	}
	if s.current.ID != gameID {
		return &validation.Error{
			Field:   "game_id",
			Message: fmt.Sprintf("game %s is not the loaded game %s", gameID, s.current.ID),
		}
	}
	if !s.current.IsActive() {
		return &validation.Error{
			Field:   "game_id",
			Message: fmt.Sprintf("game %s is %s", gameID, s.current.Status),
		}
	}

	next := s.current.Clone()
	if err := edit.Apply(next); err != nil {
		return err
	}

	s.current = next
	s.optimistic = true
	s.generation++
	s.logger.Debug("Applied optimistic edit",
		"game_id", gameID,
		"kind", edit.Kind(),
		"player_id", edit.PlayerID(),
		"generation", s.generation)
	s.notifyLocked()
	return nil
}

// Reset drops the loaded session
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	s.current = nil
	s.optimistic = false
	s.generation++
	s.notifyLocked()
}

// Current returns a copy of the loaded session
func (s *Store) Current() (*models.GameSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, false
	}
	return s.current.Clone(), true
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Subscribe returns a channel that always holds the latest state. Slow
// readers skip intermediate states. The returned func unsubscribes and
// closes the channel.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan State, 1)
	s.subscribers[id] = ch
	if s.current != nil {
		ch <- s.stateLocked()
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers, id)
			close(ch)
		})
	}
}

func (s *Store) stateLocked() State {
	st := State{Optimistic: s.optimistic, Generation: s.generation}
	if s.current != nil {
		st.Session = s.current.Clone()
	}
	return st
}

func (s *Store) notifyLocked() {
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- s.stateLocked()
	}
}
