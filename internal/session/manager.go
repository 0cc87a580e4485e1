package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"primeduel/internal/clock"
	"primeduel/internal/game"
)

// ErrAlreadyInSession is returned when a participant already has a live
// session.
var ErrAlreadyInSession = errors.New("player already in a session")

// Manager tracks every active session and which player sits in which.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byPlayer map[string]string

	timing Timing
	sched  clock.Scheduler
	notify Notifier
	log    zerolog.Logger
}

// NewManager creates a session manager.
func NewManager(sched clock.Scheduler, notify Notifier, timing Timing, log zerolog.Logger) *Manager {
	if sched == nil {
		sched = clock.Real()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		byPlayer: make(map[string]string),
		timing:   timing,
		sched:    sched,
		notify:   notify,
		log:      log,
	}
}

// Create deals a new session for the two players and starts its countdown.
func (m *Manager) Create(players [2]Participant, dealer *game.Dealer, custom bool) (*Session, error) {
	if players[0].ID == players[1].ID {
		return nil, fmt.Errorf("%w: %s cannot play itself", ErrAlreadyInSession, players[0].ID)
	}
	m.mu.Lock()
	for _, p := range players {
		if _, busy := m.byPlayer[p.ID]; busy {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyInSession, p.ID)
		}
	}
	s := New(Options{
		ID:        "game_" + uuid.NewString(),
		Players:   players,
		Dealer:    dealer,
		Custom:    custom,
		Timing:    m.timing,
		Scheduler: m.sched,
		Notifier:  m.notify,
		Logger:    m.log,
	})
	m.sessions[s.id] = s
	for _, p := range players {
		m.byPlayer[p.ID] = s.id
	}
	m.mu.Unlock()

	m.log.Info().
		Str("session", s.id).
		Str("a", players[0].DisplayName).
		Str("b", players[1].DisplayName).
		Bool("custom", custom).
		Str("difficulty", s.rules.Difficulty).
		Msg("session created")
	s.Start()
	return s, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ForPlayer returns the session a player is seated in.
func (m *Manager) ForPlayer(playerID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[id]
	return s, ok
}

// Remove stops a session's timers and forgets it.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		for _, p := range s.players {
			if m.byPlayer[p.ID] == id {
				delete(m.byPlayer, p.ID)
			}
		}
	}
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// List returns info for all active sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StaleSide names a player who has gone quiet in a live session.
type StaleSide struct {
	Session  *Session
	PlayerID string
}

// Stale returns every session with a side silent for longer than timeout.
func (m *Manager) Stale(timeout time.Duration) []StaleSide {
	if timeout <= 0 {
		return nil
	}
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	var stale []StaleSide
	for _, s := range sessions {
		if id, ok := s.Stale(timeout); ok {
			stale = append(stale, StaleSide{Session: s, PlayerID: id})
		}
	}
	return stale
}
