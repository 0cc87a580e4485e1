package session

import "primeduel/internal/protocol"

// View returns the player's picture of the match.
func (s *Session) View(playerID string) (protocol.View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	side, ok := s.sideLocked(playerID)
	if !ok {
		return protocol.View{}, false
	}
	return s.viewLocked(side), true
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Target() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// CardsLeft returns hand plus deck size for the player.
func (s *Session) CardsLeft(playerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	side, ok := s.sideLocked(playerID)
	if !ok {
		return 0
	}
	return len(s.hands[side]) + len(s.decks[side])
}
