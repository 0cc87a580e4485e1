package session

import (
	"time"

	"primeduel/internal/protocol"
)

func (s *Session) viewLocked(side int) protocol.View {
	opp := 1 - side
	mine := s.hands[side]
	playable := make([]int, 0, len(mine))
	for i, c := range mine {
		if c.Divides(s.target) {
			playable = append(playable, i)
		}
	}
	v := protocol.View{
		SessionID:         s.id,
		TargetValue:       s.target,
		MyCards:           mine.Ints(),
		MyPlayable:        playable,
		MyDeckCount:       len(s.decks[side]),
		OpponentHandCount: len(s.hands[opp]),
		OpponentDeckCount: len(s.decks[opp]),
		OpponentName:      s.players[opp].DisplayName,
		Status:            string(s.status),
		LastUpdate:        s.updatedAt.UnixMilli(),
	}
	if s.rules.RevealOpponentHand {
		v.OpponentCards = s.hands[opp].Ints()
	}
	return v
}

// Info summarizes a session for listings.
type Info struct {
	ID         string    `json:"id"`
	Difficulty string    `json:"difficulty"`
	Custom     bool      `json:"custom"`
	Status     Status    `json:"status"`
	Players    []string  `json:"players"`
	Target     int64     `json:"target"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:         s.id,
		Difficulty: s.rules.Difficulty,
		Custom:     s.custom,
		Status:     s.status,
		Players:    []string{s.players[0].DisplayName, s.players[1].DisplayName},
		Target:     s.target,
		CreatedAt:  s.createdAt,
	}
}
