package session

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"primeduel/internal/clock"
	"primeduel/internal/game"
	"primeduel/internal/protocol"
)

type recorder struct {
	mu   sync.Mutex
	msgs map[string][]protocol.Outbound
}

func newRecorder() *recorder {
	return &recorder{msgs: make(map[string][]protocol.Outbound)}
}

func (r *recorder) Send(id string, msg protocol.Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[id] = append(r.msgs[id], msg)
}

func (r *recorder) all(id string) []protocol.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Outbound(nil), r.msgs[id]...)
}

func (r *recorder) ofType(id, typ string) []protocol.Outbound {
	var out []protocol.Outbound
	for _, m := range r.all(id) {
		if m.OutboundType() == typ {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) lastView(t *testing.T, id string) protocol.View {
	t.Helper()
	updates := r.ofType(id, protocol.TypeStateUpdate)
	require.NotEmpty(t, updates, "no state update for %s", id)
	return updates[len(updates)-1].(protocol.StateUpdate).View
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = make(map[string][]protocol.Outbound)
}

func testRules() game.Rules {
	return game.Rules{
		Difficulty:         "normal",
		Primes:             []int{2, 3, 5, 7, 11, 13},
		Caps:               map[int]int{2: 7, 3: 6, 5: 5, 7: 5, 11: 4, 13: 3},
		Policy:             game.PolicyCapped,
		Complexity:         game.Range{Min: 5, Max: 7},
		RevealOpponentHand: true,
	}
}

func testDealer(t *testing.T, rules game.Rules) *game.Dealer {
	t.Helper()
	d, err := game.NewDealer(rules, rand.NewPCG(1, 2))
	require.NoError(t, err)
	return d
}

type fixture struct {
	s     *Session
	clock *clock.Manual
	rec   *recorder
}

func newFixture(t *testing.T, rules game.Rules) *fixture {
	t.Helper()
	m := clock.NewManual(time.Unix(1_700_000_000, 0))
	rec := newRecorder()
	s := New(Options{
		ID: "g1",
		Players: [2]Participant{
			{ID: "alice", DisplayName: "きみ(3000)", Rating: 3000},
			{ID: "bob", DisplayName: "やつ(3100)", Rating: 3100},
		},
		Dealer:    testDealer(t, rules),
		Timing:    DefaultTiming,
		Scheduler: m,
		Notifier:  rec,
		Logger:    zerolog.Nop(),
	})
	return &fixture{s: s, clock: m, rec: rec}
}

// playing runs the countdown to completion.
func (f *fixture) playing(t *testing.T) {
	t.Helper()
	f.s.Start()
	f.clock.Advance(5 * time.Second)
	require.Equal(t, StatusPlaying, f.s.Status())
	f.rec.reset()
}

// set overrides the dealt state.
func (f *fixture) set(target int64, hands [2]game.Hand, decks [2]game.Deck) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.target = target
	f.s.hands = hands
	f.s.decks = decks
}
