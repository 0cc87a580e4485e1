package hub

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"primeduel/internal/auth"
	"primeduel/internal/clock"
	"primeduel/internal/game"
	"primeduel/internal/protocol"
	"primeduel/internal/session"
	"primeduel/internal/storage"
)

type recorder struct {
	mu   sync.Mutex
	msgs map[string][]protocol.Outbound
}

func (r *recorder) Send(id string, msg protocol.Outbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msgs == nil {
		r.msgs = make(map[string][]protocol.Outbound)
	}
	r.msgs[id] = append(r.msgs[id], msg)
}

func (r *recorder) ofType(id, typ string) []protocol.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Outbound
	for _, m := range r.msgs[id] {
		if m.OutboundType() == typ {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) last(t *testing.T, id, typ string) protocol.Outbound {
	t.Helper()
	msgs := r.ofType(id, typ)
	require.NotEmpty(t, msgs, "%s never received %s", id, typ)
	return msgs[len(msgs)-1]
}

type harness struct {
	hub   *Hub
	clock *clock.Manual
	rec   *recorder
	store *storage.Store
	auth  *auth.Service
}

// quickRules deal a single 2 to each side against a target of 2, so the
// first play wins.
func quickRules(name string) game.Rules {
	return game.Rules{
		Difficulty: name,
		Primes:     []int{2},
		Policy:     game.PolicyUncapped,
		DeckSize:   1,
		HandSize:   1,
		Complexity: game.Range{Min: 1, Max: 1},
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := game.NewRegistry("normal")
	for i, r := range []game.Rules{quickRules("normal"), quickRules("hard")} {
		d, err := game.NewDealer(r, rand.NewPCG(uint64(i), 7))
		require.NoError(t, err)
		reg.Register(d)
	}

	m := clock.NewManual(time.Unix(1_700_000_000, 0))
	rec := &recorder{}
	svc := auth.NewService(store, []byte("secret"), time.Hour, auth.WithBcryptCost(bcrypt.MinCost))
	h := New(reg, svc, rec, m, cfg, zerolog.Nop())
	return &harness{hub: h, clock: m, rec: rec, store: store, auth: svc}
}

func (h *harness) guest(t *testing.T, id string) {
	t.Helper()
	h.hub.Join(context.Background(), id, protocol.Join{Name: id})
	h.rec.last(t, id, protocol.TypeRegistered)
}

func (h *harness) account(t *testing.T, id, username string) {
	t.Helper()
	h.hub.Join(context.Background(), id, protocol.Join{Username: username, Password: "secret-pw", Register: true})
	reg := h.rec.last(t, id, protocol.TypeRegistered).(protocol.Registered)
	require.NotEmpty(t, reg.Token)
}

func (h *harness) sessionID(t *testing.T, id string) string {
	t.Helper()
	return h.rec.last(t, id, protocol.TypeMatchStart).(protocol.MatchStart).SessionID
}

func (h *harness) errorReason(t *testing.T, id string) string {
	t.Helper()
	return h.rec.last(t, id, protocol.TypeError).(protocol.Error).Reason
}

// pairRanked queues alice then bob and runs the countdown.
func (h *harness) pairRanked(t *testing.T) string {
	t.Helper()
	h.hub.StartMatching("alice", "")
	h.hub.StartMatching("bob", "")
	sid := h.sessionID(t, "alice")
	require.Equal(t, sid, h.sessionID(t, "bob"))
	h.clock.Advance(5 * time.Second)
	s, ok := h.hub.Sessions().Get(sid)
	require.True(t, ok)
	require.Equal(t, session.StatusPlaying, s.Info().Status)
	return sid
}

func TestJoinGuest(t *testing.T) {
	h := newHarness(t, Config{})
	h.hub.Join(context.Background(), "c1", protocol.Join{Name: "alice"})

	reg := h.rec.last(t, "c1", protocol.TypeRegistered).(protocol.Registered)
	assert.True(t, reg.Profile.Guest)
	assert.Equal(t, game.InitialRating, reg.Profile.Rating)
	assert.Equal(t, reg.Profile.Pronoun+"(3000)", reg.Profile.DisplayName)

	p, ok := h.hub.Player("c1")
	require.True(t, ok)
	assert.Equal(t, "alice", p.Name)
}

func TestJoinBadCredentials(t *testing.T) {
	h := newHarness(t, Config{})
	h.hub.Join(context.Background(), "c1", protocol.Join{Username: "ghost", Password: "whatever"})
	msg := h.rec.last(t, "c1", protocol.TypeAuthError).(protocol.AuthError)
	assert.Equal(t, auth.ErrInvalidCredentials.Error(), msg.Reason)
	_, ok := h.hub.Player("c1")
	assert.False(t, ok)
}

func TestStartMatchingRequiresRegistration(t *testing.T) {
	h := newHarness(t, Config{})
	h.hub.StartMatching("nobody", "")
	assert.Equal(t, ErrNotRegistered.Error(), h.errorReason(t, "nobody"))
	assert.Zero(t, h.hub.queue.Len())
}

func TestStartMatchingUnknownDifficulty(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.hub.StartMatching("alice", "nightmare")
	assert.Contains(t, h.errorReason(t, "alice"), "unknown difficulty")
	assert.Zero(t, h.hub.queue.Len())
}

func TestPairingWithinTolerance(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.guest(t, "bob")
	h.hub.players.SetRating("bob", 3100)

	h.hub.StartMatching("alice", "")
	assert.Len(t, h.rec.ofType("alice", protocol.TypeMatchingStarted), 1)
	assert.Empty(t, h.rec.ofType("alice", protocol.TypeMatchStart))

	h.hub.StartMatching("bob", "")
	start := h.rec.last(t, "alice", protocol.TypeMatchStart).(protocol.MatchStart)
	assert.False(t, start.IsCustom)
	assert.Equal(t, "normal", start.Difficulty)
	assert.Equal(t, 3100, start.Opponent.Rating)
	assert.Zero(t, h.hub.queue.Len())
	assert.Equal(t, 1, h.hub.Sessions().Len())
}

func TestPartitionsDoNotPair(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.guest(t, "bob")
	h.hub.StartMatching("alice", "normal")
	h.hub.StartMatching("bob", "hard")
	assert.Zero(t, h.hub.Sessions().Len())
	assert.Equal(t, 2, h.hub.queue.Len())
}

func TestCancelMatchingIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.hub.CancelMatching("alice", "")
	assert.Zero(t, h.hub.queue.Len())

	h.hub.StartMatching("alice", "hard")
	h.hub.CancelMatching("alice", "normal")
	assert.Equal(t, 1, h.hub.queue.Len(), "cancelling another partition leaves the entry")
	h.hub.CancelMatching("alice", "hard")
	h.hub.CancelMatching("alice", "hard")
	assert.Zero(t, h.hub.queue.Len())
	assert.Len(t, h.rec.ofType("alice", protocol.TypeMatchingCancelled), 4)
}

func TestRankedWinSettlesAndPersists(t *testing.T) {
	h := newHarness(t, Config{})
	h.account(t, "alice", "alice")
	h.guest(t, "bob")
	sid := h.pairRanked(t)

	h.hub.PlayCard("alice", sid, 0)

	win := h.rec.last(t, "alice", protocol.TypeMatchEnd).(protocol.MatchEnd)
	assert.True(t, win.IsWinner)
	assert.Equal(t, "alice", win.WinnerID)
	assert.Equal(t, 12, win.RatingDelta)
	assert.Equal(t, 3012, win.NewRating)
	assert.Equal(t, string(session.ReasonWin), win.Reason)

	loss := h.rec.last(t, "bob", protocol.TypeMatchEnd).(protocol.MatchEnd)
	assert.False(t, loss.IsWinner)
	assert.Equal(t, -12, loss.RatingDelta)
	assert.Equal(t, 2988, loss.NewRating)
	p, _ := h.hub.Player("alice")
	assert.Contains(t, loss.OpponentName, "(3012)")
	assert.Equal(t, p.DisplayName(), loss.OpponentName)

	bob, _ := h.hub.Player("bob")
	assert.Equal(t, 2988, bob.Rating, "guests keep the delta for the rest of the connection")

	acct, err := h.store.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 3012, acct.Rating)
	assert.Equal(t, 1, acct.Wins)

	matches, err := h.store.ListMatches(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, sid, matches[0].ID)
	assert.Equal(t, "guest:bob", matches[0].PlayerB)

	_, ok := h.hub.Sessions().Get(sid)
	assert.False(t, ok, "finished sessions are removed")
	assert.Zero(t, h.clock.Pending(), "no timers survive the match")
}

func TestSettleUsesCurrentRatings(t *testing.T) {
	h := newHarness(t, Config{})
	h.account(t, "alice", "alice")
	h.guest(t, "bob")
	sid := h.pairRanked(t)

	h.hub.players.SetRating("alice", 3500)
	h.hub.PlayCard("alice", sid, 0)

	win := h.rec.last(t, "alice", protocol.TypeMatchEnd).(protocol.MatchEnd)
	wantWin := game.RatingDelta(3500, 3000, true)
	assert.Equal(t, wantWin, win.RatingDelta)
	assert.Equal(t, game.ApplyDelta(3500, wantWin), win.NewRating)

	loss := h.rec.last(t, "bob", protocol.TypeMatchEnd).(protocol.MatchEnd)
	wantLoss := game.RatingDelta(3000, 3500, false)
	assert.Equal(t, wantLoss, loss.RatingDelta)
	assert.Equal(t, game.ApplyDelta(3000, wantLoss), loss.NewRating)

	acct, err := h.store.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, win.NewRating, acct.Rating)
}

func TestSeatedPlayerCannotRequeue(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.guest(t, "bob")
	h.guest(t, "carol")
	h.pairRanked(t)

	h.hub.StartMatching("alice", "")
	assert.Equal(t, ErrAlreadyInMatch.Error(), h.errorReason(t, "alice"))
	assert.Empty(t, h.hub.queue.Waiting("normal"))

	h.hub.StartMatching("carol", "")
	assert.Empty(t, h.rec.ofType("carol", protocol.TypeMatchStart))
	assert.Empty(t, h.rec.ofType("carol", protocol.TypeError))
	assert.Equal(t, 1, h.hub.queue.Len())
}

func TestConcurrentStartMatchingSeatsOnce(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.guest(t, "bob")

	var wg sync.WaitGroup
	for range 20 {
		for _, id := range []string{"alice", "bob"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.hub.StartMatching(id, "")
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, 1, h.hub.Sessions().Len())
	assert.Zero(t, h.hub.queue.Len(), "seated players are never queued again")
	assert.Len(t, h.rec.ofType("alice", protocol.TypeMatchStart), 1)
}

func TestPlayAfterFinishHasNoEffect(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.guest(t, "bob")
	sid := h.pairRanked(t)
	h.hub.PlayCard("alice", sid, 0)
	require.Len(t, h.rec.ofType("alice", protocol.TypeMatchEnd), 1)

	h.hub.PlayCard("bob", sid, 0)
	assert.Len(t, h.rec.ofType("bob", protocol.TypeMatchEnd), 1)
	assert.Equal(t, ErrUnknownSession.Error(), h.errorReason(t, "bob"))
}

func TestPlayCardOutOfRangeIsDropped(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.guest(t, "bob")
	sid := h.pairRanked(t)
	h.hub.PlayCard("alice", sid, 9)
	assert.Empty(t, h.rec.ofType("alice", protocol.TypeError))
	assert.Empty(t, h.rec.ofType("alice", protocol.TypeMatchEnd))
}

func TestPlayCardDuringCountdownIsDropped(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.guest(t, "bob")
	h.hub.StartMatching("alice", "")
	h.hub.StartMatching("bob", "")
	sid := h.sessionID(t, "alice")
	h.hub.PlayCard("alice", sid, 0)
	assert.Empty(t, h.rec.ofType("alice", protocol.TypeMatchEnd))
	assert.Empty(t, h.rec.ofType("alice", protocol.TypeError))
}

func TestDisconnectForfeitsMatch(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.account(t, "bob", "bobby")
	sid := h.pairRanked(t)

	h.hub.Disconnect("alice")

	notice := h.rec.last(t, "bob", protocol.TypeOpponentDisconnected).(protocol.OpponentDisconnected)
	assert.NotEmpty(t, notice.Message)
	end := h.rec.last(t, "bob", protocol.TypeMatchEnd).(protocol.MatchEnd)
	assert.True(t, end.IsWinner)
	assert.Equal(t, string(session.ReasonDisconnect), end.Reason)
	assert.Positive(t, end.RatingDelta)

	acct, err := h.store.GetAccount(context.Background(), "bobby")
	require.NoError(t, err)
	assert.Equal(t, end.NewRating, acct.Rating)

	_, ok := h.hub.Sessions().Get(sid)
	assert.False(t, ok)
	_, ok = h.hub.Player("alice")
	assert.False(t, ok)
	assert.Zero(t, h.clock.Pending())
}

func TestDisconnectDuringCountdown(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.guest(t, "bob")
	h.hub.StartMatching("alice", "")
	h.hub.StartMatching("bob", "")
	h.clock.Advance(time.Second)

	h.hub.Disconnect("bob")
	end := h.rec.last(t, "alice", protocol.TypeMatchEnd).(protocol.MatchEnd)
	assert.True(t, end.IsWinner)
	assert.Zero(t, h.hub.Sessions().Len())

	before := len(h.rec.ofType("alice", protocol.TypeCountdown))
	h.clock.Advance(10 * time.Second)
	assert.Len(t, h.rec.ofType("alice", protocol.TypeCountdown), before, "no ticks after the match ended")
}

func TestDisconnectWhileQueued(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.hub.StartMatching("alice", "")
	h.hub.Disconnect("alice")
	assert.Zero(t, h.hub.queue.Len())

	h.guest(t, "bob")
	h.hub.StartMatching("bob", "")
	assert.Zero(t, h.hub.Sessions().Len())
}

func TestCustomRoomMatchIsUnranked(t *testing.T) {
	h := newHarness(t, Config{})
	h.account(t, "alice", "alice")
	h.guest(t, "bob")

	h.hub.CreateRoom("alice", "hard")
	room := h.rec.last(t, "alice", protocol.TypeRoomCreated).(protocol.RoomCreated)
	assert.Len(t, room.Code, 6)
	assert.Equal(t, "hard", room.Difficulty)

	h.hub.JoinRoom("bob", room.Code)
	start := h.rec.last(t, "bob", protocol.TypeMatchStart).(protocol.MatchStart)
	assert.True(t, start.IsCustom)
	assert.Equal(t, "hard", start.Difficulty)
	assert.Zero(t, h.hub.rooms.Len())

	h.clock.Advance(5 * time.Second)
	h.hub.PlayCard("alice", start.SessionID, 0)

	end := h.rec.last(t, "alice", protocol.TypeMatchEnd).(protocol.MatchEnd)
	assert.True(t, end.IsCustom)
	assert.Zero(t, end.RatingDelta)
	assert.Equal(t, 3000, end.NewRating)

	acct, err := h.store.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 3000, acct.Rating)
	assert.Zero(t, acct.Wins)

	matches, err := h.store.ListMatches(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].Custom)
}

func TestJoinRoomErrors(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.guest(t, "bob")
	h.guest(t, "carol")

	h.hub.JoinRoom("bob", "NOPE00")
	assert.Equal(t, "room not found", h.errorReason(t, "bob"))

	h.hub.CreateRoom("alice", "")
	code := h.rec.last(t, "alice", protocol.TypeRoomCreated).(protocol.RoomCreated).Code

	h.hub.JoinRoom("alice", code)
	assert.Equal(t, "cannot join your own room", h.errorReason(t, "alice"))

	h.hub.JoinRoom("bob", " "+strings.ToLower(code)+" ")
	require.NotEmpty(t, h.rec.ofType("bob", protocol.TypeMatchStart))

	h.hub.JoinRoom("carol", code)
	assert.Equal(t, "room not found", h.errorReason(t, "carol"))

	h.hub.CreateRoom("bob", "")
	assert.Equal(t, ErrAlreadyInMatch.Error(), h.errorReason(t, "bob"))
	h.hub.StartMatching("alice", "")
	assert.Equal(t, ErrAlreadyInMatch.Error(), h.errorReason(t, "alice"))
}

func TestRoomAndQueueAreExclusive(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")

	h.hub.StartMatching("alice", "")
	h.hub.CreateRoom("alice", "")
	assert.Zero(t, h.hub.queue.Len())
	assert.Equal(t, 1, h.hub.rooms.Len())

	h.hub.StartMatching("alice", "")
	assert.Equal(t, 1, h.hub.queue.Len())
	assert.Zero(t, h.hub.rooms.Len())
}

func TestSweepExpiresRooms(t *testing.T) {
	h := newHarness(t, Config{RoomTTL: time.Minute})
	h.guest(t, "alice")
	h.hub.CreateRoom("alice", "")

	h.clock.Advance(30 * time.Second)
	h.hub.Sweep()
	assert.Equal(t, 1, h.hub.rooms.Len())

	h.clock.Advance(time.Minute)
	h.hub.Sweep()
	assert.Zero(t, h.hub.rooms.Len())
	assert.Equal(t, msgRoomExpired, h.errorReason(t, "alice"))
}

func TestSweepForfeitsSilentPlayer(t *testing.T) {
	h := newHarness(t, Config{HeartbeatTimeout: 10 * time.Second})
	h.guest(t, "alice")
	h.guest(t, "bob")
	sid := h.pairRanked(t)

	h.clock.Advance(8 * time.Second)
	h.hub.Heartbeat("alice", sid)
	h.hub.Sweep()
	assert.Empty(t, h.rec.ofType("alice", protocol.TypeMatchEnd))

	h.clock.Advance(5 * time.Second)
	h.hub.Sweep()
	end := h.rec.last(t, "alice", protocol.TypeMatchEnd).(protocol.MatchEnd)
	assert.True(t, end.IsWinner)
	assert.Equal(t, string(session.ReasonTimeout), end.Reason)
	assert.NotEmpty(t, h.rec.ofType("alice", protocol.TypeOpponentDisconnected))
}

func TestSweepWithoutTimeoutKeepsSilentPlayers(t *testing.T) {
	h := newHarness(t, Config{})
	h.guest(t, "alice")
	h.guest(t, "bob")
	h.pairRanked(t)
	h.clock.Advance(time.Hour)
	h.hub.Sweep()
	assert.Equal(t, 1, h.hub.Sessions().Len())
}

func TestSweepLoop(t *testing.T) {
	h := newHarness(t, Config{RoomTTL: time.Second})
	h.guest(t, "alice")
	h.hub.CreateRoom("alice", "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	pending := h.clock.Pending()
	go func() {
		h.hub.SweepLoop(ctx, time.Second)
		close(done)
	}()
	require.Eventually(t, func() bool { return h.clock.Pending() > pending }, time.Second, time.Millisecond)

	h.clock.Advance(3 * time.Second)
	assert.Zero(t, h.hub.rooms.Len())

	cancel()
	<-done
	assert.Equal(t, pending, h.clock.Pending())
}

func TestDispatch(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	for _, raw := range []string{
		`{"type":"join","payload":{"name":"alice"}}`,
		`{"type":"startMatching","payload":{"difficulty":"hard"}}`,
		`{"type":"cancelMatching"}`,
		`{"type":"createRoom","payload":{}}`,
	} {
		msg, err := protocol.DecodeInbound([]byte(raw))
		require.NoError(t, err)
		h.hub.Dispatch(ctx, "c1", msg)
	}
	h.rec.last(t, "c1", protocol.TypeRegistered)
	h.rec.last(t, "c1", protocol.TypeMatchingStarted)
	h.rec.last(t, "c1", protocol.TypeMatchingCancelled)
	h.rec.last(t, "c1", protocol.TypeRoomCreated)
}
