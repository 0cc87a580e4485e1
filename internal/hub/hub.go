// Package hub routes player actions to the lobby and to running sessions,
// creates sessions when players are paired, and settles finished matches.
package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"primeduel/internal/auth"
	"primeduel/internal/clock"
	"primeduel/internal/game"
	"primeduel/internal/lobby"
	"primeduel/internal/player"
	"primeduel/internal/protocol"
	"primeduel/internal/session"
)

var (
	ErrNotRegistered  = errors.New("not registered")
	ErrAlreadyInMatch = errors.New("already in match")
	ErrUnknownSession = errors.New("session not found")
)

const (
	msgRoomExpired          = "room expired"
	msgOpponentDisconnected = "Your opponent disconnected. You win!"
	msgOpponentTimedOut     = "Your opponent stopped responding. You win!"
)

// Accounts is the user directory the hub authenticates against and
// reports finished matches to.
type Accounts interface {
	Authenticate(ctx context.Context, claim protocol.Join) (auth.Identity, error)
	RecordMatch(ctx context.Context, rec auth.MatchRecord) error
}

// Config tunes the hub.
type Config struct {
	// Tolerance is the widest rating gap paired before falling back to
	// the two longest-waiting players.
	Tolerance int
	// HeartbeatTimeout forfeits a silent side in play. Zero disables it.
	HeartbeatTimeout time.Duration
	// RoomTTL closes unfilled rooms. Zero keeps them until the host leaves.
	RoomTTL time.Duration
	Timing  session.Timing
}

// Hub is the entry point for every client action.
type Hub struct {
	// mu serializes lobby transitions so a player is never paired and
	// disconnected at the same time. Lock order: mu, then the session
	// manager, then individual sessions.
	mu sync.Mutex

	players  *player.Directory
	queue    *lobby.Queue
	rooms    *lobby.Rooms
	sessions *session.Manager
	rules    *game.Registry
	accounts Accounts
	notify   session.Notifier
	sched    clock.Scheduler
	cfg      Config
	log      zerolog.Logger
}

// New creates a hub. notify must not block.
func New(rules *game.Registry, accounts Accounts, notify session.Notifier, sched clock.Scheduler, cfg Config, log zerolog.Logger) *Hub {
	if sched == nil {
		sched = clock.Real()
	}
	log = log.With().Str("component", "hub").Logger()
	players := player.NewDirectory()
	return &Hub{
		players:  players,
		queue:    lobby.NewQueue(cfg.Tolerance, players.Rating),
		rooms:    lobby.NewRooms(sched.Now),
		sessions: session.NewManager(sched, notify, cfg.Timing, log),
		rules:    rules,
		accounts: accounts,
		notify:   notify,
		sched:    sched,
		cfg:      cfg,
		log:      log,
	}
}

// Sessions exposes the running sessions for read-only listings.
func (h *Hub) Sessions() *session.Manager { return h.sessions }

// Player returns the profile registered on a connection.
func (h *Hub) Player(connID string) (player.Player, bool) { return h.players.Get(connID) }

// LobbyStats counts players waiting outside a match.
type LobbyStats struct {
	Queued map[string]int `json:"queued"`
	Rooms  int            `json:"rooms"`
}

// Lobby reports queue depth per difficulty and the number of open rooms.
func (h *Hub) Lobby() LobbyStats {
	stats := LobbyStats{Queued: make(map[string]int), Rooms: h.rooms.Len()}
	for _, r := range h.rules.List() {
		stats.Queued[r.Difficulty] = len(h.queue.Waiting(r.Difficulty))
	}
	return stats
}

// Dispatch routes a decoded client message.
func (h *Hub) Dispatch(ctx context.Context, connID string, msg protocol.Inbound) {
	switch m := msg.(type) {
	case *protocol.Join:
		h.Join(ctx, connID, *m)
	case *protocol.StartMatching:
		h.StartMatching(connID, m.Difficulty)
	case *protocol.CancelMatching:
		h.CancelMatching(connID, m.Difficulty)
	case *protocol.CreateRoom:
		h.CreateRoom(connID, m.Difficulty)
	case *protocol.JoinRoom:
		h.JoinRoom(connID, m.Code)
	case *protocol.PlayCard:
		h.PlayCard(connID, m.SessionID, m.CardIndex)
	case *protocol.Heartbeat:
		h.Heartbeat(connID, m.SessionID)
	default:
		h.log.Warn().Str("conn", connID).Type("msg", msg).Msg("unhandled message")
	}
}

// Join authenticates a claim and registers the connection's profile. A
// second join replaces the profile.
func (h *Hub) Join(ctx context.Context, connID string, claim protocol.Join) {
	id, err := h.accounts.Authenticate(ctx, claim)
	if err != nil {
		h.log.Info().Err(err).Str("conn", connID).Msg("join rejected")
		h.notify.Send(connID, protocol.AuthError{Reason: err.Error()})
		return
	}
	p := player.Player{
		ID:       connID,
		Name:     id.Name,
		Pronoun:  id.Pronoun,
		Rating:   id.Rating,
		Username: id.Username,
		Guest:    id.Guest,
	}
	h.players.Put(p)
	h.log.Info().
		Str("conn", connID).
		Str("player", p.DisplayName()).
		Bool("guest", p.Guest).
		Msg("player registered")
	h.notify.Send(connID, protocol.Registered{Profile: profile(p), Token: id.Token})
}

// StartMatching queues the player under a difficulty and pairs if it can.
func (h *Hub) StartMatching(connID, difficulty string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	diff, err := h.ready(connID, difficulty)
	if err != nil {
		h.fail(connID, err)
		return
	}
	h.rooms.RemoveHost(connID)
	pair, added := h.queue.Enqueue(connID, diff)
	h.notify.Send(connID, protocol.MatchingStarted{Difficulty: diff})
	if !added {
		return
	}
	h.log.Debug().Str("conn", connID).Str("difficulty", diff).Msg("queued")
	if pair == nil {
		return
	}
	h.log.Info().
		Str("a", pair.A).
		Str("b", pair.B).
		Int("gap", pair.Gap).
		Bool("fallback", pair.Fallback).
		Msg("players paired")
	h.startLocked(pair.A, pair.B, diff, false)
}

// CancelMatching leaves the queue. An empty difficulty leaves every
// partition.
func (h *Hub) CancelMatching(connID, difficulty string) {
	h.mu.Lock()
	if difficulty == "" {
		h.queue.Remove(connID)
	} else if diff, err := h.rules.Resolve(difficulty); err == nil {
		h.queue.Dequeue(connID, diff)
	}
	h.mu.Unlock()
	h.notify.Send(connID, protocol.MatchingCancelled{})
}

// CreateRoom opens a private room hosted by the player.
func (h *Hub) CreateRoom(connID, difficulty string) {
	h.mu.Lock()
	diff, err := h.ready(connID, difficulty)
	if err != nil {
		h.mu.Unlock()
		h.fail(connID, err)
		return
	}
	h.queue.Remove(connID)
	h.rooms.RemoveHost(connID)
	room, err := h.rooms.Create(connID, diff)
	h.mu.Unlock()
	if err != nil {
		h.log.Error().Err(err).Str("conn", connID).Msg("create room")
		h.fail(connID, err)
		return
	}
	h.log.Info().Str("conn", connID).Str("room", room.Code).Msg("room created")
	h.notify.Send(connID, protocol.RoomCreated{Code: room.Code, Difficulty: room.Difficulty})
}

// JoinRoom fills a private room and starts an unranked match.
func (h *Hub) JoinRoom(connID, code string) {
	code = strings.ToUpper(strings.TrimSpace(code))

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.idle(connID); err != nil {
		h.fail(connID, err)
		return
	}
	room, err := h.rooms.Join(code, connID)
	if err != nil {
		h.fail(connID, err)
		return
	}
	h.rooms.Close(code)
	h.queue.Remove(connID)
	h.rooms.RemoveHost(connID)
	h.log.Info().Str("room", code).Str("host", room.HostID).Str("guest", connID).Msg("room filled")
	h.startLocked(room.HostID, connID, room.Difficulty, true)
}

// ready checks that connID may enter the lobby and resolves difficulty.
// Callers hold h.mu.
func (h *Hub) ready(connID, difficulty string) (string, error) {
	if err := h.idle(connID); err != nil {
		return "", err
	}
	return h.rules.Resolve(difficulty)
}

func (h *Hub) idle(connID string) error {
	if _, ok := h.players.Get(connID); !ok {
		return ErrNotRegistered
	}
	if _, busy := h.sessions.ForPlayer(connID); busy {
		return ErrAlreadyInMatch
	}
	return nil
}

func (h *Hub) startLocked(a, b, difficulty string, custom bool) {
	pa, okA := h.players.Get(a)
	pb, okB := h.players.Get(b)
	if !okA || !okB {
		h.log.Warn().Str("a", a).Str("b", b).Msg("paired player left before the match started")
		return
	}
	dealer, ok := h.rules.Get(difficulty)
	if !ok {
		h.log.Error().Str("difficulty", difficulty).Msg("no dealer for difficulty")
		return
	}
	_, err := h.sessions.Create([2]session.Participant{participant(pa), participant(pb)}, dealer, custom)
	if err != nil {
		h.log.Error().Err(err).Str("a", a).Str("b", b).Msg("create session")
		h.notify.Send(a, protocol.Error{Reason: err.Error()})
		h.notify.Send(b, protocol.Error{Reason: err.Error()})
	}
}

// PlayCard forwards a move to the player's session.
func (h *Hub) PlayCard(connID, sessionID string, index int) {
	s, ok := h.sessions.Get(sessionID)
	if !ok {
		h.fail(connID, ErrUnknownSession)
		return
	}
	res, finished, err := s.PlayCard(connID, index)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrInvalidMove):
		// The session has already told the player.
		return
	case errors.Is(err, session.ErrCardIndex), errors.Is(err, session.ErrNotPlaying):
		h.log.Debug().Err(err).Str("conn", connID).Str("session", sessionID).Int("index", index).Msg("move dropped")
		return
	default:
		h.fail(connID, err)
		return
	}
	if finished {
		h.settle(res, "")
	}
}

// Heartbeat refreshes the player's liveness in a session.
func (h *Hub) Heartbeat(connID, sessionID string) {
	s, ok := h.sessions.Get(sessionID)
	if !ok {
		return
	}
	s.Heartbeat(connID)
}

// Disconnect removes every trace of the connection. A match in progress
// is forfeited to the opponent.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	h.queue.Remove(connID)
	closed := h.rooms.RemoveHost(connID)
	s, inSession := h.sessions.ForPlayer(connID)
	h.mu.Unlock()

	if len(closed) > 0 {
		h.log.Debug().Str("conn", connID).Strs("rooms", closed).Msg("rooms closed")
	}
	if inSession {
		if res, ok := s.Forfeit(connID, session.ReasonDisconnect); ok {
			h.settle(res, msgOpponentDisconnected)
		} else {
			h.sessions.Remove(s.ID())
		}
	}
	h.players.Remove(connID)
	h.log.Info().Str("conn", connID).Msg("player left")
}

// Sweep expires old rooms and forfeits silent players.
func (h *Hub) Sweep() {
	if h.cfg.RoomTTL > 0 {
		h.mu.Lock()
		expired := h.rooms.Expire(h.cfg.RoomTTL)
		h.mu.Unlock()
		for _, room := range expired {
			h.log.Info().Str("room", room.Code).Str("host", room.HostID).Msg("room expired")
			h.notify.Send(room.HostID, protocol.Error{Reason: msgRoomExpired})
		}
	}
	for _, st := range h.sessions.Stale(h.cfg.HeartbeatTimeout) {
		res, ok := st.Session.Forfeit(st.PlayerID, session.ReasonTimeout)
		if !ok {
			continue
		}
		h.log.Info().Str("session", res.SessionID).Str("player", st.PlayerID).Msg("heartbeat timeout")
		h.settle(res, msgOpponentTimedOut)
	}
}

// SweepLoop runs Sweep every interval until ctx is done.
func (h *Hub) SweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := h.sched.Every(interval, h.Sweep)
	<-ctx.Done()
	t.Stop()
}

// settle applies ratings, notifies both sides and records the match. A
// non-empty notice is sent to the winner first.
func (h *Hub) settle(res session.Result, notice string) {
	h.sessions.Remove(res.SessionID)

	// Deltas use the directory's current ratings, not the ones captured when
	// the session started.
	var (
		sides  [2]auth.Side
		latest [2]player.Player
		before [2]int
	)
	for i, part := range res.Players {
		p, ok := h.players.Get(part.ID)
		if !ok {
			p = player.Player{ID: part.ID, Rating: part.Rating, Guest: true}
		}
		latest[i] = p
		before[i] = p.Rating
	}
	for i := range latest {
		p := &latest[i]
		delta := 0
		rating := p.Rating
		if !res.Custom {
			delta = game.RatingDelta(before[i], before[1-i], i == res.Winner)
			rating = game.ApplyDelta(before[i], delta)
			h.players.SetRating(p.ID, rating)
			p.Rating = rating
		}
		sides[i] = auth.Side{Rating: rating, Delta: delta, Name: p.Name}
		if p.Ranked() {
			sides[i].Username = p.Username
		}
	}

	if notice != "" {
		h.notify.Send(res.WinnerID(), protocol.OpponentDisconnected{Message: notice})
	}
	for i := range 2 {
		h.notify.Send(latest[i].ID, protocol.MatchEnd{
			SessionID:    res.SessionID,
			WinnerID:     res.WinnerID(),
			IsWinner:     i == res.Winner,
			OpponentName: displayName(latest[1-i], res.Players[1-i]),
			RatingDelta:  sides[i].Delta,
			NewRating:    sides[i].Rating,
			IsCustom:     res.Custom,
			Reason:       string(res.Reason),
		})
	}

	h.log.Info().
		Str("session", res.SessionID).
		Str("winner", res.WinnerID()).
		Str("reason", string(res.Reason)).
		Bool("custom", res.Custom).
		Int("delta_a", sides[0].Delta).
		Int("delta_b", sides[1].Delta).
		Msg("match settled")

	rec := auth.MatchRecord{
		SessionID:  res.SessionID,
		Difficulty: res.Difficulty,
		Custom:     res.Custom,
		Sides:      sides,
		Winner:     res.Winner,
		Reason:     string(res.Reason),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.accounts.RecordMatch(ctx, rec); err != nil {
		h.log.Error().Err(err).Str("session", res.SessionID).Msg("record match")
	}
}

func (h *Hub) fail(connID string, err error) {
	h.notify.Send(connID, protocol.Error{Reason: reason(err)})
}

// reason strips wrapping detail from lobby and hub errors.
func reason(err error) string {
	for _, target := range []error{
		ErrNotRegistered, ErrAlreadyInMatch, ErrUnknownSession,
		lobby.ErrRoomNotFound, lobby.ErrRoomFull, lobby.ErrSelfJoin,
		session.ErrNotParticipant,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func participant(p player.Player) session.Participant {
	return session.Participant{ID: p.ID, DisplayName: p.DisplayName(), Rating: p.Rating}
}

func displayName(p player.Player, fallback session.Participant) string {
	if p.Pronoun == "" {
		return fallback.DisplayName
	}
	return p.DisplayName()
}

func profile(p player.Player) protocol.Profile {
	return protocol.Profile{
		ID:          p.ID,
		Name:        p.Name,
		Pronoun:     p.Pronoun,
		Rating:      p.Rating,
		DisplayName: p.DisplayName(),
		Username:    p.Username,
		Guest:       p.Guest,
	}
}

// String summarizes the hub for logs.
func (h *Hub) String() string {
	return fmt.Sprintf("hub{players=%d queued=%d rooms=%d sessions=%d}",
		h.players.Len(), h.queue.Len(), h.rooms.Len(), h.sessions.Len())
}
