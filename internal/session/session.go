// Package session runs individual matches: the countdown, card plays,
// forced divisions when neither side can move, and the end of the match.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"primeduel/internal/clock"
	"primeduel/internal/game"
	"primeduel/internal/protocol"
)

// Status represents the session lifecycle.
type Status string

const (
	StatusCountdown Status = "countdown"
	StatusPlaying   Status = "playing"
	StatusFinished  Status = "finished"
)

// Reason records why a match ended.
type Reason string

const (
	ReasonWin        Reason = "win"
	ReasonDisconnect Reason = "disconnect"
	ReasonTimeout    Reason = "timeout"
)

var (
	ErrNotPlaying     = errors.New("session is not in play")
	ErrNotParticipant = errors.New("player is not in this session")
	ErrCardIndex      = errors.New("card index out of range")
	ErrInvalidMove    = errors.New("card does not divide the target")
)

// Notifier pushes messages to a connected player. Implementations must not
// block and must not call back into the session.
type Notifier interface {
	Send(playerID string, msg protocol.Outbound)
}

// Participant is one side of a match.
type Participant struct {
	ID          string
	DisplayName string
	Rating      int
}

// Timing configures the session timers.
type Timing struct {
	CountdownFrom int
	Tick          time.Duration
	StartDelay    time.Duration
	ForceCheck    time.Duration
}

// DefaultTiming counts down 3, 2, 1, start at one-second steps and checks
// for a stalled target every second.
var DefaultTiming = Timing{
	CountdownFrom: 3,
	Tick:          time.Second,
	StartDelay:    time.Second,
	ForceCheck:    time.Second,
}

// Options configures a new Session.
type Options struct {
	ID        string
	Players   [2]Participant
	Dealer    *game.Dealer
	Custom    bool
	Timing    Timing
	Scheduler clock.Scheduler
	Notifier  Notifier
	Logger    zerolog.Logger
}

// Result is the outcome of a finished match.
type Result struct {
	SessionID  string
	Difficulty string
	Custom     bool
	Players    [2]Participant
	Winner     int
	Reason     Reason
	StartedAt  time.Time
	FinishedAt time.Time
}

// WinnerID returns the id of the winning side.
func (r Result) WinnerID() string { return r.Players[r.Winner].ID }

// LoserID returns the id of the losing side.
func (r Result) LoserID() string { return r.Players[1-r.Winner].ID }

// Session owns one match. All methods are safe for concurrent use; timer
// callbacks and player actions are serialized by the session lock.
type Session struct {
	mu sync.Mutex

	id      string
	custom  bool
	players [2]Participant
	dealer  *game.Dealer
	rules   game.Rules

	decks  [2]game.Deck
	hands  [2]game.Hand
	target int64
	status Status
	winner int
	reason Reason
	count  int

	createdAt  time.Time
	updatedAt  time.Time
	finishedAt time.Time
	alive      [2]time.Time

	countdown  clock.Timer
	forceCheck clock.Timer

	timing Timing
	sched  clock.Scheduler
	notify Notifier
	log    zerolog.Logger
}

// New deals both sides and returns a session in countdown. Timers do not
// run until Start.
func New(opts Options) *Session {
	if opts.Scheduler == nil {
		opts.Scheduler = clock.Real()
	}
	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming
	}
	rules := opts.Dealer.Rules()
	now := opts.Scheduler.Now()
	s := &Session{
		id:        opts.ID,
		custom:    opts.Custom,
		players:   opts.Players,
		dealer:    opts.Dealer,
		rules:     rules,
		status:    StatusCountdown,
		winner:    -1,
		count:     opts.Timing.CountdownFrom,
		createdAt: now,
		updatedAt: now,
		alive:     [2]time.Time{now, now},
		timing:    opts.Timing,
		sched:     opts.Scheduler,
		notify:    opts.Notifier,
		log:       opts.Logger.With().Str("session", opts.ID).Logger(),
	}
	for side := range 2 {
		deck := opts.Dealer.Deck()
		n := min(rules.HandSize, len(deck))
		s.hands[side] = append(game.Hand(nil), deck[:n]...)
		s.decks[side] = deck[n:]
	}
	s.target = opts.Dealer.Target()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Custom reports whether the match is unranked.
func (s *Session) Custom() bool { return s.custom }

// Players returns both participants.
func (s *Session) Players() [2]Participant { return s.players }

// Start announces the match to both sides and begins the countdown.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusCountdown || s.countdown != nil {
		return
	}
	for side := range 2 {
		opp := s.players[1-side]
		s.notify.Send(s.players[side].ID, protocol.MatchStart{
			SessionID:  s.id,
			Opponent:   protocol.OpponentSummary{DisplayName: opp.DisplayName, Rating: opp.Rating},
			IsCustom:   s.custom,
			Difficulty: s.rules.Difficulty,
			View:       s.viewLocked(side),
		})
	}
	s.countdown = s.sched.Every(s.timing.Tick, s.tick)
}

func (s *Session) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusCountdown || s.count < 0 {
		return
	}
	if s.count > 0 {
		s.broadcastLocked(protocol.CountdownTick{Count: s.count})
		s.count--
		return
	}
	s.broadcastLocked(protocol.CountdownTick{Start: true})
	s.count = -1
	s.countdown.Stop()
	s.countdown = s.sched.After(s.timing.StartDelay, s.begin)
}

func (s *Session) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusCountdown {
		return
	}
	now := s.sched.Now()
	s.status = StatusPlaying
	s.updatedAt = now
	s.alive = [2]time.Time{now, now}
	s.countdown = nil
	s.forceCheck = s.sched.Every(s.timing.ForceCheck, s.checkStalled)
	s.log.Debug().Int64("target", s.target).Msg("match playing")
	s.broadcastViewsLocked()
}

// PlayCard plays the card at index from the player's hand. When the play
// empties the player's hand and deck, the match finishes and the result is
// returned with finished set.
func (s *Session) PlayCard(playerID string, index int) (res Result, finished bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPlaying {
		return Result{}, false, ErrNotPlaying
	}
	side, ok := s.sideLocked(playerID)
	if !ok {
		return Result{}, false, ErrNotParticipant
	}
	hand := &s.hands[side]
	if index < 0 || index >= len(*hand) {
		return Result{}, false, ErrCardIndex
	}
	card := (*hand)[index]
	if !card.Divides(s.target) {
		s.notify.Send(playerID, protocol.InvalidMove{Reason: "that card does not divide the target"})
		return Result{}, false, ErrInvalidMove
	}

	s.target /= int64(card)
	hand.Remove(index)
	s.refillLocked(side)
	if s.target == 1 {
		s.target = s.dealer.Target()
		s.log.Debug().Int64("target", s.target).Msg("target reached one, dealt a new target")
	}

	for w := range 2 {
		if len(s.hands[w]) == 0 && len(s.decks[w]) == 0 {
			return s.finishLocked(w, ReasonWin), true, nil
		}
	}

	now := s.sched.Now()
	s.updatedAt = now
	s.alive[side] = now
	s.broadcastViewsLocked()
	return Result{}, false, nil
}

func (s *Session) refillLocked(side int) {
	for len(s.hands[side]) < s.rules.HandSize {
		c, ok := s.decks[side].Draw()
		if !ok {
			return
		}
		s.hands[side] = append(s.hands[side], c)
	}
}

// checkStalled applies a compulsory division when neither hand can divide
// the target.
func (s *Session) checkStalled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPlaying {
		return
	}
	if s.hands[0].CanDivide(s.target) || s.hands[1].CanDivide(s.target) {
		return
	}
	if p, ok := s.rules.FirstDivisor(s.target); ok && s.target > 1 {
		s.target /= int64(p)
		s.log.Debug().Int("prime", p).Int64("target", s.target).Msg("compulsory division")
	} else {
		s.target = 1
	}
	if s.target == 1 {
		s.target = s.dealer.Target()
		s.log.Debug().Int64("target", s.target).Msg("dealt a new target")
	}
	s.updatedAt = s.sched.Now()
	s.broadcastViewsLocked()
}

// Heartbeat refreshes the player's liveness timestamp.
func (s *Session) Heartbeat(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusFinished {
		return false
	}
	side, ok := s.sideLocked(playerID)
	if !ok {
		return false
	}
	s.alive[side] = s.sched.Now()
	return true
}

// Forfeit ends an unfinished match with playerID as the loser.
func (s *Session) Forfeit(playerID string, reason Reason) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusFinished {
		return Result{}, false
	}
	side, ok := s.sideLocked(playerID)
	if !ok {
		return Result{}, false
	}
	return s.finishLocked(1-side, reason), true
}

// Stale returns the side in play whose last sign of life is older than
// timeout. When both are, the quieter one is returned.
func (s *Session) Stale(timeout time.Duration) (playerID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPlaying || timeout <= 0 {
		return "", false
	}
	now := s.sched.Now()
	side := 0
	if s.alive[1].Before(s.alive[0]) {
		side = 1
	}
	if now.Sub(s.alive[side]) <= timeout {
		return "", false
	}
	return s.players[side].ID, true
}

// Close stops the session timers without deciding a result.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimersLocked()
}

func (s *Session) finishLocked(winner int, reason Reason) Result {
	s.status = StatusFinished
	s.winner = winner
	s.reason = reason
	s.finishedAt = s.sched.Now()
	s.stopTimersLocked()
	s.log.Info().
		Str("winner", s.players[winner].ID).
		Str("reason", string(reason)).
		Msg("match finished")
	return Result{
		SessionID:  s.id,
		Difficulty: s.rules.Difficulty,
		Custom:     s.custom,
		Players:    s.players,
		Winner:     winner,
		Reason:     reason,
		StartedAt:  s.createdAt,
		FinishedAt: s.finishedAt,
	}
}

func (s *Session) stopTimersLocked() {
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
	if s.forceCheck != nil {
		s.forceCheck.Stop()
		s.forceCheck = nil
	}
}

func (s *Session) sideLocked(playerID string) (int, bool) {
	switch playerID {
	case s.players[0].ID:
		return 0, true
	case s.players[1].ID:
		return 1, true
	}
	return 0, false
}

func (s *Session) broadcastLocked(msg protocol.Outbound) {
	s.notify.Send(s.players[0].ID, msg)
	s.notify.Send(s.players[1].ID, msg)
}

func (s *Session) broadcastViewsLocked() {
	for side := range 2 {
		s.notify.Send(s.players[side].ID, protocol.StateUpdate{View: s.viewLocked(side)})
	}
}
