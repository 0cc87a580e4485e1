// Package server exposes the hub over HTTP: a WebSocket endpoint for play
// and a few read-only JSON endpoints.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"primeduel/internal/game"
	"primeduel/internal/hub"
	"primeduel/internal/storage"
)

const (
	defaultLeaderboard = 10
	maxLeaderboard     = 100
	defaultMatches     = 20
	maxMatches         = 100
)

// Records reads ranked accounts and match history.
type Records interface {
	TopRatings(ctx context.Context, limit int) ([]storage.AccountRow, error)
	ListMatches(ctx context.Context, player string, limit int) ([]storage.MatchRow, error)
}

// Server is the HTTP server.
type Server struct {
	mux    *http.ServeMux
	hub    *hub.Hub
	conns  *Conns
	rules  *game.Registry
	scores Records
	log    zerolog.Logger
}

// New creates a server with all routes. conns must be the notifier the hub
// was built with.
func New(h *hub.Hub, conns *Conns, rules *game.Registry, scores Records, log zerolog.Logger) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		hub:    h,
		conns:  conns,
		rules:  rules,
		scores: scores,
		log:    log.With().Str("component", "server").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/difficulties", s.handleListDifficulties)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	s.mux.HandleFunc("GET /api/matches", s.handleListMatches)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type healthResponse struct {
	Status      string         `json:"status"`
	Connections int            `json:"connections"`
	Sessions    int            `json:"sessions"`
	Lobby       hub.LobbyStats `json:"lobby"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Connections: s.conns.Len(),
		Sessions:    s.hub.Sessions().Len(),
		Lobby:       s.hub.Lobby(),
	})
}

func (s *Server) handleListDifficulties(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rules.List())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Sessions().List())
}

type leaderboardEntry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Pronoun  string `json:"pronoun"`
	Rating   int    `json:"rating"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, defaultLeaderboard, maxLeaderboard)
	if !ok {
		return
	}
	rows, err := s.scores.TopRatings(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("leaderboard")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "leaderboard unavailable"})
		return
	}
	entries := make([]leaderboardEntry, 0, len(rows))
	for i, row := range rows {
		entries = append(entries, leaderboardEntry{
			Rank:     i + 1,
			Username: row.Username,
			Pronoun:  row.Pronoun,
			Rating:   row.Rating,
			Wins:     row.Wins,
			Losses:   row.Losses,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

type matchEntry struct {
	ID         string    `json:"id"`
	Difficulty string    `json:"difficulty"`
	Custom     bool      `json:"custom"`
	Players    [2]string `json:"players"`
	Deltas     [2]int    `json:"deltas"`
	Winner     string    `json:"winner"`
	Reason     string    `json:"reason"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// handleListMatches returns recent matches, newest first. ?player= narrows
// the list to one account, or to a guest as "guest:<name>".
func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, defaultMatches, maxMatches)
	if !ok {
		return
	}
	player := r.URL.Query().Get("player")
	rows, err := s.scores.ListMatches(r.Context(), player, limit)
	if err != nil {
		s.log.Error().Err(err).Str("player", player).Msg("list matches")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "match history unavailable"})
		return
	}
	entries := make([]matchEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, matchEntry{
			ID:         row.ID,
			Difficulty: row.Difficulty,
			Custom:     row.Custom,
			Players:    [2]string{row.PlayerA, row.PlayerB},
			Deltas:     [2]int{row.DeltaA, row.DeltaB},
			Winner:     row.Winner,
			Reason:     row.Reason,
			StartedAt:  row.StartedAt,
			FinishedAt: row.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// queryLimit parses ?limit=, writing a 400 when it is not a positive integer.
func queryLimit(w http.ResponseWriter, r *http.Request, fallback, ceiling int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, ceiling), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
