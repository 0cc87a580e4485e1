// Package player tracks the profiles of connected players for the lifetime
// of their connection.
package player

import (
	"fmt"
	"sync"
)

// Pronouns are the tokens a display name is built from.
var Pronouns = []string{"あなた", "わたし", "きみ", "やつ", "おまえ", "じぶん", "われ", "おれ"}

// Player is a connected participant. ID is the connection identity.
type Player struct {
	ID       string
	Name     string
	Pronoun  string
	Rating   int
	Username string // empty for guests
	Guest    bool
}

// DisplayName renders the pronoun with the current rating.
func (p Player) DisplayName() string {
	return fmt.Sprintf("%s(%d)", p.Pronoun, p.Rating)
}

// Ranked reports whether rating changes for p are persisted.
func (p Player) Ranked() bool {
	return !p.Guest && p.Username != ""
}

// Directory maps connection ids to players.
type Directory struct {
	mu      sync.RWMutex
	players map[string]*Player
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{players: make(map[string]*Player)}
}

// Put adds or replaces the player for p.ID.
func (d *Directory) Put(p Player) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := p
	d.players[p.ID] = &cp
}

// Get returns a copy of the player.
func (d *Directory) Get(id string) (Player, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Rating returns the current rating for id.
func (d *Directory) Rating(id string) (int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.players[id]
	if !ok {
		return 0, false
	}
	return p.Rating, true
}

// SetRating replaces the rating of a connected player.
func (d *Directory) SetRating(id string, rating int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.players[id]
	if !ok {
		return false
	}
	p.Rating = rating
	return true
}

// Remove forgets a player.
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.players, id)
}

// Len returns the number of connected players.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.players)
}
