package game

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownDifficulty is returned when no rule set matches a key.
var ErrUnknownDifficulty = errors.New("unknown difficulty")

// Registry holds a dealer per difficulty key.
type Registry struct {
	mu       sync.RWMutex
	dealers  map[string]*Dealer
	fallback string
}

// NewRegistry creates an empty registry. Empty difficulty keys resolve to
// fallback.
func NewRegistry(fallback string) *Registry {
	return &Registry{dealers: make(map[string]*Dealer), fallback: fallback}
}

// Register adds a dealer. Panics on duplicate difficulties.
func (r *Registry) Register(d *Dealer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := d.rules.Difficulty
	if _, exists := r.dealers[name]; exists {
		panic(fmt.Sprintf("difficulty %q already registered", name))
	}
	r.dealers[name] = d
}

// Resolve maps a requested key to a registered difficulty.
func (r *Registry) Resolve(difficulty string) (string, error) {
	if difficulty == "" {
		difficulty = r.fallback
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.dealers[difficulty]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDifficulty, difficulty)
	}
	return difficulty, nil
}

// Get returns the dealer for a difficulty.
func (r *Registry) Get(difficulty string) (*Dealer, bool) {
	if difficulty == "" {
		difficulty = r.fallback
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dealers[difficulty]
	return d, ok
}

// List returns every rule set ordered by difficulty.
func (r *Registry) List() []Rules {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rules, 0, len(r.dealers))
	for _, d := range r.dealers {
		out = append(out, d.Rules())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Difficulty < out[j].Difficulty })
	return out
}
