package game

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Policy selects how a deck is drawn from the prime set.
type Policy string

const (
	// PolicyCapped draws under per-prime frequency caps, then shuffles.
	PolicyCapped Policy = "capped"
	// PolicyUncapped draws every slot uniformly from the full set.
	PolicyUncapped Policy = "uncapped"
)

const (
	DefaultDeckSize = 30
	DefaultHandSize = 5
)

// ErrInvalidRules is returned by Validate.
var ErrInvalidRules = errors.New("invalid rules")

// Range is an inclusive integer range.
type Range struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Rules configures one difficulty.
type Rules struct {
	Difficulty         string      `yaml:"difficulty" json:"difficulty"`
	Primes             []int       `yaml:"primes" json:"primes"`
	Caps               map[int]int `yaml:"caps" json:"caps,omitempty"`
	Policy             Policy      `yaml:"policy" json:"policy"`
	DeckSize           int         `yaml:"deck_size" json:"deckSize"`
	HandSize           int         `yaml:"hand_size" json:"handSize"`
	Complexity         Range       `yaml:"complexity" json:"complexity"`
	RevealOpponentHand bool        `yaml:"reveal_opponent_hand" json:"revealOpponentHand"`
}

// WithDefaults fills zero sizes and policy.
func (r Rules) WithDefaults() Rules {
	if r.DeckSize == 0 {
		r.DeckSize = DefaultDeckSize
	}
	if r.HandSize == 0 {
		r.HandSize = DefaultHandSize
	}
	if r.Policy == "" {
		if len(r.Caps) > 0 {
			r.Policy = PolicyCapped
		} else {
			r.Policy = PolicyUncapped
		}
	}
	return r
}

// Validate checks the rule set is playable.
func (r Rules) Validate() error {
	if r.Difficulty == "" {
		return fmt.Errorf("%w: difficulty is required", ErrInvalidRules)
	}
	if len(r.Primes) == 0 {
		return fmt.Errorf("%w: %s: no primes", ErrInvalidRules, r.Difficulty)
	}
	seen := make(map[int]bool, len(r.Primes))
	for _, p := range r.Primes {
		if !isPrime(p) {
			return fmt.Errorf("%w: %s: %d is not prime", ErrInvalidRules, r.Difficulty, p)
		}
		if seen[p] {
			return fmt.Errorf("%w: %s: duplicate prime %d", ErrInvalidRules, r.Difficulty, p)
		}
		seen[p] = true
	}
	if r.DeckSize < 1 || r.HandSize < 1 || r.HandSize > r.DeckSize {
		return fmt.Errorf("%w: %s: hand size %d, deck size %d", ErrInvalidRules, r.Difficulty, r.HandSize, r.DeckSize)
	}
	if r.Complexity.Min < 1 || r.Complexity.Max < r.Complexity.Min {
		return fmt.Errorf("%w: %s: complexity %d-%d", ErrInvalidRules, r.Difficulty, r.Complexity.Min, r.Complexity.Max)
	}
	if top := slices.Max(r.Primes); !powFits(top, r.Complexity.Max) {
		return fmt.Errorf("%w: %s: %d^%d overflows a target", ErrInvalidRules, r.Difficulty, top, r.Complexity.Max)
	}
	switch r.Policy {
	case PolicyUncapped:
	case PolicyCapped:
		total := 0
		for p, n := range r.Caps {
			if !seen[p] {
				return fmt.Errorf("%w: %s: cap for unknown prime %d", ErrInvalidRules, r.Difficulty, p)
			}
			if n < 0 {
				return fmt.Errorf("%w: %s: negative cap for %d", ErrInvalidRules, r.Difficulty, p)
			}
			total += n
		}
		if total < r.DeckSize {
			return fmt.Errorf("%w: %s: caps sum to %d, need at least %d", ErrInvalidRules, r.Difficulty, total, r.DeckSize)
		}
	default:
		return fmt.Errorf("%w: %s: unknown policy %q", ErrInvalidRules, r.Difficulty, r.Policy)
	}
	return nil
}

// powFits reports whether p^n fits in an int64.
func powFits(p, n int) bool {
	v := int64(1)
	for range n {
		if v > math.MaxInt64/int64(p) {
			return false
		}
		v *= int64(p)
	}
	return true
}

// FirstDivisor returns the first prime, in set order, that divides target.
func (r Rules) FirstDivisor(target int64) (int, bool) {
	for _, p := range r.Primes {
		if target%int64(p) == 0 {
			return p, true
		}
	}
	return 0, false
}

// Factorable reports whether target is a product of primes from the set.
func (r Rules) Factorable(target int64) bool {
	if target < 2 {
		return false
	}
	for target > 1 {
		p, ok := r.FirstDivisor(target)
		if !ok {
			return false
		}
		target /= int64(p)
	}
	return true
}

func (r Rules) clone() Rules {
	r.Primes = slices.Clone(r.Primes)
	if r.Caps != nil {
		caps := make(map[int]int, len(r.Caps))
		for k, v := range r.Caps {
			caps[k] = v
		}
		r.Caps = caps
	}
	return r
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for d := 2; d*d <= n; d++ {
		if n%d == 0 {
			return false
		}
	}
	return true
}
