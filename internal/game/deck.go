package game

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Dealer builds decks and targets for one rule set. It is safe for
// concurrent use.
type Dealer struct {
	rules Rules

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDealer validates rules and returns a dealer drawing from src.
// A nil src seeds from the clock.
func NewDealer(rules Rules, src rand.Source) (*Dealer, error) {
	rules = rules.WithDefaults()
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.NewPCG(now, now>>1|1)
	}
	return &Dealer{rules: rules.clone(), rng: rand.New(src)}, nil
}

// Rules returns a copy of the dealer's rule set.
func (d *Dealer) Rules() Rules {
	return d.rules.clone()
}

// Deck generates a fresh deck of DeckSize cards.
func (d *Dealer) Deck() Deck {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rules.Policy == PolicyCapped {
		return d.cappedLocked()
	}
	deck := make(Deck, d.rules.DeckSize)
	for i := range deck {
		deck[i] = Card(d.rules.Primes[d.rng.IntN(len(d.rules.Primes))])
	}
	return deck
}

func (d *Dealer) cappedLocked() Deck {
	primes := d.rules.Primes
	counts := make(map[int]int, len(primes))
	available := make([]int, 0, len(primes))
	deck := make(Deck, 0, d.rules.DeckSize)

	for len(deck) < d.rules.DeckSize {
		available = available[:0]
		for _, p := range primes {
			if counts[p] < d.rules.Caps[p] {
				available = append(available, p)
			}
		}
		if len(available) == 0 {
			clear(counts)
			available = append(available, primes...)
		}
		p := available[d.rng.IntN(len(available))]
		deck = append(deck, Card(p))
		counts[p]++
	}

	d.rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}

// Target multiplies a random number of primes, drawn with replacement,
// where the count is uniform over the complexity range.
func (d *Dealer) Target() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.rules.Complexity
	n := c.Min + d.rng.IntN(c.Max-c.Min+1)
	value := int64(1)
	for range n {
		value *= int64(d.rules.Primes[d.rng.IntN(len(d.rules.Primes))])
	}
	return value
}
