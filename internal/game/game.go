// Package game holds the arithmetic card rules: prime cards, decks, hands,
// the dealer that builds decks and targets, and the rating engine.
package game

// Card is a prime divisor card.
type Card int

// Divides reports whether the card evenly divides target.
func (c Card) Divides(target int64) bool {
	return c > 0 && target%int64(c) == 0
}

// Deck is a private draw pile. Cards are drawn from the end.
type Deck []Card

// Draw pops the last card.
func (d *Deck) Draw() (Card, bool) {
	n := len(*d)
	if n == 0 {
		return 0, false
	}
	c := (*d)[n-1]
	*d = (*d)[:n-1]
	return c, true
}

// Hand is the bounded set of playable cards for one side.
type Hand []Card

// CanDivide reports whether any card in the hand divides target.
func (h Hand) CanDivide(target int64) bool {
	for _, c := range h {
		if c.Divides(target) {
			return true
		}
	}
	return false
}

// Remove deletes the card at i, preserving order.
func (h *Hand) Remove(i int) Card {
	c := (*h)[i]
	*h = append((*h)[:i], (*h)[i+1:]...)
	return c
}

// Ints returns a copy of the cards as plain integers, for payloads.
func (h Hand) Ints() []int {
	out := make([]int, len(h))
	for i, c := range h {
		out[i] = int(c)
	}
	return out
}
