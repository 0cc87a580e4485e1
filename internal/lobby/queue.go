// Package lobby holds players who are waiting for a match: the rated
// matchmaking queue and private rooms joined by code.
package lobby

import (
	"slices"
	"sync"
)

// DefaultTolerance is the widest rating gap paired on the first pass.
const DefaultTolerance = 300

// RatingFunc looks up a waiting player's rating. Players it does not know
// are dropped from the queue.
type RatingFunc func(id string) (int, bool)

// Pair is a successful pairing. A is the longer-waiting player.
type Pair struct {
	A, B       string
	Difficulty string
	Gap        int
	// Fallback is set when no pair was within tolerance and the two
	// longest-waiting players were matched anyway.
	Fallback bool
}

// Queue is a FIFO of waiting players partitioned by difficulty.
type Queue struct {
	mu        sync.Mutex
	tolerance int
	rating    RatingFunc
	waiting   map[string][]string
}

// NewQueue creates an empty queue.
func NewQueue(tolerance int, rating RatingFunc) *Queue {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Queue{tolerance: tolerance, rating: rating, waiting: make(map[string][]string)}
}

// Enqueue appends id under difficulty and runs a pairing pass. added is
// false when id was already waiting anywhere. pair is non-nil when the pass
// matched two players; both have been removed from the queue.
func (q *Queue) Enqueue(id, difficulty string) (pair *Pair, added bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.containsLocked(id) {
		return nil, false
	}
	q.waiting[difficulty] = append(q.waiting[difficulty], id)
	return q.pairLocked(difficulty), true
}

// Dequeue removes id from the difficulty partition. It is idempotent.
func (q *Queue) Dequeue(id, difficulty string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(id, difficulty)
}

// Remove drops id from every partition.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := false
	for key := range q.waiting {
		if q.removeLocked(id, key) {
			removed = true
		}
	}
	return removed
}

// Waiting returns the ids queued under difficulty, oldest first.
func (q *Queue) Waiting(difficulty string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.waiting[difficulty])
}

// Len returns the total number of waiting players.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, ids := range q.waiting {
		n += len(ids)
	}
	return n
}

func (q *Queue) containsLocked(id string) bool {
	for _, ids := range q.waiting {
		if slices.Contains(ids, id) {
			return true
		}
	}
	return false
}

func (q *Queue) removeLocked(id, difficulty string) bool {
	ids := q.waiting[difficulty]
	i := slices.Index(ids, id)
	if i < 0 {
		return false
	}
	ids = slices.Delete(ids, i, i+1)
	if len(ids) == 0 {
		delete(q.waiting, difficulty)
	} else {
		q.waiting[difficulty] = ids
	}
	return true
}

func (q *Queue) pairLocked(difficulty string) *Pair {
	ids := q.waiting[difficulty]
	ratings := make([]int, 0, len(ids))
	live := ids[:0]
	for _, id := range ids {
		r, ok := q.rating(id)
		if !ok {
			continue
		}
		live = append(live, id)
		ratings = append(ratings, r)
	}
	ids = live
	q.setLocked(difficulty, ids)
	if len(ids) < 2 {
		return nil
	}

	for i := 0; i < len(ids)-1; i++ {
		for j := i + 1; j < len(ids); j++ {
			gap := abs(ratings[i] - ratings[j])
			if gap <= q.tolerance {
				p := &Pair{A: ids[i], B: ids[j], Difficulty: difficulty, Gap: gap}
				// j > i, so removing j first keeps i in place.
				ids = slices.Delete(ids, j, j+1)
				ids = slices.Delete(ids, i, i+1)
				q.setLocked(difficulty, ids)
				return p
			}
		}
	}

	p := &Pair{A: ids[0], B: ids[1], Difficulty: difficulty, Gap: abs(ratings[0] - ratings[1]), Fallback: true}
	q.setLocked(difficulty, ids[2:])
	return p
}

func (q *Queue) setLocked(difficulty string, ids []string) {
	if len(ids) == 0 {
		delete(q.waiting, difficulty)
		return
	}
	q.waiting[difficulty] = slices.Clone(ids)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
