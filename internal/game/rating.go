package game

import "math"

const (
	MinRating     = 1000
	MaxRating     = 6000
	InitialRating = 3000

	// MaxRatingDelta bounds a single match's swing in either direction.
	MaxRatingDelta = 100

	kBase = 32
)

// RatingDelta returns the signed rating change for subject after a match
// against opponent. Wins are positive, losses negative.
func RatingDelta(subject, opponent int, won bool) int {
	k := kBase * math.Max(0.1, 1-math.Pow(float64(subject)/MaxRating, 2))
	expected := 1 / (1 + math.Pow(10, float64(opponent-subject)/400))

	var delta int
	if won {
		delta = roundHalfUp(k * (1 - expected))
		switch {
		case subject >= 5500:
			delta = max(1, roundHalfUp(float64(delta)*0.3))
		case subject >= 5000:
			delta = roundHalfUp(float64(delta) * 0.6)
		}
	} else {
		delta = -roundHalfUp(k * expected)
		if subject >= 4000 {
			delta = roundHalfUp(float64(delta) * 1.5)
		}
	}
	return min(MaxRatingDelta, max(-MaxRatingDelta, delta))
}

// ApplyDelta adds delta and clamps the result into the rating range.
func ApplyDelta(rating, delta int) int {
	return ClampRating(rating + delta)
}

// ClampRating bounds r to [MinRating, MaxRating].
func ClampRating(r int) int {
	return min(MaxRating, max(MinRating, r))
}

// roundHalfUp rounds .5 toward positive infinity for both signs.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
