package srs

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/studybuddy/backend/internal/storage/models"
)

// ErrInvalidRating marks a caller contract violation; Advance has no
// runtime branch for unknown ratings.
var ErrInvalidRating = errors.New("invalid review rating")

type Rating string

const (
	RatingAgain Rating = "Again"
	RatingHard  Rating = "Hard"
	RatingGood  Rating = "Good"
	RatingEasy  Rating = "Easy"
)

const (
	// DefaultEaseFactor is EF 2.5 in fixed-point (scaled by 1000).
	DefaultEaseFactor = 2500
	// MinEaseFactor is the EF 1.3 floor that stops intervals from
	// shrinking without bound.
	MinEaseFactor = 1300
)

// NewState returns the lazily-created state for an item that has never
// been reviewed: due immediately, at the default ease factor.
func NewState(userID, itemID string, now time.Time) models.ReviewState {
	return models.ReviewState{
		UserID:       userID,
		ItemID:       itemID,
		EaseFactor:   DefaultEaseFactor,
		IntervalDays: 0,
		Repetitions:  0,
		DueAt:        now,
	}
}

// ParseRating validates an incoming rating string.
func ParseRating(s string) (Rating, error) {
	switch Rating(s) {
	case RatingAgain, RatingHard, RatingGood, RatingEasy:
		return Rating(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRating, s)
	}
}

// Advance is the SM-2 transition function: pure and total over valid
// ratings. Again resets repetitions and schedules a 1-day interval
// without touching the ease factor. Successful ratings step the
// interval through 1, 6, then round(interval * EF/1000). The interval
// multiplier uses the ease factor from before this review's update;
// the ease factor itself is updated afterwards in the same step.
func Advance(state models.ReviewState, rating Rating, now time.Time) models.ReviewState {
	easeFactor := state.EaseFactor
	interval := state.IntervalDays
	repetitions := state.Repetitions

	if rating == RatingAgain {
		repetitions = 0
		interval = 1
	} else {
		repetitions++
		switch {
		case repetitions == 1:
			interval = 1
		case repetitions == 2:
			interval = 6
		default:
			interval = int(math.Round(float64(interval) * float64(easeFactor) / 1000))
		}

		quality := qualityFor(rating)
		easeFactor += int(math.Round(0.1*float64(quality)*100)) - 80 + (quality-3)*30
		if easeFactor < MinEaseFactor {
			easeFactor = MinEaseFactor
		}
	}

	reviewed := now
	return models.ReviewState{
		UserID:         state.UserID,
		ItemID:         state.ItemID,
		EaseFactor:     easeFactor,
		IntervalDays:   interval,
		Repetitions:    repetitions,
		DueAt:          now.AddDate(0, 0, interval),
		LastReviewedAt: &reviewed,
	}
}

func qualityFor(rating Rating) int {
	switch rating {
	case RatingEasy:
		return 5
	case RatingGood:
		return 4
	default: // Hard
		return 3
	}
}
