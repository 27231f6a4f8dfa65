package srs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy/backend/internal/storage/models"
)

func newTestState() models.ReviewState {
	return models.ReviewState{
		UserID:       "user-1",
		ItemID:       "card-1",
		EaseFactor:   DefaultEaseFactor,
		IntervalDays: 0,
		Repetitions:  0,
	}
}

func TestGoodTrajectoryFromNew(t *testing.T) {
	day := func(offset int) time.Time {
		return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
	}

	state := newTestState()

	state = Advance(state, RatingGood, day(0))
	assert.Equal(t, 1, state.Repetitions)
	assert.Equal(t, 1, state.IntervalDays)
	assert.Equal(t, 2490, state.EaseFactor)

	state = Advance(state, RatingGood, day(1))
	assert.Equal(t, 2, state.Repetitions)
	assert.Equal(t, 6, state.IntervalDays)
	assert.Equal(t, 2480, state.EaseFactor)

	state = Advance(state, RatingGood, day(7))
	assert.Equal(t, 3, state.Repetitions)
	// The interval multiplies by the ease factor from before this
	// review's own update: round(6 * 2.48) = 15.
	assert.Equal(t, 15, state.IntervalDays)
	assert.Equal(t, 2470, state.EaseFactor)
	assert.Equal(t, day(7).AddDate(0, 0, 15), state.DueAt)
	require.NotNil(t, state.LastReviewedAt)
	assert.Equal(t, day(7), *state.LastReviewedAt)
}

func TestAgainAlwaysResets(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	states := []models.ReviewState{
		{EaseFactor: 2500, IntervalDays: 0, Repetitions: 0},
		{EaseFactor: 2800, IntervalDays: 15, Repetitions: 3},
		{EaseFactor: 1300, IntervalDays: 180, Repetitions: 9},
	}

	for _, state := range states {
		next := Advance(state, RatingAgain, now)
		assert.Equal(t, 0, next.Repetitions)
		assert.Equal(t, 1, next.IntervalDays)
		assert.Equal(t, state.EaseFactor, next.EaseFactor, "Again must not touch the ease factor")
		assert.Equal(t, now.AddDate(0, 0, 1), next.DueAt)
	}
}

func TestEaseFactorFloor(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	state := newTestState()

	for i := 0; i < 50; i++ {
		state = Advance(state, RatingHard, now)
		assert.GreaterOrEqual(t, state.EaseFactor, MinEaseFactor)
		now = now.AddDate(0, 0, state.IntervalDays)
	}
	assert.Equal(t, MinEaseFactor, state.EaseFactor)
}

func TestEaseFactorDeltas(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	easy := Advance(newTestState(), RatingEasy, now)
	assert.Equal(t, 2530, easy.EaseFactor)

	good := Advance(newTestState(), RatingGood, now)
	assert.Equal(t, 2490, good.EaseFactor)

	hard := Advance(newTestState(), RatingHard, now)
	assert.Equal(t, 2450, hard.EaseFactor)
}

func TestFirstTwoSuccessIntervalsFixed(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, rating := range []Rating{RatingHard, RatingGood, RatingEasy} {
		state := Advance(newTestState(), rating, now)
		assert.Equal(t, 1, state.IntervalDays, "repetition 1 is always 1 day")
		state = Advance(state, rating, now.AddDate(0, 0, 1))
		assert.Equal(t, 6, state.IntervalDays, "repetition 2 is always 6 days")
	}
}

func TestRecoveryAfterLapse(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	state := newTestState()
	state = Advance(state, RatingGood, now)
	state = Advance(state, RatingGood, now.AddDate(0, 0, 1))
	state = Advance(state, RatingAgain, now.AddDate(0, 0, 7))
	require.Equal(t, 0, state.Repetitions)

	state = Advance(state, RatingGood, now.AddDate(0, 0, 8))
	assert.Equal(t, 1, state.Repetitions)
	assert.Equal(t, 1, state.IntervalDays, "a lapse restarts the interval ladder")
}

func TestParseRating(t *testing.T) {
	for _, valid := range []string{"Again", "Hard", "Good", "Easy"} {
		rating, err := ParseRating(valid)
		require.NoError(t, err)
		assert.Equal(t, Rating(valid), rating)
	}

	_, err := ParseRating("Meh")
	assert.ErrorIs(t, err, ErrInvalidRating)
	_, err = ParseRating("good")
	assert.ErrorIs(t, err, ErrInvalidRating)
}

func TestNewState(t *testing.T) {
	now := time.Now()
	state := NewState("u", "c", now)
	assert.Equal(t, DefaultEaseFactor, state.EaseFactor)
	assert.Equal(t, 0, state.IntervalDays)
	assert.Equal(t, 0, state.Repetitions)
	assert.Equal(t, now, state.DueAt)
	assert.Nil(t, state.LastReviewedAt)
}
