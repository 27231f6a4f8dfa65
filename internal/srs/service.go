package srs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studybuddy/backend/internal/metrics"
	"github.com/studybuddy/backend/internal/storage/models"
	"github.com/studybuddy/backend/internal/storage/sqlite"
	"github.com/studybuddy/backend/pkg/logger"
)

// Store is the slice of the storage client the review service needs.
type Store interface {
	GetCard(id string) (*models.Card, error)
	GetReviewState(userID, itemID string) (*models.ReviewState, error)
	RecordReview(ctx context.Context, state models.ReviewState, event models.ReviewEvent) error
	ListDueCards(userID string, now time.Time, limit int) ([]sqlite.DueCard, error)
	CountDueNow(userID string, now time.Time) (int, error)
	CountDueBetween(userID string, from, to time.Time) (int, error)
	SeedReviewStates(states []models.ReviewState) error
}

type Service struct {
	store      Store
	queueLimit int
}

func NewService(store Store, queueLimit int) *Service {
	return &Service{store: store, queueLimit: queueLimit}
}

type ReviewOutcome struct {
	State models.ReviewState `json:"state"`
	Event models.ReviewEvent `json:"event"`
}

// RecordReview applies one rating to a card's scheduling state and
// appends the review event, both in one storage transaction. A card
// reviewed for the first time starts from the default state. The event
// records the interval that had been scheduled next to the days that
// actually elapsed, so scheduling adherence stays measurable.
func (s *Service) RecordReview(ctx context.Context, userID, itemID, ratingText string, now time.Time) (*ReviewOutcome, error) {
	rating, err := ParseRating(ratingText)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetCard(itemID); err != nil {
		return nil, fmt.Errorf("failed to load card: %w", err)
	}

	prev, err := s.store.GetReviewState(userID, itemID)
	if err != nil {
		if !errors.Is(err, sqlite.ErrNotFound) {
			return nil, err
		}
		fresh := NewState(userID, itemID, now)
		prev = &fresh
	}

	var actualDays *int
	if prev.LastReviewedAt != nil {
		d := int(now.Sub(*prev.LastReviewedAt).Hours() / 24)
		actualDays = &d
	}

	next := Advance(*prev, rating, now)

	event := models.ReviewEvent{
		ID:                    uuid.New().String(),
		UserID:                userID,
		ItemID:                itemID,
		Rating:                string(rating),
		ScheduledIntervalDays: prev.IntervalDays,
		ActualIntervalDays:    actualDays,
		CreatedAt:             now,
	}

	if err := s.store.RecordReview(ctx, next, event); err != nil {
		return nil, err
	}

	metrics.ReviewsRecorded.WithLabelValues(string(rating)).Inc()
	logger.Debug("Review applied",
		zap.String("item_id", itemID),
		zap.String("rating", string(rating)),
		zap.Int("interval_days", next.IntervalDays),
		zap.Int("ease_factor", next.EaseFactor),
	)

	return &ReviewOutcome{State: next, Event: event}, nil
}

type Queue struct {
	Cards            []sqlite.DueCard `json:"cards"`
	DueCount         int              `json:"dueCount"`
	DueTomorrowCount int              `json:"dueTomorrowCount"`
}

// DailyQueue returns cards to study now: cards whose state is due plus
// cards never reviewed, capped at the configured queue limit.
func (s *Service) DailyQueue(ctx context.Context, userID string, now time.Time) (*Queue, error) {
	cards, err := s.store.ListDueCards(userID, now, s.queueLimit)
	if err != nil {
		return nil, err
	}

	dueCount, err := s.store.CountDueNow(userID, now)
	if err != nil {
		return nil, err
	}

	dueTomorrow, err := s.store.CountDueBetween(userID, now, now.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	metrics.DueQueueSize.Set(float64(len(cards)))

	return &Queue{
		Cards:            cards,
		DueCount:         dueCount,
		DueTomorrowCount: dueTomorrow,
	}, nil
}

// SeedCardStates creates default scheduling state for freshly
// generated cards so they surface in the daily queue immediately.
// Existing state is never overwritten.
func (s *Service) SeedCardStates(userID string, cards []models.Card, now time.Time) error {
	states := make([]models.ReviewState, len(cards))
	for i, card := range cards {
		states[i] = NewState(userID, card.ID, now)
	}
	return s.store.SeedReviewStates(states)
}
