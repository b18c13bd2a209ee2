package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campus-assistant/internal/domain"
)

// RecentService maintains each user's bounded list of recent conversations.
type RecentService struct {
	store RecencyStore
	clock func() time.Time
}

func NewRecentService(store RecencyStore) (*RecentService, error) {
	if store == nil {
		return nil, errors.New("usecase: recency store must not be nil")
	}
	return &RecentService{store: store, clock: now}, nil
}

// Touch moves threadID to the most recent position of the user's list,
// creating it with a title taken from message when absent. The whole list is
// written back in one call.
func (s *RecentService) Touch(ctx context.Context, userID, threadID, message string) error {
	userID, err := validateUserID(userID)
	if err != nil {
		return err
	}
	entries, err := s.store.LoadRecency(ctx, userID)
	if err != nil {
		return fmt.Errorf("usecase: load recent conversations: %w", err)
	}
	updated := domain.TouchRecency(entries, threadID, domain.RecencyTitle(message), s.clock().UTC())
	if err := s.store.SaveRecency(ctx, userID, updated); err != nil {
		return fmt.Errorf("usecase: save recent conversations: %w", err)
	}
	return nil
}

// List returns the user's recent conversations, most recently used last.
func (s *RecentService) List(ctx context.Context, userID string) ([]domain.RecencyEntry, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.LoadRecency(ctx, userID)
	if err != nil {
		return nil, newError(ErrorStoreUnavailable, "recency_read_error", err)
	}
	if entries == nil {
		entries = []domain.RecencyEntry{}
	}
	return entries, nil
}
