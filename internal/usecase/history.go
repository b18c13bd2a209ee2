package usecase

import (
	"context"
	"errors"

	"campus-assistant/internal/checkpoint"
	"campus-assistant/internal/domain"
	"campus-assistant/internal/logger"
)

// HistoryService rebuilds display history from the latest checkpoint.
type HistoryService struct {
	store CheckpointStore
	log   *logger.Logger
}

func NewHistoryService(store CheckpointStore, log *logger.Logger) (*HistoryService, error) {
	if store == nil {
		return nil, errors.New("usecase: checkpoint store must not be nil")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &HistoryService{store: store, log: log}, nil
}

// GetHistory returns the conversation's messages. A thread without a
// checkpoint has an empty history. maxMessages > 0 keeps only the most recent
// messages.
func (s *HistoryService) GetHistory(ctx context.Context, threadID string, maxMessages int) (domain.History, error) {
	threadID, err := ValidateThreadID(threadID)
	if err != nil {
		return domain.History{}, err
	}

	_, decoded, err := decodeLatest(ctx, s.store, s.log, threadID, checkpoint.Decode)
	if err != nil {
		return domain.History{}, err
	}

	msgs, skipped := checkpoint.ExtractMessages(decoded)
	logSkipped(s.log, threadID, skipped)

	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	return domain.History{
		ThreadID:     threadID,
		MessageCount: len(msgs),
		Messages:     msgs,
	}, nil
}
