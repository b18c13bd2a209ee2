package usecase

import (
	"context"
	"errors"
	"sync"

	"campus-assistant/internal/checkpoint"
	"campus-assistant/internal/domain"
	"campus-assistant/internal/logger"
)

// CheckpointStore is the append-only conversation state store.
type CheckpointStore interface {
	LatestCheckpoint(ctx context.Context, conversationID string) (*domain.Checkpoint, error)
	AppendCheckpoint(ctx context.Context, conversationID string, parentRevision int64, checkpointID string, blob []byte) (domain.Checkpoint, error)
}

// RecencyStore loads and replaces a user's recent-conversation list.
type RecencyStore interface {
	LoadRecency(ctx context.Context, userID string) ([]domain.RecencyEntry, error)
	SaveRecency(ctx context.Context, userID string, entries []domain.RecencyEntry) error
}

// decodeLatest reads the newest checkpoint of a conversation with decode. A
// missing checkpoint or an empty blob yields a nil value and no error.
func decodeLatest(ctx context.Context, store CheckpointStore, log *logger.Logger, conversationID string, decode func(any) (checkpoint.Value, error)) (*domain.Checkpoint, checkpoint.Value, error) {
	latest, err := store.LatestCheckpoint(ctx, conversationID)
	if err != nil {
		return nil, nil, newError(ErrorStoreUnavailable, "checkpoint_read_error", err)
	}
	if latest == nil {
		return nil, nil, nil
	}

	v, err := decode(latest.Blob)
	if errors.Is(err, checkpoint.ErrEmpty) {
		log.Warn("checkpoint blob is empty", "conversation_id", conversationID, "revision", latest.Revision)
		return latest, nil, nil
	}
	if err != nil {
		return nil, nil, newError(ErrorCorruptCheckpoint, "checkpoint_decode_error", err)
	}
	return latest, v, nil
}

func logSkipped(log *logger.Logger, conversationID string, skipped []error) {
	for _, err := range skipped {
		log.Warn("skipping checkpoint message", "conversation_id", conversationID, "err", err)
	}
}

// keyedMutex serializes work per key and drops idle keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
