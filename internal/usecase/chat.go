package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"campus-assistant/internal/checkpoint"
	"campus-assistant/internal/domain"
	"campus-assistant/internal/logger"
	"campus-assistant/internal/pipeline"
)

const defaultPersistTimeout = 10 * time.Second

// TurnRunner executes the stages of one turn over state.
type TurnRunner interface {
	Run(ctx context.Context, state *domain.TurnState) error
}

// RecencyToucher records that a user just used a thread.
type RecencyToucher interface {
	Touch(ctx context.Context, userID, threadID, message string) error
}

type ChatService struct {
	store          CheckpointStore
	runner         TurnRunner
	recency        RecencyToucher
	log            *logger.Logger
	persistTimeout time.Duration
	locks          keyedMutex
}

type TurnInput struct {
	ThreadID string
	UserID   string
	Message  string
}

type TurnOutput struct {
	ThreadID string
	Reply    domain.Message
	Revision int64
}

// ChatOption customises a ChatService.
type ChatOption func(*ChatService)

// WithRecency enables recent-conversation tracking after successful turns.
func WithRecency(r RecencyToucher) ChatOption {
	return func(s *ChatService) { s.recency = r }
}

// WithPersistTimeout bounds the checkpoint write of a turn.
func WithPersistTimeout(d time.Duration) ChatOption {
	return func(s *ChatService) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

func NewChatService(store CheckpointStore, runner TurnRunner, log *logger.Logger, opts ...ChatOption) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("usecase: checkpoint store must not be nil")
	}
	if runner == nil {
		return nil, errors.New("usecase: turn runner must not be nil")
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &ChatService{
		store:          store,
		runner:         runner,
		log:            log,
		persistTimeout: defaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunTurn appends the user's message to the conversation, runs the pipeline
// and persists the resulting state as a new checkpoint. Partial state is
// persisted when a stage fails, and the stage failure is then returned.
func (s *ChatService) RunTurn(ctx context.Context, in TurnInput) (TurnOutput, error) {
	threadID, err := ValidateThreadID(in.ThreadID)
	if err != nil {
		return TurnOutput{}, err
	}
	text := strings.TrimSpace(in.Message)
	if text == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_query", nil)
	}
	log := s.log.With("conversation_id", threadID)

	unlock := s.locks.Lock(threadID)
	defer unlock()

	latest, decoded, err := decodeLatest(ctx, s.store, log, threadID, checkpoint.DecodeRaw)
	if err != nil {
		return TurnOutput{}, err
	}
	var parent int64
	if latest != nil {
		parent = latest.Revision
	}

	prior, skipped := checkpoint.RestoreTranscript(decoded)
	logSkipped(log, threadID, skipped)
	log.Debug("transcript restored", "stored", prior.Len(), "projected", len(prior.Messages))

	messages := make([]domain.Message, 0, len(prior.Messages)+2)
	messages = append(messages, prior.Messages...)
	state := &domain.TurnState{
		ConversationID: threadID,
		Messages: append(messages, domain.Message{
			Role:    domain.RoleHuman,
			Content: text,
			ID:      newUUID(),
		}),
	}

	runErr := s.runner.Run(ctx, state)

	saved, err := s.persist(ctx, prior, state, parent)
	if err != nil {
		log.Error("failed to persist checkpoint", "parent_revision", parent, "err", err)
		return TurnOutput{}, err
	}
	log.Info("checkpoint persisted", "revision", saved.Revision, "failed", state.Failed())

	if runErr != nil {
		var stageErr *pipeline.StageError
		if errors.As(runErr, &stageErr) {
			return TurnOutput{}, stageError(stageErr)
		}
		return TurnOutput{}, newError(ErrorInternal, "pipeline_error", runErr)
	}

	reply, ok := state.LastMessage()
	if !ok || reply.Role != domain.RoleAI {
		return TurnOutput{}, newError(ErrorInternal, "missing_reply", nil)
	}

	if s.recency != nil && strings.TrimSpace(in.UserID) != "" {
		if err := s.recency.Touch(ctx, in.UserID, threadID, text); err != nil {
			log.Warn("failed to update recent conversations", "user_id", in.UserID, "err", err)
		}
	}

	return TurnOutput{ThreadID: threadID, Reply: reply, Revision: saved.Revision}, nil
}

// persist writes state on a context detached from the caller so a cancelled
// turn still records how far it got. Entries of prior are written back as
// stored.
func (s *ChatService) persist(ctx context.Context, prior checkpoint.Transcript, state *domain.TurnState, parent int64) (domain.Checkpoint, error) {
	meta := checkpoint.Meta{ID: newUUID(), CreatedAt: now().UTC()}
	blob, err := checkpoint.AppendState(prior, state, meta)
	if err != nil {
		return domain.Checkpoint{}, newError(ErrorInternal, "checkpoint_encode_error", err)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	saved, err := s.store.AppendCheckpoint(writeCtx, state.ConversationID, parent, meta.ID, blob)
	if errors.Is(err, domain.ErrCheckpointConflict) {
		return domain.Checkpoint{}, newError(ErrorConflict, "checkpoint_conflict", err)
	}
	if err != nil {
		return domain.Checkpoint{}, newError(ErrorStoreUnavailable, "checkpoint_write_error", err)
	}
	return saved, nil
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = time.Now
