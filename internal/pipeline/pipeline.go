// Package pipeline runs the ordered retrieval-augmented stages of one
// conversation turn over a shared TurnState.
package pipeline

import (
	"context"
	"errors"
	"time"

	"campus-assistant/internal/domain"
	"campus-assistant/internal/logger"
)

const defaultCapabilityTimeout = 30 * time.Second

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs a similarity search restricted to one campus.
type Searcher interface {
	Search(ctx context.Context, vector []float32, campus string, topK int) ([]domain.Match, error)
}

// Completer produces the next message for a role-tagged transcript.
type Completer interface {
	Complete(ctx context.Context, messages []domain.Message) (domain.Message, error)
}

// Stage is one step of the turn. A stage returns a *StageError when it cannot
// complete; any other error is treated as an unexpected failure of the stage.
type Stage interface {
	Name() string
	Run(ctx context.Context, state *domain.TurnState) error
}

// Pipeline folds a fixed list of stages over a TurnState, stopping at the
// first failure.
type Pipeline struct {
	stages []Stage
	log    *logger.Logger
}

// Config wires the capability services used by the default stages.
type Config struct {
	Embedder Embedder
	Searcher Searcher
	// ScopeCompleter classifies campus scope; AnswerCompleter writes the reply.
	ScopeCompleter  Completer
	AnswerCompleter Completer
	// CapabilityTimeout bounds every individual capability call.
	CapabilityTimeout time.Duration
	// SearchConcurrency caps parallel campus searches; zero searches one at a time.
	SearchConcurrency int
	Logger            *logger.Logger
}

// New builds the six-stage turn pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("pipeline: embedder must not be nil")
	}
	if cfg.Searcher == nil {
		return nil, errors.New("pipeline: searcher must not be nil")
	}
	if cfg.ScopeCompleter == nil {
		return nil, errors.New("pipeline: scope completer must not be nil")
	}
	if cfg.AnswerCompleter == nil {
		return nil, errors.New("pipeline: answer completer must not be nil")
	}
	timeout := cfg.CapabilityTimeout
	if timeout <= 0 {
		timeout = defaultCapabilityTimeout
	}
	return NewWithStages(cfg.Logger,
		ExtractQuery{},
		ClassifyScope{Completer: cfg.ScopeCompleter, Timeout: timeout},
		Vectorize{Embedder: cfg.Embedder, Timeout: timeout},
		Retrieve{Searcher: cfg.Searcher, Timeout: timeout, Concurrency: cfg.SearchConcurrency},
		AssembleContext{},
		GenerateAnswer{Completer: cfg.AnswerCompleter, Timeout: timeout},
	), nil
}

// NewWithStages builds a pipeline over an explicit stage list.
func NewWithStages(log *logger.Logger, stages ...Stage) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{stages: stages, log: log}
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes the stages in order. The first failing stage records a
// StageFailure on state and the remaining stages are skipped; the returned
// *StageError carries the cause. A state that already failed is left alone.
func (p *Pipeline) Run(ctx context.Context, state *domain.TurnState) error {
	if state == nil {
		return errors.New("pipeline: state must not be nil")
	}
	if state.Failed() {
		return &StageError{Stage: state.Failure.Stage, Reason: state.Failure.Reason, Message: state.Failure.Message}
	}
	log := p.log.With("conversation_id", state.ConversationID)

	for _, stage := range p.stages {
		name := stage.Name()
		start := time.Now()
		log.Debug("stage started", "stage", name)

		err := stage.Run(ctx, state)
		elapsed := time.Since(start).Milliseconds()
		if err == nil {
			log.Info("stage finished", "stage", name, "duration_ms", elapsed)
			continue
		}

		var stageErr *StageError
		if !errors.As(err, &stageErr) {
			stageErr = &StageError{Reason: ReasonStageCrashed, Message: "The request could not be processed.", Err: err}
		}
		stageErr.Stage = name
		state.Failure = &domain.StageFailure{
			Stage:   name,
			Reason:  stageErr.Reason,
			Message: stageErr.Message,
		}
		log.Warn("stage failed",
			"stage", name,
			"reason", stageErr.Reason,
			"duration_ms", elapsed,
			"err", stageErr.Err,
		)
		return stageErr
	}
	return nil
}

// callContext bounds a single capability call.
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultCapabilityTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
