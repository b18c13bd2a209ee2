package pipeline

import "fmt"

// Stage failure reasons recorded on TurnState.Failure.
const (
	ReasonNoQuery          = "no_query"
	ReasonNoScope          = "no_scope"
	ReasonScopeUnparseable = "scope_unparseable"
	ReasonEmbeddingFailed  = "embedding_failed"
	ReasonMissingVector    = "missing_vector"
	ReasonMissingScope     = "missing_scope"
	ReasonRetrievalFailed  = "retrieval_failed"
	ReasonCompletionFailed = "completion_failed"
	ReasonStageCrashed     = "stage_error"
)

// StageError is the terminal failure of one stage. Message is safe to show
// to the end user; Err holds the underlying cause, if any.
type StageError struct {
	Stage   string
	Reason  string
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("pipeline: %s failed (%s): %s", e.Stage, e.Reason, e.Message)
	}
	return fmt.Sprintf("pipeline: %s failed (%s): %v", e.Stage, e.Reason, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func fail(reason, message string, err error) *StageError {
	return &StageError{Reason: reason, Message: message, Err: err}
}
