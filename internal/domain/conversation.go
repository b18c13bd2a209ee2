package domain

import (
	"errors"
	"time"
)

// ErrCheckpointConflict reports that another writer already appended a
// checkpoint on top of the same parent revision.
var ErrCheckpointConflict = errors.New("checkpoint revision conflict")

// Message roles as they appear in checkpoints.
const (
	RoleHuman  = "human"
	RoleAI     = "ai"
	RoleSystem = "system"
)

// Message is a single role-tagged entry of a conversation transcript.
type Message struct {
	Role    string
	Content string
	ID      string
	Name    string
}

// Retrieved is one search match rendered into context for answer generation.
type Retrieved struct {
	ID     string
	Score  float64
	Text   string
	Title  string
	Campus string
}

// Match is a raw similarity search hit.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// StageFailure is the terminal error marker recorded on a TurnState.
type StageFailure struct {
	Stage   string
	Reason  string
	Message string
}

// TurnState is the mutable record threaded through the pipeline for one turn.
type TurnState struct {
	ConversationID string
	Messages       []Message
	Query          string
	Scope          []string
	QueryVector    []float32
	Retrieved      []Retrieved
	ContextText    string
	Failure        *StageFailure
}

// Failed reports whether a stage has recorded a terminal failure.
func (s *TurnState) Failed() bool {
	return s != nil && s.Failure != nil
}

// LastMessage returns the final transcript entry, if any.
func (s *TurnState) LastMessage() (Message, bool) {
	if s == nil || len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Checkpoint is an immutable persisted snapshot of a TurnState. Blob holds the
// encoded snapshot in whatever shape the store returned it.
type Checkpoint struct {
	ConversationID string
	Revision       int64
	ID             string
	CreatedAt      time.Time
	Blob           any
}
