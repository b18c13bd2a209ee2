package checkpoint

import (
	"fmt"
	"time"

	"campus-assistant/internal/domain"
)

const snapshotVersion = 1

// Meta identifies the checkpoint a snapshot is written for.
type Meta struct {
	ID        string
	CreatedAt time.Time
}

// Transcript is the message list of a decoded checkpoint. Stored entries are
// kept exactly as read; Messages holds the ones that could be projected.
type Transcript struct {
	stored   Array
	Messages []domain.Message
}

// Len reports how many entries the checkpoint stored, including ones that
// could not be projected.
func (t Transcript) Len() int { return len(t.stored) }

// RestoreTranscript reads the transcript of a checkpoint decoded with
// DecodeRaw. Entries that cannot be projected are left out of Messages and
// reported, but stay in the stored list.
func RestoreTranscript(v Value) (Transcript, []error) {
	stored, _ := locateMessages(v).(Array)
	projected, skipped := ExtractMessages(v)
	msgs := make([]domain.Message, 0, len(projected))
	for _, p := range projected {
		m := domain.Message{Role: p.Role, Content: p.Content}
		if p.ID != nil {
			m.ID = *p.ID
		}
		if p.Name != nil {
			m.Name = *p.Name
		}
		msgs = append(msgs, m)
	}
	return Transcript{stored: stored, Messages: msgs}, skipped
}

// EncodeState serializes the turn state of a conversation without a prior
// checkpoint. Messages are wrapped as serialized message objects so history
// readers see the same layout regardless of which writer produced the
// checkpoint.
func EncodeState(state *domain.TurnState, meta Meta) ([]byte, error) {
	return AppendState(Transcript{}, state, meta)
}

// AppendState serializes state on top of the prior transcript. The prior
// stored entries are written back unchanged; only the messages state gained
// after prior.Messages are wrapped and appended.
func AppendState(prior Transcript, state *domain.TurnState, meta Meta) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("checkpoint: state must not be nil")
	}
	if len(state.Messages) < len(prior.Messages) {
		return nil, fmt.Errorf("checkpoint: state has %d messages, fewer than the %d restored", len(state.Messages), len(prior.Messages))
	}
	values, err := channelValues(prior.stored, state.Messages[len(prior.Messages):], state)
	if err != nil {
		return nil, err
	}
	root := Map{
		Field("v", Int(snapshotVersion)),
		Field("id", String(meta.ID)),
		Field("ts", String(meta.CreatedAt.UTC().Format(time.RFC3339Nano))),
		Field("channel_values", values),
	}
	blob, err := Encode(root)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode state: %w", err)
	}
	return blob, nil
}

func channelValues(stored Array, added []domain.Message, state *domain.TurnState) (Map, error) {
	messages := make(Array, 0, len(stored)+len(added))
	messages = append(messages, stored...)
	for _, m := range added {
		wrapped, err := wrapMessage(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, wrapped)
	}

	values := Map{Field("messages", messages)}
	if state.Query != "" {
		values = append(values, Field("query", String(state.Query)))
	}
	if len(state.Scope) > 0 {
		scope := make(Array, len(state.Scope))
		for i, c := range state.Scope {
			scope[i] = String(c)
		}
		values = append(values, Field("campus_list", scope))
	}
	if len(state.QueryVector) > 0 {
		vec := make(Array, len(state.QueryVector))
		for i, f := range state.QueryVector {
			vec[i] = Float(f)
		}
		values = append(values, Field("query_embedding", vec))
	}
	if state.Retrieved != nil {
		docs := make(Array, len(state.Retrieved))
		for i, r := range state.Retrieved {
			docs[i] = Map{
				Field("id", String(r.ID)),
				Field("score", Float(r.Score)),
				Field("metadata", Map{
					Field("text", String(r.Text)),
					Field("title", String(r.Title)),
					Field("university", String(r.Campus)),
				}),
			}
		}
		values = append(values, Field("retrieved_docs", docs))
		values = append(values, Field("full_context_documents", String(state.ContextText)))
	}
	if f := state.Failure; f != nil {
		values = append(values, Field("error", Map{
			Field("stage", String(f.Stage)),
			Field("reason", String(f.Reason)),
			Field("message", String(f.Message)),
		}))
	}
	return values, nil
}

func wrapMessage(m domain.Message) (Ext, error) {
	module, class := messageClass(m.Role)
	props := Map{
		Field("content", String(m.Content)),
		Field("additional_kwargs", Map{}),
		Field("response_metadata", Map{}),
		Field("type", String(m.Role)),
		Field("name", nullableString(m.Name)),
		Field("id", nullableString(m.ID)),
	}
	return WrapObject(module, class, props)
}

func messageClass(role string) (module, class string) {
	switch role {
	case domain.RoleHuman:
		return "langchain_core.messages.human", "HumanMessage"
	case domain.RoleAI:
		return "langchain_core.messages.ai", "AIMessage"
	case domain.RoleSystem:
		return "langchain_core.messages.system", "SystemMessage"
	default:
		return "langchain_core.messages.chat", "ChatMessage"
	}
}

func nullableString(s string) Value {
	if s == "" {
		return Nil{}
	}
	return String(s)
}
