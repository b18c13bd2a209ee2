package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"campus-assistant/internal/domain"
)

// Stage names, in execution order.
const (
	StageExtractQuery    = "extract_query"
	StageClassifyScope   = "classify_scope"
	StageVectorize       = "vectorize"
	StageRetrieve        = "retrieve"
	StageAssembleContext = "assemble_context"
	StageGenerateAnswer  = "generate_answer"
)

// Per-campus match counts.
const (
	TopKPerCampus    = 5
	TopKAllCampuses  = 2
	metaKeyText      = "text"
	metaKeyTitle     = "title"
	metaKeyCampus    = "university"
	scopeReplyLogCap = 200
)

// ExtractQuery sets Query from the most recent human message.
type ExtractQuery struct{}

func (ExtractQuery) Name() string { return StageExtractQuery }

func (ExtractQuery) Run(_ context.Context, state *domain.TurnState) error {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := state.Messages[i]
		if m.Role != domain.RoleHuman {
			continue
		}
		query := strings.TrimSpace(m.Content)
		if query == "" {
			break
		}
		state.Query = query
		return nil
	}
	return fail(ReasonNoQuery, "Please provide a valid query.", nil)
}

// ClassifyScope asks the completion service which campuses the query is about.
type ClassifyScope struct {
	Completer Completer
	Timeout   time.Duration
}

func (ClassifyScope) Name() string { return StageClassifyScope }

func (s ClassifyScope) Run(ctx context.Context, state *domain.TurnState) error {
	request := []domain.Message{
		{Role: domain.RoleSystem, Content: scopePrompt()},
		{Role: domain.RoleSystem, Content: contextHeader + scopeTranscript(state.Messages)},
		{Role: domain.RoleHuman, Content: state.Query},
	}

	callCtx, cancel := callContext(ctx, s.Timeout)
	defer cancel()
	reply, err := s.Completer.Complete(callCtx, request)
	if err != nil {
		return fail(ReasonCompletionFailed, "Failed to identify the campus for this question.", err)
	}

	scope, err := parseScope(reply.Content)
	if err != nil {
		return fail(ReasonScopeUnparseable, "Could not tell which UT campus the question is about.",
			fmt.Errorf("%w: %q", err, truncate(reply.Content, scopeReplyLogCap)))
	}
	if len(scope) == 0 {
		return fail(ReasonNoScope, "Please mention which UT campus you are interested in.", nil)
	}
	state.Scope = scope
	return nil
}

// Vectorize embeds Query.
type Vectorize struct {
	Embedder Embedder
	Timeout  time.Duration
}

func (Vectorize) Name() string { return StageVectorize }

func (s Vectorize) Run(ctx context.Context, state *domain.TurnState) error {
	callCtx, cancel := callContext(ctx, s.Timeout)
	defer cancel()
	vec, err := s.Embedder.Embed(callCtx, state.Query)
	if err != nil {
		return fail(ReasonEmbeddingFailed, "Failed to vectorize the query.", err)
	}
	if len(vec) == 0 {
		return fail(ReasonEmbeddingFailed, "Failed to vectorize the query.", nil)
	}
	state.QueryVector = vec
	return nil
}

// Retrieve runs one similarity search per campus in scope. The "All" sentinel
// searches every known campus with a smaller per-campus limit. Up to
// Concurrency searches run at once; results keep campus order.
type Retrieve struct {
	Searcher    Searcher
	Timeout     time.Duration
	Concurrency int
}

func (Retrieve) Name() string { return StageRetrieve }

func (s Retrieve) Run(ctx context.Context, state *domain.TurnState) error {
	if len(state.QueryVector) == 0 {
		return fail(ReasonMissingVector, "No query embedding found for document retrieval.", nil)
	}
	if len(state.Scope) == 0 {
		return fail(ReasonMissingScope, "No campuses found for document retrieval.", nil)
	}

	campuses, topK := state.Scope, TopKPerCampus
	if domain.IsAllCampuses(state.Scope) {
		campuses, topK = domain.Campuses, TopKAllCampuses
	}

	perCampus := make([][]domain.Match, len(campuses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Concurrency, 1))
	for i, campus := range campuses {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			matches, err := s.search(gctx, state.QueryVector, campus, topK)
			if err != nil {
				return fmt.Errorf("search %s: %w", campus, err)
			}
			perCampus[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(ReasonRetrievalFailed, "An error occurred during document retrieval.", err)
	}

	retrieved := []domain.Retrieved{}
	for _, matches := range perCampus {
		for _, m := range matches {
			retrieved = append(retrieved, toRetrieved(m))
		}
	}
	state.Retrieved = retrieved
	return nil
}

func (s Retrieve) search(ctx context.Context, vec []float32, campus string, topK int) ([]domain.Match, error) {
	callCtx, cancel := callContext(ctx, s.Timeout)
	defer cancel()
	return s.Searcher.Search(callCtx, vec, campus, topK)
}

func toRetrieved(m domain.Match) domain.Retrieved {
	return domain.Retrieved{
		ID:     m.ID,
		Score:  m.Score,
		Text:   metaString(m.Metadata, metaKeyText, ""),
		Title:  metaString(m.Metadata, metaKeyTitle, defaultTitle),
		Campus: metaString(m.Metadata, metaKeyCampus, defaultCampus),
	}
}

func metaString(meta map[string]any, key, def string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// AssembleContext renders Retrieved into the context block.
type AssembleContext struct{}

func (AssembleContext) Name() string { return StageAssembleContext }

func (AssembleContext) Run(_ context.Context, state *domain.TurnState) error {
	state.ContextText = renderContext(state.Retrieved)
	return nil
}

// GenerateAnswer asks the completion service for the reply and appends it to
// the transcript.
type GenerateAnswer struct {
	Completer Completer
	Timeout   time.Duration
}

func (GenerateAnswer) Name() string { return StageGenerateAnswer }

func (s GenerateAnswer) Run(ctx context.Context, state *domain.TurnState) error {
	request := make([]domain.Message, 0, len(state.Messages)+2)
	request = append(request,
		domain.Message{Role: domain.RoleSystem, Content: answerPrompt()},
		domain.Message{Role: domain.RoleSystem, Content: contextHeader + state.ContextText},
	)
	request = append(request, state.Messages...)

	callCtx, cancel := callContext(ctx, s.Timeout)
	defer cancel()
	reply, err := s.Completer.Complete(callCtx, request)
	if err != nil {
		return fail(ReasonCompletionFailed, "Failed to generate an answer.", err)
	}
	if strings.TrimSpace(reply.Content) == "" {
		return fail(ReasonCompletionFailed, "Failed to generate an answer.", nil)
	}

	reply.Role = domain.RoleAI
	if reply.ID == "" {
		reply.ID = newMessageID()
	}
	state.Messages = append(state.Messages, reply)
	return nil
}

var newMessageID = func() string {
	return uuid.NewString()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
