package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"campus-assistant/internal/domain"
)

type fakeEmbedder struct {
	vec []float32
	err error
	got string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.got = text
	return f.vec, f.err
}

type searchCall struct {
	campus string
	topK   int
}

type fakeSearcher struct {
	mu      sync.Mutex
	calls   []searchCall
	matches map[string][]domain.Match
	failOn  string
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, campus string, topK int) ([]domain.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, searchCall{campus: campus, topK: topK})
	if campus == f.failOn {
		return nil, errors.New("index unavailable")
	}
	return f.matches[campus], nil
}

type fakeCompleter struct {
	reply    domain.Message
	err      error
	requests [][]domain.Message
	wait     bool
}

func (f *fakeCompleter) Complete(ctx context.Context, msgs []domain.Message) (domain.Message, error) {
	f.requests = append(f.requests, msgs)
	if f.wait {
		<-ctx.Done()
		return domain.Message{}, ctx.Err()
	}
	return f.reply, f.err
}

func newState(text string) *domain.TurnState {
	return &domain.TurnState{
		ConversationID: "conv-1",
		Messages:       []domain.Message{{Role: domain.RoleHuman, Content: text, ID: "h1"}},
	}
}

type testRig struct {
	embedder *fakeEmbedder
	searcher *fakeSearcher
	scope    *fakeCompleter
	answer   *fakeCompleter
	pipeline *Pipeline
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	r := &testRig{
		embedder: &fakeEmbedder{vec: []float32{0.1, 0.2}},
		searcher: &fakeSearcher{matches: map[string][]domain.Match{
			"UT_Austin": {{ID: "doc-1", Score: 0.8, Metadata: map[string]any{"text": "Tuition info", "title": "Tuition", "university": "UT_Austin"}}},
		}},
		scope:  &fakeCompleter{reply: domain.Message{Content: "['UT_Austin']"}},
		answer: &fakeCompleter{reply: domain.Message{Content: "Tuition is listed on the bursar site."}},
	}
	p, err := New(Config{
		Embedder:          r.embedder,
		Searcher:          r.searcher,
		ScopeCompleter:    r.scope,
		AnswerCompleter:   r.answer,
		CapabilityTimeout: time.Second,
	})
	require.NoError(t, err)
	r.pipeline = p
	return r
}

func TestNew_ValidatesDependencies(t *testing.T) {
	full := Config{Embedder: &fakeEmbedder{}, Searcher: &fakeSearcher{}, ScopeCompleter: &fakeCompleter{}, AnswerCompleter: &fakeCompleter{}}

	for name, mutate := range map[string]func(*Config){
		"embedder": func(c *Config) { c.Embedder = nil },
		"searcher": func(c *Config) { c.Searcher = nil },
		"scope":    func(c *Config) { c.ScopeCompleter = nil },
		"answerer": func(c *Config) { c.AnswerCompleter = nil },
	} {
		cfg := full
		mutate(&cfg)
		_, err := New(cfg)
		require.Error(t, err, name)
	}

	p, err := New(full)
	require.NoError(t, err)
	require.Equal(t, []string{
		StageExtractQuery, StageClassifyScope, StageVectorize,
		StageRetrieve, StageAssembleContext, StageGenerateAnswer,
	}, p.Stages())
}

func TestRun_HappyPathAppendsOneAnswer(t *testing.T) {
	r := newRig(t)
	state := newState("  What is tuition at UT Austin?  ")

	require.NoError(t, r.pipeline.Run(context.Background(), state))
	require.False(t, state.Failed())
	require.Equal(t, "What is tuition at UT Austin?", state.Query)
	require.Equal(t, "What is tuition at UT Austin?", r.embedder.got)
	require.Equal(t, []string{"UT_Austin"}, state.Scope)
	require.Len(t, state.Retrieved, 1)
	require.Equal(t, "Title: Tuition\nUniversity: UT_Austin\nContent: Tuition info\n", state.ContextText)

	require.Len(t, state.Messages, 2)
	last := state.Messages[1]
	require.Equal(t, domain.RoleAI, last.Role)
	require.Equal(t, "Tuition is listed on the bursar site.", last.Content)
	require.NotEmpty(t, last.ID)
}

func TestRun_FailureStopsRemainingStages(t *testing.T) {
	r := newRig(t)
	r.embedder.err = errors.New("quota exceeded")
	state := newState("Dorms at UT Austin?")

	err := r.pipeline.Run(context.Background(), state)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageVectorize, stageErr.Stage)
	require.Equal(t, ReasonEmbeddingFailed, stageErr.Reason)
	require.ErrorContains(t, err, "quota exceeded")

	require.Equal(t, &domain.StageFailure{
		Stage:   StageVectorize,
		Reason:  ReasonEmbeddingFailed,
		Message: "Failed to vectorize the query.",
	}, state.Failure)
	require.Empty(t, r.searcher.calls)
	require.Empty(t, r.answer.requests)
	require.Nil(t, state.QueryVector)
	require.Len(t, state.Messages, 1)
}

type crashingStage struct{}

func (crashingStage) Name() string { return "crash" }

func (crashingStage) Run(context.Context, *domain.TurnState) error { return errors.New("nil map") }

type countingStage struct{ runs int }

func (c *countingStage) Name() string { return "count" }

func (c *countingStage) Run(context.Context, *domain.TurnState) error {
	c.runs++
	return nil
}

func TestRun_PlainErrorBecomesStageFailure(t *testing.T) {
	after := &countingStage{}
	p := NewWithStages(nil, crashingStage{}, after)
	state := newState("hi")

	err := p.Run(context.Background(), state)
	require.Error(t, err)
	require.Equal(t, "crash", state.Failure.Stage)
	require.Equal(t, ReasonStageCrashed, state.Failure.Reason)
	require.Zero(t, after.runs)
}

func TestRun_AlreadyFailedStateIsUntouched(t *testing.T) {
	counter := &countingStage{}
	p := NewWithStages(nil, counter)
	state := newState("hi")
	state.Failure = &domain.StageFailure{Stage: "x", Reason: "y"}

	err := p.Run(context.Background(), state)
	require.Error(t, err)
	require.Zero(t, counter.runs)
}

func TestRun_NilState(t *testing.T) {
	require.Error(t, NewWithStages(nil).Run(context.Background(), nil))
}

func TestExtractQuery(t *testing.T) {
	state := &domain.TurnState{Messages: []domain.Message{
		{Role: domain.RoleHuman, Content: "older"},
		{Role: domain.RoleAI, Content: "reply"},
		{Role: domain.RoleHuman, Content: " newest "},
		{Role: domain.RoleSystem, Content: "note"},
	}}
	require.NoError(t, ExtractQuery{}.Run(context.Background(), state))
	require.Equal(t, "newest", state.Query)

	for _, msgs := range [][]domain.Message{
		nil,
		{{Role: domain.RoleAI, Content: "only ai"}},
		{{Role: domain.RoleHuman, Content: "earlier"}, {Role: domain.RoleHuman, Content: "   "}},
	} {
		err := ExtractQuery{}.Run(context.Background(), &domain.TurnState{Messages: msgs})
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		require.Equal(t, ReasonNoQuery, stageErr.Reason)
	}
}

func TestClassifyScope_RequestShape(t *testing.T) {
	completer := &fakeCompleter{reply: domain.Message{Content: "['UT_Dallas']"}}
	state := &domain.TurnState{
		Query: "What about housing?",
		Messages: []domain.Message{
			{Role: domain.RoleHuman, Content: "Tell me about UT Dallas"},
			{Role: domain.RoleAI, Content: "UTD is in Richardson."},
			{Role: domain.RoleSystem, Content: "note"},
			{Role: domain.RoleHuman, Content: "What about housing?"},
		},
	}
	require.NoError(t, ClassifyScope{Completer: completer}.Run(context.Background(), state))
	require.Equal(t, []string{"UT_Dallas"}, state.Scope)

	req := completer.requests[0]
	require.Len(t, req, 3)
	require.Equal(t, domain.RoleSystem, req[0].Role)
	require.Contains(t, req[0].Content, "'UT_Permian_Basin'")
	require.Contains(t, req[0].Content, "return ['All']")
	require.Equal(t, "Context Documents:\nUser: Tell me about UT Dallas\nSystem: note\nUser: What about housing?", req[1].Content)
	require.Equal(t, domain.Message{Role: domain.RoleHuman, Content: "What about housing?"}, req[2])
}

func TestClassifyScope_Failures(t *testing.T) {
	cases := []struct {
		name      string
		completer *fakeCompleter
		reason    string
	}{
		{name: "empty list", completer: &fakeCompleter{reply: domain.Message{Content: "[]"}}, reason: ReasonNoScope},
		{name: "unknown only", completer: &fakeCompleter{reply: domain.Message{Content: "['Rice']"}}, reason: ReasonNoScope},
		{name: "prose", completer: &fakeCompleter{reply: domain.Message{Content: "UT Austin, probably."}}, reason: ReasonScopeUnparseable},
		{name: "upstream", completer: &fakeCompleter{err: errors.New("503")}, reason: ReasonCompletionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := newState("q")
			state.Query = "q"
			err := ClassifyScope{Completer: tc.completer}.Run(context.Background(), state)
			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			require.Equal(t, tc.reason, stageErr.Reason)
			require.Nil(t, state.Scope)
		})
	}
}

func TestVectorize_EmptyVectorFails(t *testing.T) {
	state := newState("q")
	err := Vectorize{Embedder: &fakeEmbedder{}}.Run(context.Background(), state)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, ReasonEmbeddingFailed, stageErr.Reason)
}

func TestRetrieve_AllCampusesSearchesEveryCampus(t *testing.T) {
	searcher := &fakeSearcher{}
	state := &domain.TurnState{QueryVector: []float32{1}, Scope: []string{domain.AllCampuses}}

	require.NoError(t, Retrieve{Searcher: searcher}.Run(context.Background(), state))
	require.Len(t, searcher.calls, len(domain.Campuses))
	for i, call := range searcher.calls {
		require.Equal(t, domain.Campuses[i], call.campus)
		require.Equal(t, 2, call.topK)
	}
	require.NotNil(t, state.Retrieved)
	require.Empty(t, state.Retrieved)
}

func TestRetrieve_SpecificCampuses(t *testing.T) {
	searcher := &fakeSearcher{matches: map[string][]domain.Match{
		"UT_Tyler": {
			{ID: "t1", Score: 0.9, Metadata: map[string]any{"text": "a", "university": "UT_Tyler"}},
			{ID: "t2", Score: 0.4, Metadata: map[string]any{}},
		},
		"UT_Austin": {{ID: "a1", Score: 0.95, Metadata: map[string]any{"text": "b", "title": "Admissions", "university": "UT_Austin"}}},
	}}
	state := &domain.TurnState{QueryVector: []float32{1}, Scope: []string{"UT_Tyler", "UT_Austin"}}

	require.NoError(t, Retrieve{Searcher: searcher}.Run(context.Background(), state))
	require.Equal(t, []searchCall{{"UT_Tyler", 5}, {"UT_Austin", 5}}, searcher.calls)
	require.Equal(t, []domain.Retrieved{
		{ID: "t1", Score: 0.9, Text: "a", Title: "No Title", Campus: "UT_Tyler"},
		{ID: "t2", Score: 0.4, Text: "", Title: "No Title", Campus: "Unknown University"},
		{ID: "a1", Score: 0.95, Text: "b", Title: "Admissions", Campus: "UT_Austin"},
	}, state.Retrieved)
}

func TestRetrieve_ConcurrentSearchKeepsCampusOrder(t *testing.T) {
	matches := map[string][]domain.Match{}
	for _, c := range domain.Campuses {
		matches[c] = []domain.Match{{ID: c, Metadata: map[string]any{"university": c}}}
	}
	searcher := &fakeSearcher{matches: matches}
	state := &domain.TurnState{QueryVector: []float32{1}, Scope: []string{domain.AllCampuses}}

	require.NoError(t, Retrieve{Searcher: searcher, Concurrency: 4}.Run(context.Background(), state))
	require.Len(t, searcher.calls, len(domain.Campuses))
	require.Len(t, state.Retrieved, len(domain.Campuses))
	for i, r := range state.Retrieved {
		require.Equal(t, domain.Campuses[i], r.ID)
		require.Equal(t, domain.Campuses[i], r.Campus)
	}
}

func TestRetrieve_Preconditions(t *testing.T) {
	cases := []struct {
		state  *domain.TurnState
		reason string
	}{
		{state: &domain.TurnState{Scope: []string{"UT_Austin"}}, reason: ReasonMissingVector},
		{state: &domain.TurnState{QueryVector: []float32{1}}, reason: ReasonMissingScope},
	}
	for _, tc := range cases {
		searcher := &fakeSearcher{}
		err := Retrieve{Searcher: searcher}.Run(context.Background(), tc.state)
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		require.Equal(t, tc.reason, stageErr.Reason)
		require.Empty(t, searcher.calls)
	}
}

func TestRetrieve_SearchFailureLeavesRetrievedUnset(t *testing.T) {
	searcher := &fakeSearcher{failOn: "UT_Dallas"}
	state := &domain.TurnState{QueryVector: []float32{1}, Scope: []string{"UT_Austin", "UT_Dallas", "UT_Tyler"}}

	err := Retrieve{Searcher: searcher}.Run(context.Background(), state)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, ReasonRetrievalFailed, stageErr.Reason)
	require.ErrorContains(t, err, "UT_Dallas")
	require.Nil(t, state.Retrieved)
	require.Len(t, searcher.calls, 2)
}

func TestAssembleContext(t *testing.T) {
	state := &domain.TurnState{Retrieved: []domain.Retrieved{
		{Title: "A", Campus: "UT_Austin", Text: "one"},
		{Title: "B", Campus: "UT_Tyler", Text: "two"},
	}}
	require.NoError(t, AssembleContext{}.Run(context.Background(), state))
	require.Equal(t,
		"Title: A\nUniversity: UT_Austin\nContent: one\n\n---\nTitle: B\nUniversity: UT_Tyler\nContent: two\n",
		state.ContextText)

	empty := &domain.TurnState{}
	require.NoError(t, AssembleContext{}.Run(context.Background(), empty))
	require.Equal(t, "", empty.ContextText)
}

func TestGenerateAnswer_RequestShape(t *testing.T) {
	completer := &fakeCompleter{reply: domain.Message{Role: "assistant", Content: "Yes.", ID: "provider-id"}}
	state := &domain.TurnState{
		ContextText: "ctx",
		Messages: []domain.Message{
			{Role: domain.RoleHuman, Content: "first"},
			{Role: domain.RoleAI, Content: "reply"},
			{Role: domain.RoleHuman, Content: "second"},
		},
	}
	require.NoError(t, GenerateAnswer{Completer: completer}.Run(context.Background(), state))

	req := completer.requests[0]
	require.Len(t, req, 5)
	require.True(t, strings.HasPrefix(req[0].Content, "You are an assistant specializing"))
	require.Equal(t, "Context Documents:\nctx", req[1].Content)
	require.Equal(t, "second", req[4].Content)

	require.Len(t, state.Messages, 4)
	require.Equal(t, domain.Message{Role: domain.RoleAI, Content: "Yes.", ID: "provider-id"}, state.Messages[3])
}

func TestGenerateAnswer_EmptyReplyFails(t *testing.T) {
	state := newState("q")
	err := GenerateAnswer{Completer: &fakeCompleter{reply: domain.Message{Content: "  "}}}.Run(context.Background(), state)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, ReasonCompletionFailed, stageErr.Reason)
	require.Len(t, state.Messages, 1)
}

func TestCapabilityTimeoutIsStageFailure(t *testing.T) {
	state := newState("q")
	err := GenerateAnswer{Completer: &fakeCompleter{wait: true}, Timeout: 10 * time.Millisecond}.Run(context.Background(), state)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, ReasonCompletionFailed, stageErr.Reason)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
