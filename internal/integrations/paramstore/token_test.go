package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// scriptedSource returns the queued results in order and then repeats the last.
type scriptedSource struct {
	results []result
	calls   int
	leaves  []string
}

type result struct {
	val string
	err error
}

func (s *scriptedSource) GetToken(_ context.Context, leaf string) (string, error) {
	s.leaves = append(s.leaves, leaf)
	r := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	return r.val, r.err
}

func TestNewToken_Validation(t *testing.T) {
	_, err := NewToken(nil, "p")
	require.ErrorContains(t, err, "must not be nil")
	_, err = NewToken(&scriptedSource{}, " ")
	require.ErrorContains(t, err, "empty")
}

func TestToken_SuccessIsCached(t *testing.T) {
	src := &scriptedSource{results: []result{{val: "sk-from-ssm"}}}
	tok, err := NewToken(src, "open-ai-token")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		v, err := tok.Resolve(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-from-ssm", v)
	}
	require.Equal(t, 1, src.calls)
	require.Equal(t, []string{"open-ai-token"}, src.leaves)
}

func TestToken_RetriesAfterFailure(t *testing.T) {
	src := &scriptedSource{results: []result{
		{err: errors.New("ThrottlingException")},
		{val: "sk-recovered"},
	}}
	tok, err := NewToken(src, "gemini-token")
	require.NoError(t, err)

	_, err = tok.Resolve(context.Background())
	require.ErrorContains(t, err, "ThrottlingException")
	require.ErrorContains(t, err, `fetch token "gemini-token"`)

	v, err := tok.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-recovered", v)

	_, err = tok.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, src.calls)
}

func TestToken_CancelledFirstCallDoesNotPoison(t *testing.T) {
	src := &scriptedSource{results: []result{{err: context.Canceled}, {val: "k"}}}
	tok, err := NewToken(src, "pinecone-token")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tok.Resolve(ctx)
	require.ErrorIs(t, err, context.Canceled)

	v, err := tok.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "k", v)
}

func TestStaticToken(t *testing.T) {
	v, err := StaticToken("k").Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "k", v)

	_, err = StaticToken("").Resolve(context.Background())
	require.ErrorContains(t, err, "no value")
}
