package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeKVs_RedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{"token", "sk-123", "conversation_id", "c1", "API_KEY", "k"})
	require.Equal(t, []interface{}{"token", "[REDACTED]", "conversation_id", "c1", "API_KEY", "[REDACTED]"}, out)
}

func TestSanitizeKVs_OddLengthKeepsTrailingKey(t *testing.T) {
	out := sanitizeKVs([]interface{}{"a", 1, "dangling"})
	require.Equal(t, []interface{}{"a", 1, "dangling"}, out)
}

func TestLogger_WritesStructuredFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("stage", "retrieve").Warn("stage failed", "reason", "retrieval_failed", "token", "secret")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "stage failed", entries[0].Message)
	fields := entries[0].ContextMap()
	require.Equal(t, "retrieve", fields["stage"])
	require.Equal(t, "retrieval_failed", fields["reason"])
	require.Equal(t, "[REDACTED]", fields["token"])
}

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"prod", "dev", ""} {
		l, err := New(mode)
		require.NoError(t, err)
		require.NotNil(t, l.SugaredLogger)
	}
}
