package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	reqCtx := NewRequestContext(logger, "retrieve_one")
	reqCtx.Info("decision", slog.Int(LogFieldJokeID, 7))

	output := buf.String()
	assert.Contains(t, output, `"operation":"retrieve_one"`)
	assert.Contains(t, output, `"joke_id":7`)
	assert.Contains(t, output, reqCtx.RequestID)
}

func TestRequestContextRoundTrip(t *testing.T) {
	reqCtx := NewRequestContext(nil, "import")
	ctx := WithRequestContext(context.Background(), reqCtx)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, reqCtx.RequestID, got.RequestID)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}

func TestRequestContextUniqueIDs(t *testing.T) {
	a := NewRequestContext(nil, "op")
	b := NewRequestContext(nil, "op")
	assert.NotEqual(t, a.RequestID, b.RequestID)
}
