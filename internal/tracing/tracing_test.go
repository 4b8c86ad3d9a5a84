package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "momoguard-test", "", false)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	// Spans from the no-op provider are valid but never recorded.
	_, span := Tracer("test").Start(context.Background(), "op")
	assert.False(t, span.IsRecording())
	span.End()
}
