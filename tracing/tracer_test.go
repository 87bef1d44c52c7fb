package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerProvider_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := InitTracerProvider(Options{ServiceName: "docflow-test", Writer: &buf})
	require.NoError(t, err)

	_, span := Tracer.Start(context.Background(), "unit")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	assert.Contains(t, buf.String(), `"Name":"unit"`)
	assert.Contains(t, buf.String(), "docflow-test")
	Shutdown(context.Background(), tp)
}
