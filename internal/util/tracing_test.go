package util

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTracerConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, span := StartSpan(context.Background(), "concurrent")
			span.End()
		}()
	}
	wg.Wait()

	assert.NotNil(t, GetTracer())
	assert.Equal(t, GetTracer(), GetTracer())
}

func TestInitTracerWithoutEndpoint(t *testing.T) {
	tp, err := InitTracer("expiry-compliance-test", "", 1)
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	_, span := StartSpan(context.Background(), "traced")
	assert.True(t, span.SpanContext().IsValid())
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()
}
