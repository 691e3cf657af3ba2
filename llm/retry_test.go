package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpetrakis/vesper/errors"
)

// testPolicy records every backoff sleep instead of waiting.
func testPolicy(maxRetries int) (RetryPolicy, *[]time.Duration) {
	slept := &[]time.Duration{}
	p := NewRetryPolicy(maxRetries, time.Second)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return p, slept
}

func alwaysFail(kind errors.Kind) (OpenFunc, *int) {
	attempts := new(int)
	return func(ctx context.Context) (ChunkStream, error) {
		*attempts++
		return nil, errors.Classify(errors.New("attempt %d failed", *attempts), kind)
	}, attempts
}

func TestRetryExhaustsBudget(t *testing.T) {
	p, slept := testPolicy(3)
	open, attempts := alwaysFail(errors.KindRateLimited)

	_, err := p.Open(context.Background(), open)
	require.Error(t, err)
	assert.Equal(t, 4, *attempts)
	assert.Contains(t, err.Error(), "retry budget exhausted after 4 attempts")
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}, *slept)

	// The underlying classification survives the exhaustion wrapper.
	assert.Equal(t, errors.KindRateLimited, errors.KindOf(err))
}

func TestRetryRecoversMidBudget(t *testing.T) {
	p, slept := testPolicy(3)
	calls := 0
	open := func(ctx context.Context) (ChunkStream, error) {
		calls++
		if calls <= 2 {
			return nil, errors.Classify(errors.New("refused"), errors.KindConnectivity)
		}
		return NewChunkSlice([]Chunk{{Text: "ok"}, {FinishReason: "stop"}}, nil), nil
	}

	src, err := p.Open(context.Background(), open)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *slept)

	// A recovered open behaves exactly like an immediate success.
	events := drain(t, NewDecoder(src))
	assert.Equal(t, []StreamEventType{StreamTextFragment, StreamMessageFinished}, eventTypes(events))
	assert.Equal(t, "ok", events[0].Text)
}

func TestRetryFatalErrorNotRetried(t *testing.T) {
	p, slept := testPolicy(3)
	open, attempts := alwaysFail(errors.KindProtocol)

	_, err := p.Open(context.Background(), open)
	require.Error(t, err)
	assert.Equal(t, 1, *attempts)
	assert.Empty(t, *slept)
	assert.Equal(t, errors.KindProtocol, errors.KindOf(err))
}

func TestRetryUnclassifiedErrorNotRetried(t *testing.T) {
	p, slept := testPolicy(3)
	attempts := 0
	open := func(ctx context.Context) (ChunkStream, error) {
		attempts++
		return nil, errors.New("unclassified failure")
	}

	_, err := p.Open(context.Background(), open)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *slept)
}

func TestRetryCanceledDuringBackoff(t *testing.T) {
	p := NewRetryPolicy(3, time.Second)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}
	open, attempts := alwaysFail(errors.KindRateLimited)

	_, err := p.Open(context.Background(), open)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, *attempts)
}

func TestRetryStreamSurfacesFailureAsEvent(t *testing.T) {
	p, _ := testPolicy(1)
	open, _ := alwaysFail(errors.KindRateLimited)

	events := drain(t, p.Stream(context.Background(), open))
	require.Len(t, events, 1)
	assert.Equal(t, StreamTransportError, events[0].Type)
	assert.Contains(t, events[0].Err, "retry budget exhausted")
}

func TestRetryStreamDecodesSuccess(t *testing.T) {
	p, _ := testPolicy(0)
	open := func(ctx context.Context) (ChunkStream, error) {
		return NewChunkSlice([]Chunk{
			{Text: "hello"},
			{FinishReason: "stop"},
		}, nil), nil
	}

	events := drain(t, p.Stream(context.Background(), open))
	assert.Equal(t, []StreamEventType{StreamTextFragment, StreamMessageFinished}, eventTypes(events))
}
