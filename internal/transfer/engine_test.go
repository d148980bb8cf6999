package transfer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var allStrategies = []string{"serial", "parallel", "asynchronous"}

func newTestEngine(t *testing.T, sink Sink, opts Options, options ...Option) *Engine {
	t.Helper()
	e, err := New(sink, opts, append([]Option{WithLogger(zap.NewNop())}, options...)...)
	require.NoError(t, err)
	return e
}

func TestNew_ValidatesOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero attempts", func(o *Options) { o.MaxRetryAttempts = 0 }},
		{"zero concurrency", func(o *Options) { o.MaxConcurrency = 0 }},
		{"negative delay", func(o *Options) { o.InitialRetryDelay = -time.Second }},
		{"shrinking multiplier", func(o *Options) { o.BackoffMultiplier = 0.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)

			_, err := New(newFakeSink(), opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}

	t.Run("zero multiplier defaults to two", func(t *testing.T) {
		opts := DefaultOptions()
		opts.BackoffMultiplier = 0

		e, err := New(newFakeSink(), opts)
		require.NoError(t, err)
		assert.Equal(t, 2.0, e.Options().BackoffMultiplier)
	})
}

func TestEngine_EmptyBatch(t *testing.T) {
	for _, token := range allStrategies {
		t.Run(token, func(t *testing.T) {
			e := newTestEngine(t, newFakeSink(), fastOptions())

			result, err := e.Run(context.Background(), []Item{}, token)
			require.NoError(t, err)
			assert.Empty(t, result.Outcomes)
			assert.Equal(t, StateCompleted, result.State())
		})
	}
}

func TestEngine_RoundTrip(t *testing.T) {
	for _, token := range allStrategies {
		t.Run(token, func(t *testing.T) {
			sink := newFakeSink()
			e := newTestEngine(t, sink, fastOptions())
			items := numberedItems(8)

			result, err := e.Run(context.Background(), items, token)
			require.NoError(t, err)
			require.Len(t, result.Outcomes, len(items))
			assert.Equal(t, ParseKind(token), result.Strategy)
			assert.NotEmpty(t, result.ID)

			for i, o := range result.Outcomes {
				assert.Equal(t, items[i].Name, o.Name)
				assert.Equal(t, StatusSuccess, o.Status)
				assert.Equal(t, 1, o.Attempts)
				assert.Equal(t, "content of "+o.Name, string(sink.stored[o.Name]))
			}
			assert.Equal(t, StateCompleted, result.State())
		})
	}
}

func TestEngine_BoundedParallelPeak(t *testing.T) {
	sink := newFakeSink()
	sink.delay = 15 * time.Millisecond
	opts := fastOptions()
	opts.MaxConcurrency = 3
	e := newTestEngine(t, sink, opts)

	result, err := e.Run(context.Background(), numberedItems(12), "parallel")
	require.NoError(t, err)

	assert.Equal(t, 12, result.Summary().Succeeded)
	assert.LessOrEqual(t, sink.peakInflight(), 3)
	assert.GreaterOrEqual(t, sink.peakInflight(), 1)
}

func TestEngine_UnboundedRunsConcurrently(t *testing.T) {
	sink := newFakeSink()
	sink.delay = 30 * time.Millisecond
	opts := fastOptions()
	opts.MaxConcurrency = 1
	e := newTestEngine(t, sink, opts)

	result, err := e.Run(context.Background(), numberedItems(6), "asynchronous")
	require.NoError(t, err)

	assert.Equal(t, 6, result.Summary().Succeeded)
	assert.Greater(t, sink.peakInflight(), 1)
}

func TestEngine_RetryThenSuccess(t *testing.T) {
	for _, token := range allStrategies {
		t.Run(token, func(t *testing.T) {
			opts := fastOptions()
			opts.InitialRetryDelay = 10 * time.Millisecond
			sink := newFakeSink().failTimes("b", opts.MaxRetryAttempts-1)
			obs := newRecordingObserver()
			e := newTestEngine(t, sink, opts, WithObserver(obs))

			result, err := e.Run(context.Background(), makeItems("a", "b", "c"), token)
			require.NoError(t, err)

			b := result.Outcomes[1]
			assert.Equal(t, StatusSuccess, b.Status)
			assert.Equal(t, 3, b.Attempts)
			assert.Equal(t, 3, sink.callCount("b"))
			assert.GreaterOrEqual(t, b.Duration, 30*time.Millisecond)

			require.Len(t, obs.retries, 2)
			assert.Equal(t, 10*time.Millisecond, obs.retries[0].Delay)
			assert.Equal(t, 20*time.Millisecond, obs.retries[1].Delay)
		})
	}
}

func TestEngine_RetryExhausted(t *testing.T) {
	for _, token := range allStrategies {
		t.Run(token, func(t *testing.T) {
			opts := fastOptions()
			opts.ContinueOnError = true
			sink := newFakeSink().failTimes("b", -1)
			e := newTestEngine(t, sink, opts)

			result, err := e.Run(context.Background(), makeItems("a", "b", "c"), token)
			require.NoError(t, err)

			b := result.Outcomes[1]
			assert.Equal(t, StatusFailed, b.Status)
			assert.ErrorIs(t, b.Err, errTransient)
			assert.Equal(t, opts.MaxRetryAttempts, sink.callCount("b"))
			assert.Equal(t, StatusSuccess, result.Outcomes[0].Status)
			assert.Equal(t, StatusSuccess, result.Outcomes[2].Status)
			assert.Equal(t, StatePartial, result.State())
			assert.Len(t, result.Failed(), 1)
		})
	}
}

func TestEngine_SequentialOrder(t *testing.T) {
	sink := newFakeSink()
	sink.delay = 2 * time.Millisecond
	e := newTestEngine(t, sink, fastOptions())
	items := makeItems("one", "two", "three", "four")

	_, err := e.Run(context.Background(), items, "serial")
	require.NoError(t, err)

	var want []string
	for _, item := range items {
		want = append(want, "start:"+item.Name, "end:"+item.Name)
	}
	assert.Equal(t, want, sink.eventLog())
	assert.Equal(t, 1, sink.peakInflight())
}

func TestEngine_SequentialAbortsOnFailure(t *testing.T) {
	sink := newFakeSink().failTimes("b", -1)
	e := newTestEngine(t, sink, fastOptions())

	result, err := e.Run(context.Background(), makeItems("a", "b", "c"), "serial")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Outcomes[1].Status)
	assert.Equal(t, StatusCancelled, result.Outcomes[2].Status)
	assert.ErrorIs(t, result.Outcomes[2].Err, ErrAborted)
	assert.Equal(t, 0, sink.callCount("c"))
}

func TestEngine_CancelledBeforeStart(t *testing.T) {
	for _, token := range allStrategies {
		t.Run(token, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			sink := newFakeSink()
			obs := newRecordingObserver()
			e := newTestEngine(t, sink, fastOptions(), WithObserver(obs))

			result, err := e.Run(ctx, numberedItems(5), token)
			require.ErrorIs(t, err, ErrCancelled)
			require.NotNil(t, result)
			require.Len(t, result.Outcomes, 5)
			for _, o := range result.Outcomes {
				assert.Equal(t, StatusCancelled, o.Status)
				assert.Equal(t, 0, o.Attempts)
			}
			assert.Equal(t, 0, sink.totalCalls())
			assert.Equal(t, 5, obs.count)
			assert.Empty(t, obs.started)
			assert.Equal(t, StateCancelled, result.State())
		})
	}
}

func TestEngine_CancelMidBatchKeepsCompletedSuccess(t *testing.T) {
	for _, token := range allStrategies {
		t.Run(token, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			opts := fastOptions()
			opts.MaxConcurrency = 1
			opts.InitialRetryDelay = time.Hour

			sink := newFakeSink().failTimes("item-01", -1)
			obs := newRecordingObserver()
			e := newTestEngine(t, sink, opts, WithObserver(obs))

			items := numberedItems(6)
			// cancel once item-01 has failed and entered its hour-long backoff
			done := make(chan struct{})
			go func() {
				defer close(done)
				for sink.callCount("item-01") == 0 {
					time.Sleep(time.Millisecond)
				}
				time.Sleep(10 * time.Millisecond)
				cancel()
			}()

			start := time.Now()
			result, err := e.Run(ctx, items, token)
			<-done
			require.NoError(t, err)
			assert.Less(t, time.Since(start), 10*time.Second)

			require.Len(t, result.Outcomes, len(items))
			assert.Equal(t, StatusCancelled, result.Outcomes[1].Status)
			assert.Equal(t, len(items), obs.count)

			if token == "serial" {
				assert.Equal(t, StatusSuccess, result.Outcomes[0].Status)
				for _, o := range result.Outcomes[2:] {
					assert.Equal(t, StatusCancelled, o.Status, o.Name)
					assert.Equal(t, 0, sink.callCount(o.Name), o.Name)
				}
				return
			}

			// parallel start order is unspecified: every other item either
			// finished before the cancel or never reached the sink
			for _, o := range result.Outcomes {
				assert.NotEqual(t, StatusFailed, o.Status, o.Name)
				if o.Status == StatusCancelled && o.Name != "item-01" {
					assert.Equal(t, 0, sink.callCount(o.Name), o.Name)
				}
				if o.Status == StatusSuccess {
					assert.Equal(t, "content of "+o.Name, string(sink.stored[o.Name]))
				}
			}
		})
	}
}

func TestEngine_ObserverSeesEveryItemOnce(t *testing.T) {
	obs := newRecordingObserver()
	sink := newFakeSink().failTimes("item-03", -1)
	e := newTestEngine(t, sink, fastOptions(), WithObserver(obs))

	result, err := e.Run(context.Background(), numberedItems(6), "serial")
	require.NoError(t, err)

	assert.Equal(t, 6, obs.count)
	assert.Equal(t, []string{"item-00", "item-01", "item-02", "item-03"}, obs.started)
	for _, o := range result.Outcomes {
		assert.Equal(t, o.Status, obs.outcomes[o.Name].Status, o.Name)
	}
}

func TestEngine_DuplicateNamesPassThrough(t *testing.T) {
	sink := newFakeSink()
	e := newTestEngine(t, sink, fastOptions())

	items := []Item{BytesItem("same", []byte("first")), BytesItem("same", []byte("second"))}
	result, err := e.Run(context.Background(), items, "serial")
	require.NoError(t, err)

	assert.Len(t, result.Outcomes, 2)
	assert.Equal(t, 2, sink.callCount("same"))
	assert.Equal(t, "second", string(sink.stored["same"]))
}

func TestResult_State(t *testing.T) {
	mk := func(statuses ...Status) *Result {
		r := &Result{}
		for i, s := range statuses {
			r.Outcomes = append(r.Outcomes, Outcome{Name: fmt.Sprint(i), Status: s, Size: 10})
		}
		return r
	}

	assert.Equal(t, StateCompleted, mk(StatusSuccess, StatusSuccess).State())
	assert.Equal(t, StateCancelled, mk(StatusSuccess, StatusCancelled).State())
	assert.Equal(t, StateFailed, mk(StatusFailed, StatusCancelled).State())
	assert.Equal(t, StatePartial, mk(StatusSuccess, StatusFailed).State())

	s := mk(StatusSuccess, StatusFailed, StatusCancelled, StatusSuccess).Summary()
	assert.Equal(t, Summary{Total: 4, Succeeded: 2, Failed: 1, Cancelled: 1, Bytes: 20}, s)
}
