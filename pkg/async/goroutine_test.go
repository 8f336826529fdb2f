package async

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSafeGoRunsFunction(t *testing.T) {
	var executed atomic.Bool

	SafeGo(context.Background(), testLogger(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond)
}

func TestSafeGoRecoversPanic(t *testing.T) {
	var executed atomic.Bool

	SafeGo(context.Background(), testLogger(), time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		panic("boom")
	})

	assert.Eventually(t, executed.Load, time.Second, 10*time.Millisecond)
}

func TestSafeGoTimeoutCancelsContext(t *testing.T) {
	var canceled atomic.Bool

	SafeGo(context.Background(), testLogger(), 20*time.Millisecond, "test task", func(ctx context.Context) error {
		<-ctx.Done()
		canceled.Store(true)
		return ctx.Err()
	})

	assert.Eventually(t, canceled.Load, time.Second, 10*time.Millisecond)
}

func TestBatchProcessesAllItems(t *testing.T) {
	var processed atomic.Int32
	items := []int{1, 2, 3, 4, 5}

	errs := Batch(context.Background(), testLogger(), items, 3, "batch", time.Second, func(ctx context.Context, item int) error {
		processed.Add(1)
		return nil
	})

	assert.Empty(t, errs)
	assert.Equal(t, int32(len(items)), processed.Load())
}

func TestBatchCollectsErrors(t *testing.T) {
	items := []int{1, 2, 3, 4}

	errs := Batch(context.Background(), testLogger(), items, 2, "batch", time.Second, func(ctx context.Context, item int) error {
		if item%2 == 0 {
			return errors.New("even item")
		}
		return nil
	})

	assert.Len(t, errs, 2)
}

func TestBatchRecoversPanics(t *testing.T) {
	items := []int{1, 2}

	errs := Batch(context.Background(), testLogger(), items, 2, "batch", time.Second, func(ctx context.Context, item int) error {
		if item == 2 {
			panic("bad item")
		}
		return nil
	})

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "panic")
}

func TestBatchEmptyItems(t *testing.T) {
	errs := Batch(context.Background(), testLogger(), nil, 4, "batch", time.Second, func(ctx context.Context, item int) error {
		return nil
	})
	assert.Empty(t, errs)
}
