package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes a function in a goroutine with panic recovery, a timeout,
// and error logging. Use it instead of a bare `go func()` for fire-and-forget
// work so a misbehaving task cannot crash the process.
func SafeGo(parentCtx context.Context, logger *logrus.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("Background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
}

// Batch processes a slice of items concurrently with a bounded number of
// workers and a per-item timeout, and returns every error encountered.
// Panics in the item function are converted to errors.
func Batch[T any](ctx context.Context, logger *logrus.Logger, items []T, workers int, taskName string, timeout time.Duration, fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	workCh := make(chan T)
	errCh := make(chan error, len(items))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workCh {
				runItem(ctx, logger, taskName, timeout, item, fn, errCh)
			}
		}()
	}

	for _, item := range items {
		select {
		case workCh <- item:
		case <-ctx.Done():
			errCh <- ctx.Err()
			goto done
		}
	}
done:
	close(workCh)
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

func runItem[T any](ctx context.Context, logger *logrus.Logger, taskName string, timeout time.Duration, item T, fn func(context.Context, T) error, errCh chan<- error) {
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"task":  taskName,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Batch item panicked")
			errCh <- fmt.Errorf("%s: panic: %v", taskName, r)
		}
	}()

	if err := fn(itemCtx, item); err != nil {
		errCh <- err
	}
}
