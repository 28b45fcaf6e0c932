// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package util

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrStageTimeout is returned when a bounded call does not finish in time.
	ErrStageTimeout = errors.New("stage timed out")
	// ErrStagePanic is returned when a bounded call panics.
	ErrStagePanic = errors.New("stage panicked")
)

type stageResult[T any] struct {
	value T
	err   error
}

// RunBounded runs fn with a context limited to timeout and returns as soon as fn
// finishes, the timeout elapses, or ctx is done, whichever comes first. A callee
// that ignores its context cannot block the caller past the deadline; its result
// is discarded when it eventually returns. Panics in fn are converted to
// ErrStagePanic. A non-positive timeout only bounds the call by ctx.
func RunBounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan stageResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("panic in bounded stage: %v\n%s", r, debug.Stack())
				done <- stageResult[T]{err: fmt.Errorf("%w: %v", ErrStagePanic, r)}
			}
		}()
		v, err := fn(callCtx)
		done <- stageResult[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %w", ErrStageTimeout, res.err)
		}
		return res.value, res.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrStageTimeout, timeout)
		}
		return zero, callCtx.Err()
	}
}
