// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package replay

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gfxsync/gfxsync/core/fault"
	"github.com/gfxsync/gfxsync/core/log"
	"github.com/pkg/errors"
)

// ErrFenceTimeout is returned when the GPU has not gone idle within both the
// initial and the escalated wait.
const ErrFenceTimeout = fault.Const("GPU did not become idle")

// Idler is implemented by anything that can wait for all submitted GPU work
// to complete. Idle must return once ctx is done.
type Idler interface {
	Idle(ctx context.Context) error
}

// IdlerFunc adapts a function to the Idler interface.
type IdlerFunc func(ctx context.Context) error

// Idle calls f(ctx).
func (f IdlerFunc) Idle(ctx context.Context) error { return f(ctx) }

// WaitIdle waits for idler with the initial timeout, then once more with the
// escalated timeout. It never waits longer than initial+escalated.
func WaitIdle(ctx context.Context, idler Idler, initial, escalated time.Duration) error {
	timeouts := []time.Duration{initial, escalated}
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		timeout := timeouts[attempt]
		attempt++
		wctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := idler.Idle(wctx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
			log.W(ctx, "GPU not idle after %v (attempt %d of %d)", timeout, attempt, len(timeouts))
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(uint(len(timeouts))),
		backoff.WithMaxElapsedTime(0),
	)
	switch {
	case err == nil:
		return nil
	case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		return errors.Wrapf(ErrFenceTimeout, "waited %v then %v", initial, escalated)
	default:
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return err
	}
}
