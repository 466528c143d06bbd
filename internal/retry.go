// Copyright 2026 Google LLC
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

// Package internal holds helpers shared by the service packages of this
// module.
package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gax "github.com/googleapis/gax-go/v2"
)

// Retry calls f until it reports stop, pausing between attempts according to
// bo. If ctx is done while pausing, Retry returns an error that carries both
// the context error and the last error returned by f.
func Retry(ctx context.Context, bo gax.Backoff, f func() (stop bool, err error)) error {
	return RetryN(ctx, bo, 0, f)
}

// RetryN behaves like Retry but gives up after maxAttempts failed attempts
// and returns a *RetryExhaustedError. A maxAttempts <= 0 means no limit.
//
// Context errors returned by f are not counted as attempts.
func RetryN(ctx context.Context, bo gax.Backoff, maxAttempts int, f func() (stop bool, err error)) error {
	return retryN(ctx, bo, maxAttempts, f, gax.Sleep)
}

func retryN(ctx context.Context, bo gax.Backoff, maxAttempts int, f func() (stop bool, err error),
	sleep func(context.Context, time.Duration) error) error {
	var failures []error
	var lastErr error
	for {
		stop, err := f()
		if stop {
			return err
		}
		if err != nil && !isContextErr(err) {
			lastErr = err
			if maxAttempts > 0 {
				failures = append(failures, err)
				if len(failures) >= maxAttempts {
					return &RetryExhaustedError{MaxRetries: maxAttempts, Errors: failures}
				}
			}
		}
		if ctxErr := sleep(ctx, bo.Pause()); ctxErr != nil {
			if lastErr == nil {
				return ctxErr
			}
			return wrappedCallErr{ctxErr: ctxErr, wrappedErr: lastErr}
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// RetryExhaustedError is returned by RetryN once the attempt limit is
// reached. Errors holds every failure in the order it happened.
type RetryExhaustedError struct {
	MaxRetries int
	Errors     []error
}

func (e *RetryExhaustedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "retry exhausted after %d attempts", e.MaxRetries)
	if len(e.Errors) == 0 {
		return sb.String()
	}
	sb.WriteString("; errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d]: %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the most recent failure so that errors.Is and errors.As,
// as well as status.FromError, see the last error reported by the call.
func (e *RetryExhaustedError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}

// wrappedCallErr lets callers inspect both the context error that stopped
// the retry loop and the last error returned by the call.
type wrappedCallErr struct {
	ctxErr     error
	wrappedErr error
}

func (e wrappedCallErr) Error() string {
	return fmt.Sprintf("retry failed with %v; last error: %v", e.ctxErr, e.wrappedErr)
}

func (e wrappedCallErr) Unwrap() error {
	return e.wrappedErr
}

func (e wrappedCallErr) Is(err error) bool {
	return e.ctxErr == err || e.wrappedErr == err
}
