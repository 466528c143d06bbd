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

package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryStopsWhenToldTo(t *testing.T) {
	n := 0
	endRetry := errors.New("end retry")
	err := retryN(context.Background(), gax.Backoff{}, 0,
		func() (bool, error) {
			n++
			if n < 10 {
				return false, nil
			}
			return true, endRetry
		}, noSleep)
	if err != endRetry {
		t.Errorf("got %v, want %v", err, endRetry)
	}
	if n != 10 {
		t.Errorf("n: got %d, want 10", n)
	}
}

func TestRetryStopsOnContextError(t *testing.T) {
	n := 0
	err := retryN(context.Background(), gax.Backoff{}, 0,
		func() (bool, error) { return false, nil },
		func(context.Context, time.Duration) error {
			n++
			if n < 10 {
				return nil
			}
			return context.DeadlineExceeded
		})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want DeadlineExceeded", err)
	}
}

func TestRetryPreservesLastError(t *testing.T) {
	err := retryN(context.Background(), gax.Backoff{}, 0,
		func() (bool, error) {
			return false, status.Error(codes.Unavailable, "try again")
		},
		func(context.Context, time.Duration) error { return context.DeadlineExceeded })
	want := "retry failed with context deadline exceeded; last error: rpc error: code = Unavailable desc = try again"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := status.Code(err); got != codes.Unavailable {
		t.Errorf("got code %v, want %v", got, codes.Unavailable)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("want errors.Is(err, context.DeadlineExceeded)")
	}
}

func TestRetryNExhausts(t *testing.T) {
	n := 0
	err := retryN(context.Background(), gax.Backoff{}, 3,
		func() (bool, error) {
			n++
			return false, status.Errorf(codes.Unavailable, "attempt %d", n)
		}, noSleep)
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("got %T, want *RetryExhaustedError", err)
	}
	if n != 3 {
		t.Errorf("n: got %d, want 3", n)
	}
	if got := len(exhausted.Errors); got != 3 {
		t.Errorf("len(Errors): got %d, want 3", got)
	}
	if got := status.Convert(exhausted.Unwrap()).Message(); got != "attempt 3" {
		t.Errorf("last error: got %q, want %q", got, "attempt 3")
	}
}

func TestRetryNIgnoresContextErrorsForLimit(t *testing.T) {
	n := 0
	err := retryN(context.Background(), gax.Backoff{}, 2,
		func() (bool, error) {
			n++
			switch n {
			case 1, 2, 3:
				return false, context.Canceled
			case 4:
				return false, errors.New("boom")
			}
			return true, nil
		}, noSleep)
	if err != nil {
		t.Fatalf("got %v, want nil", err)
	}
	if n != 5 {
		t.Errorf("n: got %d, want 5", n)
	}
}
