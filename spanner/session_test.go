/*
Copyright 2026 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package spanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sppb "cloud.google.com/go/spanner/apiv1/spannerpb"
	. "github.com/gcpkit/cloud-go/spanner/internal/testutil"
	"google.golang.org/grpc/codes"
)

// TestSessionPoolConfigValidation tests session pool config validation.
func TestSessionPoolConfigValidation(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		spc    SessionPoolConfig
		err    error
		client bool
	}{
		{
			SessionPoolConfig{},
			errMaxOpenedZero(),
			false,
		},
		{
			SessionPoolConfig{MinOpened: 10, MaxOpened: 5},
			errMinOpenedGTMaxOpened(5, 10),
			true,
		},
		{
			SessionPoolConfig{MaxOpened: 1, AcquireTimeout: -time.Second},
			errNegativeDuration("AcquireTimeout", -time.Second),
			true,
		},
		{
			SessionPoolConfig{MaxOpened: 1, KeepaliveIdleThreshold: -time.Minute},
			errNegativeDuration("KeepaliveIdleThreshold", -time.Minute),
			true,
		},
	} {
		if err := test.spc.validate(); !testEqual(err, test.err) {
			t.Errorf("want %v, got %v", test.err, err)
		}
		if !test.client {
			continue
		}
		_, err := NewClientWithConfig(context.Background(), testDatabase, ClientConfig{SessionPoolConfig: test.spc})
		if !testEqual(err, test.err) {
			t.Errorf("NewClientWithConfig: want %v, got %v", test.err, err)
		}
	}
}

func TestSessionPoolConfigDefaults(t *testing.T) {
	t.Parallel()

	got := SessionPoolConfig{MinOpened: 2, CloseTimeout: time.Second}.withDefaults()
	want := SessionPoolConfig{
		MinOpened:              2,
		MaxOpened:              DefaultSessionPoolConfig.MaxOpened,
		KeepaliveInterval:      DefaultSessionPoolConfig.KeepaliveInterval,
		KeepaliveIdleThreshold: DefaultSessionPoolConfig.KeepaliveIdleThreshold,
		AcquireTimeout:         DefaultSessionPoolConfig.AcquireTimeout,
		CloseTimeout:           time.Second,
	}
	if !testEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

// TestSessionCreation tests session creation during sessionPool.take().
func TestSessionCreation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	server, client, teardown := setupMockedTestServer(t)
	defer teardown()
	sp := client.idleSessions

	// Take three sessions from the session pool, this should trigger the
	// session pool to create three new sessions.
	shs := make([]*sessionHandle, 3)
	// gotDs holds the unique sessions taken from the session pool.
	gotDs := map[string]bool{}
	for i := 0; i < len(shs); i++ {
		var err error
		shs[i], err = sp.take(ctx)
		if err != nil {
			t.Fatalf("failed to get session(%v): %v", i, err)
		}
		gotDs[shs[i].getID()] = true
	}
	if len(gotDs) != len(shs) {
		t.Fatalf("session pool created %v sessions, want %v", len(gotDs), len(shs))
	}
	if wantDs := server.TestSpanner.DumpSessions(); !testEqual(gotDs, wantDs) {
		t.Fatalf("session pool creates sessions %v, want %v", gotDs, wantDs)
	}
	// Verify that created sessions are recorded correctly in session pool.
	stats := sp.stats()
	if stats.Opened != 3 || stats.InUse != 3 || stats.MaxInUse != 3 {
		t.Fatalf("session pool stats: %+v, want 3 opened and in use", stats)
	}
	for _, sh := range shs {
		sh.recycle()
	}
	if got := sp.stats(); got.Idle != 3 || got.InUse != 0 || got.Released != 3 {
		t.Fatalf("session pool stats after recycle: %+v", got)
	}
}

// TestLIFOSessionOrder tests if session pool hand out sessions in LIFO order.
func TestLIFOSessionOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client, teardown := setupMockedTestServerWithConfig(t,
		ClientConfig{
			SessionPoolConfig: SessionPoolConfig{
				MaxOpened: 3,
				MinOpened: 3,
			},
		})
	defer teardown()
	sp := client.idleSessions

	waitFor(t, func() error {
		if got := sp.stats().Idle; got != 3 {
			return fmt.Errorf("idle sessions: got %v, want 3", got)
		}
		return nil
	})
	var shs []*sessionHandle
	var ids []string
	for i := 0; i < 3; i++ {
		sh, err := sp.take(ctx)
		if err != nil {
			t.Fatalf("failed to take session(%v): %v", i, err)
		}
		shs = append(shs, sh)
		ids = append(ids, sh.getID())
	}
	for _, sh := range shs {
		sh.recycle()
	}
	for i := 2; i >= 0; i-- {
		sh, err := sp.take(ctx)
		if err != nil {
			t.Fatalf("cannot take session from session pool: %v", err)
		}
		if got, want := sh.getID(), ids[i]; got != want {
			t.Fatalf("got session with id %v, want %v", got, want)
		}
		defer sh.recycle()
	}
}

// TestMaxOpenedSessions tests that the pool never opens more than MaxOpened
// sessions and never hands out the same session twice.
func TestMaxOpenedSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	server, client, teardown := setupMockedTestServerWithConfig(t,
		ClientConfig{
			SessionPoolConfig: SessionPoolConfig{
				MaxOpened:      5,
				AcquireTimeout: 10 * time.Second,
			},
		})
	defer teardown()
	sp := client.idleSessions

	var (
		mu        sync.Mutex
		leased    = map[string]bool{}
		wg        sync.WaitGroup
		errs      = make(chan error, 50)
		maxLeased int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sh, err := sp.take(ctx)
			if err != nil {
				errs <- err
				return
			}
			id := sh.getID()
			mu.Lock()
			if leased[id] {
				mu.Unlock()
				errs <- fmt.Errorf("session %v was handed out twice", id)
				return
			}
			leased[id] = true
			if len(leased) > maxLeased {
				maxLeased = len(leased)
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			delete(leased, id)
			mu.Unlock()
			sh.recycle()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if maxLeased > 5 {
		t.Errorf("leased %v sessions at the same time, want at most 5", maxLeased)
	}
	stats := sp.stats()
	if stats.Opened > 5 || stats.MaxInUse > 5 {
		t.Errorf("session pool stats: %+v, want at most 5 opened", stats)
	}
	if stats.Acquired != 50 || stats.Released != 50 || stats.InUse != 0 {
		t.Errorf("session pool counters: %+v, want 50 acquired and released", stats)
	}
	if got := server.TestSpanner.TotalSessionsCreated(); got > 5 {
		t.Errorf("server created %v sessions, want at most 5", got)
	}
}

// TestSessionPoolExhausted tests that take fails with ErrSessionPoolExhausted
// when no session becomes available within AcquireTimeout.
func TestSessionPoolExhausted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client, teardown := setupMockedTestServerWithConfig(t,
		ClientConfig{
			SessionPoolConfig: SessionPoolConfig{
				MaxOpened:      1,
				AcquireTimeout: 50 * time.Millisecond,
			},
		})
	defer teardown()
	sp := client.idleSessions

	sh, err := sp.take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer sh.recycle()
	start := time.Now()
	_, err = sp.take(ctx)
	if !errors.Is(err, ErrSessionPoolExhausted) {
		t.Fatalf("got %v, want %v", err, ErrSessionPoolExhausted)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("take returned after %v, want at least the acquire timeout", elapsed)
	}
	if got := sp.stats().Timeouts; got != 1 {
		t.Errorf("timeouts: got %v, want 1", got)
	}
}

// TestTakeRespectsContext tests that a caller deadline shorter than
// AcquireTimeout is reported as the caller's error.
func TestTakeRespectsContext(t *testing.T) {
	t.Parallel()
	_, client, teardown := setupMockedTestServerWithConfig(t,
		ClientConfig{
			SessionPoolConfig: SessionPoolConfig{
				MaxOpened:      1,
				AcquireTimeout: 10 * time.Second,
			},
		})
	defer teardown()
	sp := client.idleSessions

	sh, err := sp.take(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer sh.recycle()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sp.take(ctx)
	if got, want := ErrCode(err), codes.DeadlineExceeded; got != want {
		t.Fatalf("got code %v (%v), want %v", got, err, want)
	}
	if got := sp.stats().Timeouts; got != 0 {
		t.Errorf("timeouts: got %v, want 0", got)
	}
}

// TestTakeWaitsForRecycle tests that a blocked take is woken up by a recycle.
func TestTakeWaitsForRecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client, teardown := setupMockedTestServerWithConfig(t,
		ClientConfig{
			SessionPoolConfig: SessionPoolConfig{
				MaxOpened:      1,
				AcquireTimeout: 10 * time.Second,
			},
		})
	defer teardown()
	sp := client.idleSessions

	sh, err := sp.take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	id := sh.getID()
	got := make(chan string)
	go func() {
		sh, err := sp.take(ctx)
		if err != nil {
			got <- err.Error()
			return
		}
		defer sh.recycle()
		got <- sh.getID()
	}()
	select {
	case g := <-got:
		t.Fatalf("take returned %q while the pool was exhausted", g)
	case <-time.After(50 * time.Millisecond):
	}
	sh.recycle()
	if g := <-got; g != id {
		t.Fatalf("got session %q, want %q", g, id)
	}
}

// TestTakeFromClosedPool tests that take fails once the pool is closed, and
// that close wakes up the callers waiting for a session.
func TestTakeFromClosedPool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client, teardown := setupMockedTestServerWithConfig(t,
		ClientConfig{
			SessionPoolConfig: SessionPoolConfig{
				MaxOpened:      1,
				AcquireTimeout: 10 * time.Second,
			},
		})
	defer teardown()
	sp := client.idleSessions

	sh, err := sp.take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	waiter := make(chan error)
	go func() {
		_, err := sp.take(ctx)
		waiter <- err
	}()
	closed := make(chan error)
	go func() {
		closed <- client.Close()
	}()
	if err := <-waiter; !errors.Is(err, ErrSessionPoolClosed) {
		t.Fatalf("waiting take: got %v, want %v", err, ErrSessionPoolClosed)
	}
	if _, err := sp.take(ctx); !errors.Is(err, ErrSessionPoolClosed) {
		t.Fatalf("take after close: got %v, want %v", err, ErrSessionPoolClosed)
	}
	// Close waits for the checked out session.
	select {
	case err := <-closed:
		t.Fatalf("Close returned %v before the session was returned", err)
	case <-time.After(50 * time.Millisecond):
	}
	sh.recycle()
	if err := <-closed; err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sp.isValid() {
		t.Fatal("session pool is still valid after Close")
	}
}

// TestMinOpenedSessions tests that the pool is warmed up to MinOpened
// sessions even if the backend returns fewer sessions per batch.
func TestMinOpenedSessions(t *testing.T) {
	t.Parallel()
	server, opts, serverTeardown := NewMockedSpannerInMemTestServer(t)
	defer serverTeardown()
	server.TestSpanner.SetMaxSessionsReturnedByServerPerBatchRequest(10)
	client, err := NewClientWithConfig(context.Background(), testDatabase, ClientConfig{
		SessionPoolConfig: SessionPoolConfig{
			MinOpened: 25,
			MaxOpened: 100,
		},
	}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	sp := client.idleSessions

	waitFor(t, func() error {
		stats := sp.stats()
		if stats.Idle != 25 || stats.Opened != 25 || stats.Creating != 0 {
			return fmt.Errorf("session pool stats: %+v, want 25 idle", stats)
		}
		return nil
	})
	if got := server.TestSpanner.TotalSessionsCreated(); got != 25 {
		t.Fatalf("server created %v sessions, want 25", got)
	}
	var batches int
	for _, req := range server.TestSpanner.ReceivedRequests() {
		if _, ok := req.(*sppb.BatchCreateSessionsRequest); ok {
			batches++
		}
	}
	if batches < 3 {
		t.Fatalf("got %v BatchCreateSessions requests, want at least 3", batches)
	}
}

// TestInvalidSessionIsReplaced tests that a session reported as gone is
// dropped from the pool and replaced when MinOpened requires it.
func TestInvalidSessionIsReplaced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	server, client, teardown := setupMockedTestServerWithConfig(t,
		ClientConfig{
			SessionPoolConfig: SessionPoolConfig{
				MinOpened: 2,
				MaxOpened: 10,
			},
		})
	defer teardown()
	sp := client.idleSessions

	waitFor(t, func() error {
		if got := sp.stats().Idle; got != 2 {
			return fmt.Errorf("idle sessions: got %v, want 2", got)
		}
		return nil
	})
	sh, err := sp.take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	id := sh.getID()
	server.TestSpanner.ExpireSession(id)
	sh.invalidate()
	sh.recycle()

	waitFor(t, func() error {
		stats := sp.stats()
		if stats.Idle != 2 || stats.Opened != 2 {
			return fmt.Errorf("session pool stats: %+v, want 2 idle", stats)
		}
		return nil
	})
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for e := sp.idleList.Front(); e != nil; e = e.Next() {
		if e.Value.(*session).getID() == id {
			t.Fatalf("invalid session %v is still in the pool", id)
		}
	}
}

// TestRecycleIsIdempotent tests that recycling a handle twice returns the
// session only once.
func TestRecycleIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client, teardown := setupMockedTestServer(t)
	defer teardown()
	sp := client.idleSessions

	sh, err := sp.take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sh.recycle()
	sh.recycle()
	if got := sh.getID(); got != "" {
		t.Errorf("recycled handle still has session %q", got)
	}
	stats := sp.stats()
	if stats.Idle != 1 || stats.InUse != 0 || stats.Released != 1 {
		t.Fatalf("session pool stats: %+v, want one idle session", stats)
	}
}

// TestCloseDeletesSessions tests that Close deletes every idle session on
// the backend.
func TestCloseDeletesSessions(t *testing.T) {
	t.Parallel()
	server, client, teardown := setupMockedTestServerWithConfig(t,
		ClientConfig{
			SessionPoolConfig: SessionPoolConfig{
				MinOpened: 3,
				MaxOpened: 10,
			},
		})
	defer teardown()
	sp := client.idleSessions

	waitFor(t, func() error {
		if got := sp.stats().Idle; got != 3 {
			return fmt.Errorf("idle sessions: got %v, want 3", got)
		}
		return nil
	})
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if got := server.TestSpanner.TotalSessionsDeleted(); got != 3 {
		t.Fatalf("server deleted %v sessions, want 3", got)
	}
	if got := server.TestSpanner.DumpSessions(); len(got) != 0 {
		t.Fatalf("sessions left on the server: %v", got)
	}
	if stats := sp.stats(); stats.Idle != 0 || stats.Opened != 0 {
		t.Fatalf("session pool stats after close: %+v", stats)
	}
	// A second Close is a no-op.
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// TestCloseTimeout tests that Close gives up on sessions that are not
// returned within CloseTimeout.
func TestCloseTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client, teardown := setupMockedTestServerWithConfig(t,
		ClientConfig{
			SessionPoolConfig: SessionPoolConfig{
				MaxOpened:    10,
				CloseTimeout: 50 * time.Millisecond,
			},
		})
	defer teardown()
	sp := client.idleSessions

	sh, err := sp.take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	err = client.Close()
	if got, want := ErrCode(err), codes.DeadlineExceeded; got != want {
		t.Fatalf("Close: got %v, want code %v", err, want)
	}
	// Returning the abandoned session later does not corrupt the pool.
	sh.recycle()
	if stats := sp.stats(); stats.InUse != 0 || stats.Idle != 0 {
		t.Fatalf("session pool stats: %+v, want no sessions", stats)
	}
}

func waitFor(t *testing.T, assert func() error) {
	t.Helper()
	timeout := 15 * time.Second
	ta := time.After(timeout)

	for {
		select {
		case <-ta:
			if err := assert(); err != nil {
				t.Fatalf("after %v waiting, got %v", timeout, err)
			}
			return
		default:
		}

		if err := assert(); err != nil {
			// Fail. Let's pause and retry.
			time.Sleep(10 * time.Millisecond)
			continue
		}

		return
	}
}
