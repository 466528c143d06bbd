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
	"fmt"
	"testing"
	"time"
)

func idleSessionIDs(sp *sessionPool) []string {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	var ids []string
	for e := sp.idleList.Front(); e != nil; e = e.Next() {
		ids = append(ids, e.Value.(*session).getID())
	}
	return ids
}

// TestKeepalivePingsIdleSessionsOnly tests that a sweep pings the stale idle
// sessions and leaves checked out sessions alone.
func TestKeepalivePingsIdleSessionsOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	server, client, teardown := setupMockedTestServer(t)
	defer teardown()
	sp := client.idleSessions

	idle, err := sp.take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	inUse, err := sp.take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer inUse.recycle()
	idleID := idle.getID()
	idle.recycle()

	server.TestSpanner.ClearPings()
	sp.hc.sweep(ctx, time.Now().Add(sp.KeepaliveIdleThreshold))

	pings := server.TestSpanner.DumpPings()
	if !testEqual(pings, []string{idleID}) {
		t.Fatalf("pings: got %v, want [%v]", pings, idleID)
	}
	stats := sp.stats()
	if stats.Idle != 1 || stats.InUse != 1 || stats.Pinging != 0 {
		t.Fatalf("session pool stats: %+v", stats)
	}
}

// TestKeepaliveSkipsRecentlyUsedSessions tests that sessions used within the
// idle threshold are not pinged.
func TestKeepaliveSkipsRecentlyUsedSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	server, client, teardown := setupMockedTestServer(t)
	defer teardown()
	sp := client.idleSessions

	sh, err := sp.take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sh.recycle()
	server.TestSpanner.ClearPings()
	sp.hc.sweep(ctx, time.Now())
	if pings := server.TestSpanner.DumpPings(); len(pings) != 0 {
		t.Fatalf("got pings %v, want none", pings)
	}
}

// TestKeepaliveRefreshesLastUseTime tests that a successful ping counts as a
// use of the session.
func TestKeepaliveRefreshesLastUseTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client, teardown := setupMockedTestServer(t)
	defer teardown()
	sp := client.idleSessions

	sh, err := sp.take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	s := sh.session
	sh.recycle()

	sp.mu.Lock()
	s.lastUseTime = time.Now().Add(-time.Hour)
	before := s.lastUseTime
	sp.mu.Unlock()

	sp.hc.sweep(ctx, time.Now())

	sp.mu.Lock()
	after := s.lastUseTime
	sp.mu.Unlock()
	if !after.After(before.Add(30 * time.Minute)) {
		t.Fatalf("last use time was not refreshed: before %v, after %v", before, after)
	}
	if got := idleSessionIDs(sp); len(got) != 1 || got[0] != s.getID() {
		t.Fatalf("idle sessions: got %v, want [%v]", got, s.getID())
	}
}

// TestKeepaliveDropsExpiredSessions tests that a session the backend no
// longer knows is dropped and replaced.
func TestKeepaliveDropsExpiredSessions(t *testing.T) {
	t.Parallel()
	server, client, teardown := setupMockedTestServerWithConfig(t,
		ClientConfig{
			SessionPoolConfig: SessionPoolConfig{
				MinOpened: 1,
				MaxOpened: 10,
			},
		})
	defer teardown()
	sp := client.idleSessions

	waitFor(t, func() error {
		if got := sp.stats().Idle; got != 1 {
			return fmt.Errorf("idle sessions: got %v, want 1", got)
		}
		return nil
	})
	expired := idleSessionIDs(sp)[0]
	server.TestSpanner.ExpireSession(expired)

	sp.hc.sweep(context.Background(), time.Now().Add(sp.KeepaliveIdleThreshold))

	waitFor(t, func() error {
		ids := idleSessionIDs(sp)
		if len(ids) != 1 || ids[0] == expired {
			return fmt.Errorf("idle sessions: got %v, want one session other than %v", ids, expired)
		}
		if got := sp.stats().Opened; got != 1 {
			return fmt.Errorf("opened sessions: got %v, want 1", got)
		}
		return nil
	})
}

// TestKeepaliveWorker tests that the background worker pings idle sessions.
func TestKeepaliveWorker(t *testing.T) {
	t.Parallel()
	server, client, teardown := setupMockedTestServerWithConfig(t,
		ClientConfig{
			SessionPoolConfig: SessionPoolConfig{
				MinOpened:              1,
				MaxOpened:              10,
				KeepaliveInterval:      20 * time.Millisecond,
				KeepaliveIdleThreshold: time.Millisecond,
			},
		})
	defer teardown()
	sp := client.idleSessions

	waitFor(t, func() error {
		if got := sp.stats().Idle; got != 1 {
			return fmt.Errorf("idle sessions: got %v, want 1", got)
		}
		return nil
	})
	id := idleSessionIDs(sp)[0]
	waitFor(t, func() error {
		for _, p := range server.TestSpanner.DumpPings() {
			if p == id {
				return nil
			}
		}
		return fmt.Errorf("session %v has not been pinged", id)
	})
}

// TestKeepaliveStopsOnClose tests that no pings are sent after the pool is
// closed.
func TestKeepaliveStopsOnClose(t *testing.T) {
	t.Parallel()
	server, client, teardown := setupMockedTestServerWithConfig(t,
		ClientConfig{
			SessionPoolConfig: SessionPoolConfig{
				MinOpened:              1,
				MaxOpened:              10,
				KeepaliveInterval:      10 * time.Millisecond,
				KeepaliveIdleThreshold: time.Millisecond,
			},
		})
	defer teardown()

	waitFor(t, func() error {
		if len(server.TestSpanner.DumpPings()) == 0 {
			return fmt.Errorf("no pings yet")
		}
		return nil
	})
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	n := len(server.TestSpanner.DumpPings())
	time.Sleep(50 * time.Millisecond)
	if got := len(server.TestSpanner.DumpPings()); got != n {
		t.Fatalf("got %v pings after Close, want %v", got, n)
	}
}
