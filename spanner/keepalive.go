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
	"sync"
	"time"
)

// keepalive periodically pings the idle sessions of a pool so that the
// backend does not garbage collect them.
type keepalive struct {
	// pool is the pool whose idle sessions are kept alive.
	pool *sessionPool
	// interval is the time between two sweeps.
	interval time.Duration
	// threshold is the idle time after which a session is pinged.
	threshold time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	// done is closed to stop the worker.
	done chan struct{}
	once sync.Once
	// waitWorkers waits for the worker goroutine to exit.
	waitWorkers sync.WaitGroup
}

// newKeepalive starts a keepalive worker for pool. A zero interval disables
// the periodic sweeps.
func newKeepalive(pool *sessionPool, interval, threshold time.Duration) *keepalive {
	ctx, cancel := context.WithCancel(context.Background())
	hc := &keepalive{
		pool:      pool,
		interval:  interval,
		threshold: threshold,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if interval > 0 {
		hc.waitWorkers.Add(1)
		go hc.worker()
	}
	return hc
}

// close stops the worker and waits for an ongoing sweep to finish. Pings in
// flight are canceled.
func (hc *keepalive) close() {
	hc.once.Do(func() {
		hc.cancel()
		close(hc.done)
	})
	hc.waitWorkers.Wait()
}

func (hc *keepalive) isClosing() bool {
	select {
	case <-hc.done:
		return true
	default:
		return false
	}
}

func (hc *keepalive) worker() {
	defer hc.waitWorkers.Done()
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-hc.done:
			return
		case now := <-ticker.C:
			hc.sweep(hc.ctx, now)
		}
	}
}

// sweep pings every idle session that has not been used for threshold. The
// sessions being pinged are taken off the idle list first, so a session that
// is checked out is never pinged and a session being pinged is never handed
// out.
func (hc *keepalive) sweep(ctx context.Context, now time.Time) {
	p := hc.pool
	stale := p.takeStale(now, hc.threshold)
	for _, s := range stale {
		if hc.isClosing() {
			p.pingDone(s, nil, false)
			continue
		}
		err := s.ping(ctx)
		if err != nil && ctx.Err() != nil {
			p.pingDone(s, nil, false)
			continue
		}
		p.pingDone(s, err, true)
	}
	if !hc.isClosing() {
		p.replenish()
	}
}

// takeStale removes the idle sessions whose last use is at least threshold
// before now from the idle list and marks them as pinging.
func (p *sessionPool) takeStale(now time.Time, threshold time.Duration) []*session {
	p.mu.Lock()
	defer p.mu.Unlock()
	var stale []*session
	for e := p.idleList.Front(); e != nil; {
		next := e.Next()
		s := e.Value.(*session)
		if now.Sub(s.lastUseTime) >= threshold {
			p.idleList.Remove(e)
			s.idleElem = nil
			s.pinging = true
			p.numPinging++
			stale = append(stale, s)
		}
		e = next
	}
	return stale
}

// pingDone puts a pinged session back into the pool, or drops it if the
// backend no longer knows it. When pinged is false the session was not
// pinged at all and is returned unchanged.
func (p *sessionPool) pingDone(s *session, err error, pinged bool) {
	p.mu.Lock()
	s.pinging = false
	p.numPinging--
	if pinged && isSessionNotFoundError(err) {
		s.valid = false
		p.numOpened--
		p.broadcastLocked()
		p.mu.Unlock()
		logf(p.logger, "Keepalive dropped session %v: %v", s.getID(), err)
		return
	}
	if pinged && err == nil {
		s.lastUseTime = time.Now()
		s.idleElem = p.idleList.PushFront(s)
	} else {
		// Other errors leave the session in place; the next sweep tries
		// again.
		s.idleElem = p.idleList.PushBack(s)
	}
	p.broadcastLocked()
	p.mu.Unlock()
	if pinged && err != nil {
		logf(p.logger, "Failed to ping session %v: %v", s.getID(), err)
	}
}
