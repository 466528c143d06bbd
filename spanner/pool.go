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
	"container/list"
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gcpkit/cloud-go/internal"
	"github.com/gcpkit/cloud-go/internal/trace"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
)

// SessionPoolConfig stores configurations of a session pool.
type SessionPoolConfig struct {
	// MinOpened is the minimum number of opened sessions that the session
	// pool tries to maintain. The pool creates MinOpened sessions in the
	// background when it is created, and replaces sessions that the backend
	// reports as gone.
	//
	// Defaults to 10.
	MinOpened uint64

	// MaxOpened is the maximum number of opened sessions allowed by the
	// session pool. Idle, in-use, pinging and in-flight creations all count
	// towards this limit. If the client tries to open a session and there
	// are already MaxOpened sessions, it will block until one becomes
	// available or the context passed to the client method is canceled or
	// times out.
	//
	// Defaults to 100.
	MaxOpened uint64

	// KeepaliveInterval is the time between two keepalive sweeps over the
	// idle sessions.
	//
	// Defaults to 5m.
	KeepaliveInterval time.Duration

	// KeepaliveIdleThreshold is how long a session may stay idle before the
	// keepalive task pings it.
	//
	// Defaults to 30m.
	KeepaliveIdleThreshold time.Duration

	// AcquireTimeout is the longest time a client method waits for a
	// session. The method fails with ErrSessionPoolExhausted when it
	// elapses.
	//
	// Defaults to 30s.
	AcquireTimeout time.Duration

	// CloseTimeout is how long Close waits for checked out sessions to be
	// returned. Sessions that are still checked out when it elapses are
	// abandoned.
	//
	// Defaults to 30s.
	CloseTimeout time.Duration

	// SessionLabels for the sessions created in the session pool.
	SessionLabels map[string]string

	// DatabaseRole is the role the sessions are created with.
	DatabaseRole string
}

// DefaultSessionPoolConfig is the default configuration for the session pool
// that will be used for a Spanner client, unless the user supplies a specific
// session pool config.
var DefaultSessionPoolConfig = SessionPoolConfig{
	MinOpened:              10,
	MaxOpened:              100,
	KeepaliveInterval:      5 * time.Minute,
	KeepaliveIdleThreshold: 30 * time.Minute,
	AcquireTimeout:         30 * time.Second,
	CloseTimeout:           30 * time.Second,
}

// errMinOpenedGTMaxOpened returns error for SessionPoolConfig.MaxOpened <
// SessionPoolConfig.MinOpened when SessionPoolConfig.MaxOpened is set.
func errMinOpenedGTMaxOpened(maxOpened, minOpened uint64) error {
	return spannerErrorf(codes.InvalidArgument,
		"require SessionPoolConfig.MaxOpened >= SessionPoolConfig.MinOpened, got %d and %d", maxOpened, minOpened)
}

// errMaxOpenedZero returns error for SessionPoolConfig.MaxOpened == 0.
func errMaxOpenedZero() error {
	return spannerErrorf(codes.InvalidArgument, "require SessionPoolConfig.MaxOpened > 0")
}

// errNegativeDuration returns error for a negative SessionPoolConfig
// duration.
func errNegativeDuration(field string, d time.Duration) error {
	return spannerErrorf(codes.InvalidArgument, "require SessionPoolConfig.%s >= 0, got %v", field, d)
}

// validate verifies that the SessionPoolConfig is good for use.
func (spc *SessionPoolConfig) validate() error {
	if spc.MaxOpened == 0 {
		return errMaxOpenedZero()
	}
	if spc.MinOpened > spc.MaxOpened {
		return errMinOpenedGTMaxOpened(spc.MaxOpened, spc.MinOpened)
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"KeepaliveInterval", spc.KeepaliveInterval},
		{"KeepaliveIdleThreshold", spc.KeepaliveIdleThreshold},
		{"AcquireTimeout", spc.AcquireTimeout},
		{"CloseTimeout", spc.CloseTimeout},
	} {
		if d.v < 0 {
			return errNegativeDuration(d.name, d.v)
		}
	}
	return nil
}

// withDefaults fills the unset durations and MaxOpened with the values of
// DefaultSessionPoolConfig. MinOpened is left alone; zero is a valid minimum.
func (spc SessionPoolConfig) withDefaults() SessionPoolConfig {
	if spc.MaxOpened == 0 {
		spc.MaxOpened = DefaultSessionPoolConfig.MaxOpened
	}
	if spc.KeepaliveInterval == 0 {
		spc.KeepaliveInterval = DefaultSessionPoolConfig.KeepaliveInterval
	}
	if spc.KeepaliveIdleThreshold == 0 {
		spc.KeepaliveIdleThreshold = DefaultSessionPoolConfig.KeepaliveIdleThreshold
	}
	if spc.AcquireTimeout == 0 {
		spc.AcquireTimeout = DefaultSessionPoolConfig.AcquireTimeout
	}
	if spc.CloseTimeout == 0 {
		spc.CloseTimeout = DefaultSessionPoolConfig.CloseTimeout
	}
	return spc
}

// SessionPoolStats is a point-in-time snapshot of the session pool.
type SessionPoolStats struct {
	// Idle is the number of sessions waiting in the pool.
	Idle uint64
	// InUse is the number of sessions checked out by callers.
	InUse uint64
	// Opened is the number of sessions that exist on the backend.
	Opened uint64
	// Creating is the number of sessions being created.
	Creating uint64
	// Pinging is the number of sessions the keepalive task is pinging.
	Pinging uint64
	// MaxInUse is the largest InUse value seen since the pool was created.
	MaxInUse uint64
	// Acquired counts the sessions handed out to callers.
	Acquired uint64
	// Released counts the sessions returned by callers.
	Released uint64
	// Timeouts counts the checkouts that failed with
	// ErrSessionPoolExhausted.
	Timeouts uint64
}

// sessionPool creates and caches Cloud Spanner sessions.
type sessionPool struct {
	// mu protects sessionPool from concurrent access.
	mu sync.Mutex
	// valid marks the validity of the session pool.
	valid bool
	// closed is set once close has finished draining. Sessions returned
	// after that are deleted right away.
	closed bool
	// sc is used to create the sessions for the pool.
	sc *sessionClient
	// idleList caches idle sessions. The most recently used session is at
	// the front.
	idleList list.List
	// mayGetSession is for broadcasting that session retrival/creation may
	// proceed. It is closed and replaced whenever the pool state changes.
	mayGetSession chan struct{}
	// numOpened is the total number of open sessions from the session pool.
	numOpened uint64
	// createReqs is the number of ongoing session creation requests.
	createReqs uint64
	// numInUse is the number of sessions checked out by callers.
	numInUse uint64
	// numPinging is the number of sessions being pinged by the keepalive
	// task.
	numPinging uint64
	// maxNumInUse is the maximum number of sessions in use concurrently.
	maxNumInUse uint64
	// numAcquired, numReleased and numTimeouts are lifetime counters.
	numAcquired uint64
	numReleased uint64
	numTimeouts uint64
	// configuration of the session pool.
	SessionPoolConfig
	// hc is the keepalive task that pings idle sessions.
	hc *keepalive
	// creations tracks the background goroutines that create sessions.
	creations sync.WaitGroup
	// done is closed when the pool is closed. It stops replenishment.
	done chan struct{}
	// metrics are the OpenTelemetry instruments of the pool.
	metrics *poolMetrics
	// logger is used to report keepalive and replenishment failures.
	logger *log.Logger
	// createBackoff is the pause between failed replenishment attempts.
	createBackoff gax.Backoff
}

const maxCreateAttempts = 5

// newSessionPool creates a new session pool and starts warming it up to
// MinOpened sessions in the background.
func newSessionPool(sc *sessionClient, config SessionPoolConfig, metrics *poolMetrics) (*sessionPool, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = noopPoolMetrics()
	}
	pool := &sessionPool{
		sc:                sc,
		valid:             true,
		mayGetSession:     make(chan struct{}),
		SessionPoolConfig: config,
		done:              make(chan struct{}),
		metrics:           metrics,
		logger:            sc.logger,
		createBackoff: gax.Backoff{
			Initial:    100 * time.Millisecond,
			Max:        10 * time.Second,
			Multiplier: 2,
		},
	}
	if err := metrics.register(pool); err != nil {
		logf(pool.logger, "Failed to register session pool metrics: %v", err)
	}
	pool.hc = newKeepalive(pool, config.KeepaliveInterval, config.KeepaliveIdleThreshold)
	pool.replenish()
	return pool, nil
}

// broadcastLocked wakes every waiter of mayGetSession. It must be called with
// p.mu held.
func (p *sessionPool) broadcastLocked() {
	close(p.mayGetSession)
	p.mayGetSession = make(chan struct{})
}

// isValid checks if the session pool is still valid.
func (p *sessionPool) isValid() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valid
}

// stats returns a snapshot of the pool counters.
func (p *sessionPool) stats() SessionPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return SessionPoolStats{
		Idle:     uint64(p.idleList.Len()),
		InUse:    p.numInUse,
		Opened:   p.numOpened,
		Creating: p.createReqs,
		Pinging:  p.numPinging,
		MaxInUse: p.maxNumInUse,
		Acquired: p.numAcquired,
		Released: p.numReleased,
		Timeouts: p.numTimeouts,
	}
}

// take returns a cached session if there are available ones; if there isn't
// any, it tries to allocate a new one. It blocks for at most AcquireTimeout
// when the pool is exhausted.
func (p *sessionPool) take(ctx context.Context) (_ *sessionHandle, err error) {
	ctx = trace.StartSpan(ctx, "spanner.sessionPool.take")
	defer func() { trace.EndSpan(ctx, err) }()

	waitCtx := ctx
	if p.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeoutCause(ctx, p.AcquireTimeout, ErrSessionPoolExhausted)
		defer cancel()
	}
	for {
		p.mu.Lock()
		if !p.valid {
			p.mu.Unlock()
			return nil, ErrSessionPoolClosed
		}
		if e := p.idleList.Front(); e != nil {
			s := p.idleList.Remove(e).(*session)
			s.idleElem = nil
			trace.TracePrintf(ctx, map[string]interface{}{"sessionID": s.getID()}, "Acquired session")
			return p.checkoutLocked(ctx, s), nil
		}
		if p.numOpened+p.createReqs < p.MaxOpened {
			p.createReqs++
			p.mu.Unlock()
			trace.TracePrintf(ctx, nil, "Creating a new session")
			s, err := p.sc.createSession(waitCtx)
			p.mu.Lock()
			p.createReqs--
			if err != nil {
				p.broadcastLocked()
				p.mu.Unlock()
				if waitCtx.Err() != nil {
					return nil, p.errWaitDone(ctx, waitCtx)
				}
				return nil, err
			}
			if !p.valid {
				p.broadcastLocked()
				p.mu.Unlock()
				go s.delete(context.Background())
				return nil, ErrSessionPoolClosed
			}
			s.pool = p
			s.valid = true
			p.numOpened++
			trace.TracePrintf(ctx, map[string]interface{}{"sessionID": s.getID()}, "Created session")
			return p.checkoutLocked(ctx, s), nil
		}
		mayGetSession := p.mayGetSession
		p.mu.Unlock()
		trace.TracePrintf(ctx, nil, "Waiting for a session to become available")
		select {
		case <-waitCtx.Done():
			return nil, p.errWaitDone(ctx, waitCtx)
		case <-mayGetSession:
		}
	}
}

// errWaitDone returns the error for a checkout whose wait context is done.
func (p *sessionPool) errWaitDone(ctx, waitCtx context.Context) error {
	if ctx.Err() == nil && errors.Is(context.Cause(waitCtx), ErrSessionPoolExhausted) {
		p.mu.Lock()
		p.numTimeouts++
		p.mu.Unlock()
		p.metrics.recordTimeout(ctx)
		return ErrSessionPoolExhausted
	}
	return ToSpannerError(ctx.Err())
}

// checkoutLocked hands s to a caller. It must be called with p.mu held and
// releases it.
func (p *sessionPool) checkoutLocked(ctx context.Context, s *session) *sessionHandle {
	now := time.Now()
	s.checkedOut = true
	s.lastUseTime = now
	p.numInUse++
	p.numAcquired++
	if p.numInUse > p.maxNumInUse {
		p.maxNumInUse = p.numInUse
	}
	p.mu.Unlock()
	p.metrics.recordAcquired(ctx)
	return &sessionHandle{session: s, checkoutTime: now}
}

// invalidate marks s as gone from the backend.
func (p *sessionPool) invalidate(s *session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.valid = false
}

// recycle puts a checked out session back. Valid sessions are put at the
// front of the idle list; invalid sessions are dropped and replaced.
func (p *sessionPool) recycle(s *session) {
	p.mu.Lock()
	if !s.checkedOut {
		p.mu.Unlock()
		return
	}
	s.checkedOut = false
	s.lastUseTime = time.Now()
	p.numInUse--
	p.numReleased++
	p.metrics.recordReleased(context.Background())
	if p.closed {
		p.numOpened--
		p.mu.Unlock()
		go s.delete(context.Background())
		return
	}
	if !s.valid {
		p.numOpened--
		p.broadcastLocked()
		p.mu.Unlock()
		logf(p.logger, "Dropping session %v that no longer exists on the backend", s.getID())
		go s.delete(context.Background())
		p.replenish()
		return
	}
	s.idleElem = p.idleList.PushFront(s)
	p.broadcastLocked()
	p.mu.Unlock()
}

// replenish starts creating sessions in the background until the pool holds
// MinOpened sessions again.
func (p *sessionPool) replenish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.valid {
		return
	}
	have := p.numOpened + p.createReqs
	if have >= p.MinOpened {
		return
	}
	n := p.MinOpened - have
	p.createReqs += n
	p.creations.Add(1)
	go p.createSessions(int(n))
}

// createSessions creates n sessions with BatchCreateSessions, retrying
// failures with backoff. Creations that never succeed are given back to the
// pool's budget.
func (p *sessionPool) createSessions(n int) {
	defer p.creations.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	remaining := n
	bo := p.createBackoff
	err := internal.RetryN(ctx, bo, maxCreateAttempts, func() (bool, error) {
		sessions, err := p.sc.batchCreateSessions(ctx, remaining)
		for _, s := range sessions {
			p.sessionReady(s)
		}
		remaining -= len(sessions)
		if err != nil {
			return false, err
		}
		return remaining <= 0, nil
	})
	if remaining <= 0 {
		return
	}
	p.mu.Lock()
	p.createReqs -= uint64(remaining)
	p.broadcastLocked()
	p.mu.Unlock()
	if err != nil && ctx.Err() == nil {
		logf(p.logger, "Failed to create %d sessions for the session pool: %v", remaining, err)
	}
}

// sessionReady adds a session created in the background to the idle list.
func (p *sessionPool) sessionReady(s *session) {
	p.mu.Lock()
	p.createReqs--
	if !p.valid {
		p.broadcastLocked()
		p.mu.Unlock()
		s.delete(context.Background())
		return
	}
	s.pool = p
	s.valid = true
	s.lastUseTime = time.Now()
	p.numOpened++
	s.idleElem = p.idleList.PushFront(s)
	p.broadcastLocked()
	p.mu.Unlock()
}

// close stops the keepalive task, fails pending and future checkouts and
// waits up to CloseTimeout for checked out sessions to be returned. Idle
// sessions are deleted on the backend. The returned error reports the number
// of sessions that were abandoned because they were not returned in time.
func (p *sessionPool) close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if !p.valid {
		p.mu.Unlock()
		return nil
	}
	p.valid = false
	close(p.done)
	p.broadcastLocked()
	p.mu.Unlock()

	p.hc.close()

	var closeErr error
	drainCtx, cancel := context.WithTimeout(ctx, p.CloseTimeout)
	defer cancel()
	for {
		p.mu.Lock()
		inUse := p.numInUse
		mayGetSession := p.mayGetSession
		p.mu.Unlock()
		if inUse == 0 {
			break
		}
		select {
		case <-mayGetSession:
			continue
		case <-drainCtx.Done():
		}
		logf(p.logger, "Abandoning %d sessions that were not returned to the session pool within %v", inUse, p.CloseTimeout)
		closeErr = spannerErrorf(codes.DeadlineExceeded, "%d sessions were still checked out when the session pool was closed", inUse)
		break
	}
	p.creations.Wait()
	p.metrics.unregister()

	p.mu.Lock()
	var idle []*session
	for e := p.idleList.Front(); e != nil; e = p.idleList.Front() {
		s := p.idleList.Remove(e).(*session)
		s.idleElem = nil
		idle = append(idle, s)
	}
	p.numOpened -= uint64(len(idle))
	p.closed = true
	p.broadcastLocked()
	p.mu.Unlock()

	ctx = trace.StartSpan(ctx, "spanner.sessionPool.close", attribute.Int("sessions", len(idle)))
	var wg sync.WaitGroup
	for _, s := range idle {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			s.delete(ctx)
		}(s)
	}
	wg.Wait()
	trace.EndSpan(ctx, closeErr)
	return closeErr
}
