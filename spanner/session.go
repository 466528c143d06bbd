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
	"fmt"
	"log"
	"sync"
	"time"

	sppb "cloud.google.com/go/spanner/apiv1/spannerpb"
	"google.golang.org/grpc/codes"
)

const (
	// pingTimeout bounds a single keepalive GetSession call.
	pingTimeout = 15 * time.Second
	// destroyTimeout bounds a single DeleteSession call.
	destroyTimeout = 15 * time.Second
)

// sessionHandle is an interface for transactions to access Cloud Spanner
// sessions safely. It is generated by sessionPool.take().
type sessionHandle struct {
	// mu guarantees that the inner session object is returned / destroyed only
	// once.
	mu sync.Mutex
	// session is a pointer to a session object. Transactions never need to
	// access it directly.
	session *session
	// checkoutTime is the time the session was checked out of the pool.
	checkoutTime time.Time
}

// recycle gives the inner session object back to its home session pool. It is
// safe to call recycle multiple times but only the first one would take
// effect.
func (sh *sessionHandle) recycle() {
	sh.mu.Lock()
	s := sh.session
	sh.session = nil
	sh.mu.Unlock()
	if s == nil {
		// sessionHandle has already been recycled.
		return
	}
	s.pool.recycle(s)
}

// getID gets the Cloud Spanner session ID from the internal session object.
// getID returns empty string if the sessionHandle is nil or the inner session
// object has been released by recycle.
func (sh *sessionHandle) getID() string {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.session == nil {
		// sessionHandle has already been recycled.
		return ""
	}
	return sh.session.getID()
}

// getClient gets the Cloud Spanner RPC client associated with the session ID
// in sessionHandle.
func (sh *sessionHandle) getClient() spannerClient {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.session == nil {
		return nil
	}
	return sh.session.client
}

// invalidate marks the session as no longer existing on the backend. The
// session is dropped from the pool when the handle is recycled.
func (sh *sessionHandle) invalidate() {
	sh.mu.Lock()
	s := sh.session
	sh.mu.Unlock()
	if s == nil {
		return
	}
	s.pool.invalidate(s)
}

// session wraps a Cloud Spanner session ID through which transactions are
// created and executed.
type session struct {
	// client is the RPC channel to Cloud Spanner. It is set only once during
	// session's creation.
	client spannerClient
	// id is the unique id of the session in Cloud Spanner. It is set only once
	// during session's creation.
	id string
	// pool is the session's home session pool where it was created. It is set
	// only once during session's creation.
	pool *sessionPool
	// createTime is the timestamp of the session's creation. It is set only
	// once during session's creation.
	createTime time.Time
	// logger is the logger configured for the Spanner client that created
	// the session.
	logger *log.Logger

	// The fields below are guarded by pool.mu.

	// lastUseTime is the time the session was last checked out or
	// successfully pinged.
	lastUseTime time.Time
	// valid marks the validity of a session. It is false once the backend has
	// reported that the session no longer exists.
	valid bool
	// checkedOut is true while a caller holds the session.
	checkedOut bool
	// pinging is true while the keepalive task is pinging the session.
	pinging bool
	// idleElem is the session's position in pool.idleList, or nil if the
	// session is not idle.
	idleElem *list.Element
}

// String implements fmt.Stringer for session.
func (s *session) String() string {
	return fmt.Sprintf("<id=%v, create=%v, last_use=%v>", s.id, s.createTime, s.lastUseTime)
}

func (s *session) getID() string {
	// It is safe to read s.id without synchronization because it is set
	// only once during session creation.
	return s.id
}

// ping verifies if the session is still alive in Cloud Spanner.
func (s *session) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	_, err := s.client.GetSession(ctx, &sppb.GetSessionRequest{Name: s.getID()})
	return err
}

// delete calls Cloud Spanner to delete the session. Errors are logged and
// otherwise ignored.
func (s *session) delete(ctx context.Context) {
	// Ignore the error because even if we fail to explicitly destroy the
	// session, it will be eventually garbage collected by Cloud Spanner.
	ctx, cancel := context.WithTimeout(ctx, destroyTimeout)
	defer cancel()
	err := s.client.DeleteSession(ctx, &sppb.DeleteSessionRequest{Name: s.getID()})
	if err != nil && ErrCode(err) != codes.NotFound {
		logf(s.logger, "Failed to delete session %v. Error: %v", s.getID(), err)
	}
}

// logf logs the given message to the given logger, or the standard logger if
// the given logger is nil.
func logf(logger *log.Logger, format string, v ...interface{}) {
	if logger == nil {
		log.Printf(format, v...)
	} else {
		logger.Printf(format, v...)
	}
}
