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
	"log"
	"sync"
	"time"

	sppb "cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/gcpkit/cloud-go/internal/trace"
	"google.golang.org/grpc/codes"
)

var cidGen = newClientIDGenerator()

type clientIDGenerator struct {
	mu  sync.Mutex
	ids map[string]int
}

func newClientIDGenerator() *clientIDGenerator {
	return &clientIDGenerator{ids: make(map[string]int)}
}

// nextID returns a client id that is unique among the clients of database in
// this process.
func (cg *clientIDGenerator) nextID(database string) string {
	cg.mu.Lock()
	defer cg.mu.Unlock()
	id := cg.ids[database] + 1
	cg.ids[database] = id
	return fmt.Sprintf("client-%d", id)
}

// maxSessionsPerBatch is the largest session count the backend accepts in a
// single BatchCreateSessions request.
const maxSessionsPerBatch = 100

// sessionClient creates sessions for a database. Every session it creates
// uses the same spannerClient.
type sessionClient struct {
	mu     sync.Mutex
	closed bool

	client        spannerClient
	database      string
	id            string
	sessionLabels map[string]string
	databaseRole  string
	logger        *log.Logger
}

// newSessionClient creates a session client to use for a database.
func newSessionClient(client spannerClient, database string, sessionLabels map[string]string, databaseRole string, logger *log.Logger) *sessionClient {
	return &sessionClient{
		client:        client,
		database:      database,
		id:            cidGen.nextID(database),
		sessionLabels: sessionLabels,
		databaseRole:  databaseRole,
		logger:        logger,
	}
}

func (sc *sessionClient) isClosed() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.closed
}

func (sc *sessionClient) close() error {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return nil
	}
	sc.closed = true
	sc.mu.Unlock()
	return sc.client.Close()
}

// createSession creates one session for the database of the sessionClient.
func (sc *sessionClient) createSession(ctx context.Context) (*session, error) {
	if sc.isClosed() {
		return nil, spannerErrorf(codes.FailedPrecondition, "SessionClient is closed")
	}
	sid, err := sc.client.CreateSession(ctx, &sppb.CreateSessionRequest{
		Database: sc.database,
		Session:  &sppb.Session{Labels: sc.sessionLabels, CreatorRole: sc.databaseRole},
	})
	if err != nil {
		return nil, ToSpannerError(err)
	}
	return sc.newSession(sid.Name), nil
}

// batchCreateSessions creates n sessions. The backend may return fewer
// sessions than requested; batchCreateSessions keeps asking until n sessions
// exist or an RPC fails. The sessions created so far are returned together
// with any error.
func (sc *sessionClient) batchCreateSessions(ctx context.Context, n int) ([]*session, error) {
	if sc.isClosed() {
		return nil, spannerErrorf(codes.FailedPrecondition, "SessionClient is closed")
	}
	trace.TracePrintf(ctx, nil, "Creating a batch of %d sessions", n)
	sessions := make([]*session, 0, n)
	for remaining := n; remaining > 0; {
		count := remaining
		if count > maxSessionsPerBatch {
			count = maxSessionsPerBatch
		}
		resp, err := sc.client.BatchCreateSessions(ctx, &sppb.BatchCreateSessionsRequest{
			Database:        sc.database,
			SessionCount:    int32(count),
			SessionTemplate: &sppb.Session{Labels: sc.sessionLabels, CreatorRole: sc.databaseRole},
		})
		if err != nil {
			trace.TracePrintf(ctx, nil, "Error creating a batch of %d sessions: %v", count, err)
			return sessions, ToSpannerError(err)
		}
		if len(resp.Session) == 0 {
			return sessions, spannerErrorf(codes.Internal, "BatchCreateSessions returned no sessions")
		}
		for _, s := range resp.Session {
			sessions = append(sessions, sc.newSession(s.Name))
		}
		remaining -= len(resp.Session)
	}
	trace.TracePrintf(ctx, nil, "Finished creating %d sessions", len(sessions))
	return sessions, nil
}

func (sc *sessionClient) newSession(id string) *session {
	now := time.Now()
	return &session{
		client:      sc.client,
		id:          id,
		createTime:  now,
		lastUseTime: now,
		logger:      sc.logger,
	}
}
