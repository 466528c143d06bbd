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

// Package testutil provides an in-memory Cloud Spanner server for tests of
// the session pool and the client.
package testutil

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	sppb "cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Names of the RPCs of the in-memory server, used with PutExecutionTime.
const (
	MethodCreateSession       = "CREATE_SESSION"
	MethodBatchCreateSession  = "BATCH_CREATE_SESSION"
	MethodGetSession          = "GET_SESSION"
	MethodDeleteSession       = "DELETE_SESSION"
	MethodCommitTransaction   = "COMMIT_TRANSACTION"
	MethodRead                = "READ"
	sessionResourceType       = "type.googleapis.com/google.spanner.v1.Session"
	resourcePrefixHeaderInMem = "google-cloud-resource-prefix"
)

// SimulatedExecutionTime can be added to a method of the in-memory server to
// make it slower, or to make it return errors.
type SimulatedExecutionTime struct {
	// MinimumExecutionTime is added to every call of the method.
	MinimumExecutionTime time.Duration
	// RandomExecutionTime adds a random extra delay up to its value.
	RandomExecutionTime time.Duration
	// Errors are returned one per call, in order, until they run out.
	Errors []error
	// KeepError makes the method return the first error of Errors forever.
	KeepError bool
}

// InMemSpannerServer contains the SpannerServer interface plus a couple of
// specific methods for inspecting the requests it received and for setting
// the behavior of the server.
type InMemSpannerServer interface {
	sppb.SpannerServer

	// Stop stops the server. Calls after Stop fail with Unavailable.
	Stop()
	// Reset clears the requests, sessions and execution times.
	Reset()
	// ReceivedRequests returns the requests in the order they arrived.
	ReceivedRequests() []proto.Message
	// ReceivedHeaders returns the metadata of every request, aligned with
	// ReceivedRequests.
	ReceivedHeaders() []metadata.MD
	// ClearRequests forgets the received requests and headers.
	ClearRequests()
	// DumpSessions returns the names of the sessions that exist.
	DumpSessions() map[string]bool
	// DumpPings returns the names of the sessions that were pinged with
	// GetSession, in order.
	DumpPings() []string
	// ClearPings forgets the pings.
	ClearPings()
	// TotalSessionsCreated returns the number of sessions created since the
	// last Reset.
	TotalSessionsCreated() uint
	// TotalSessionsDeleted returns the number of sessions deleted since the
	// last Reset.
	TotalSessionsDeleted() uint
	// ExpireSession deletes a session on the server without the client
	// knowing, so later calls on it fail with a session-not-found error.
	ExpireSession(name string)
	// PutExecutionTime sets the simulated behavior of a method.
	PutExecutionTime(method string, executionTime SimulatedExecutionTime)
	// SetCommitTimestamp makes Commit report ts instead of the current time.
	SetCommitTimestamp(ts time.Time)
	// PutReadResult registers the result set Read returns for table.
	PutReadResult(table string, rs *sppb.ResultSet)
	// SetMaxSessionsReturnedByServerPerBatchRequest caps the number of
	// sessions returned by one BatchCreateSessions call.
	SetMaxSessionsReturnedByServerPerBatchRequest(sessionCount int32)
}

type inMemSpannerServer struct {
	// Embed for forward compatibility.
	sppb.UnimplementedSpannerServer

	mu                sync.Mutex
	stopped           bool
	sessions          map[string]*sppb.Session
	totalCreated      uint
	totalDeleted      uint
	pings             []string
	reqs              []proto.Message
	headers           []metadata.MD
	executionTimes    map[string]*SimulatedExecutionTime
	commitTimestamp   time.Time
	readResults       map[string]*sppb.ResultSet
	maxSessionsPerReq int32
}

// NewInMemSpannerServer creates a new in-mem test server.
func NewInMemSpannerServer() InMemSpannerServer {
	res := &inMemSpannerServer{}
	res.initDefaults()
	return res
}

func (s *inMemSpannerServer) initDefaults() {
	s.sessions = make(map[string]*sppb.Session)
	s.executionTimes = make(map[string]*SimulatedExecutionTime)
	s.readResults = make(map[string]*sppb.ResultSet)
	s.totalCreated = 0
	s.totalDeleted = 0
	s.pings = nil
	s.reqs = nil
	s.headers = nil
	s.commitTimestamp = time.Time{}
	s.maxSessionsPerReq = 0
}

func (s *inMemSpannerServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *inMemSpannerServer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initDefaults()
}

func (s *inMemSpannerServer) ReceivedRequests() []proto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]proto.Message(nil), s.reqs...)
}

func (s *inMemSpannerServer) ReceivedHeaders() []metadata.MD {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]metadata.MD(nil), s.headers...)
}

func (s *inMemSpannerServer) ClearRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = nil
	s.headers = nil
}

func (s *inMemSpannerServer) DumpSessions() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(map[string]bool, len(s.sessions))
	for name := range s.sessions {
		res[name] = true
	}
	return res
}

func (s *inMemSpannerServer) DumpPings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pings...)
}

func (s *inMemSpannerServer) ClearPings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings = nil
}

func (s *inMemSpannerServer) TotalSessionsCreated() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalCreated
}

func (s *inMemSpannerServer) TotalSessionsDeleted() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalDeleted
}

func (s *inMemSpannerServer) ExpireSession(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, name)
}

func (s *inMemSpannerServer) PutExecutionTime(method string, executionTime SimulatedExecutionTime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executionTimes[method] = &executionTime
}

func (s *inMemSpannerServer) SetCommitTimestamp(ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitTimestamp = ts
}

func (s *inMemSpannerServer) PutReadResult(table string, rs *sppb.ResultSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readResults[table] = rs
}

func (s *inMemSpannerServer) SetMaxSessionsReturnedByServerPerBatchRequest(sessionCount int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSessionsPerReq = sessionCount
}

// NewSessionNotFoundError returns the error the backend sends for a session
// that does not exist.
func NewSessionNotFoundError(name string) error {
	st := status.Newf(codes.NotFound, "Session not found: Session with id %s not found", name)
	st, _ = st.WithDetails(&errdetails.ResourceInfo{ResourceType: sessionResourceType, ResourceName: name})
	return st.Err()
}

// receive records req and applies the simulated execution time of method.
func (s *inMemSpannerServer) receive(ctx context.Context, method string, req proto.Message) error {
	md, _ := metadata.FromIncomingContext(ctx)
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return status.Error(codes.Unavailable, "server has been stopped")
	}
	s.reqs = append(s.reqs, req)
	s.headers = append(s.headers, md.Copy())
	var (
		delay time.Duration
		err   error
	)
	if et, ok := s.executionTimes[method]; ok {
		delay = et.MinimumExecutionTime
		if et.RandomExecutionTime > 0 {
			delay += time.Duration(rand.Int63n(int64(et.RandomExecutionTime)))
		}
		if len(et.Errors) > 0 {
			err = et.Errors[0]
			if !et.KeepError {
				et.Errors = et.Errors[1:]
			}
		}
	}
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		}
	}
	return err
}

func (s *inMemSpannerServer) checkDatabase(ctx context.Context, database string) error {
	md, _ := metadata.FromIncomingContext(ctx)
	if vals := md.Get(resourcePrefixHeaderInMem); len(vals) > 0 && vals[0] != database {
		return status.Errorf(codes.InvalidArgument, "resource prefix %q does not match database %q", vals[0], database)
	}
	if !strings.HasPrefix(database, "projects/") {
		return status.Errorf(codes.InvalidArgument, "invalid database name: %q", database)
	}
	return nil
}

// newSessionLocked must be called with s.mu held.
func (s *inMemSpannerServer) newSessionLocked(database string, template *sppb.Session) *sppb.Session {
	name := fmt.Sprintf("%s/sessions/%s", database, uuid.NewString())
	now := timestamppb.Now()
	session := &sppb.Session{
		Name:                   name,
		CreateTime:             now,
		ApproximateLastUseTime: now,
	}
	if template != nil {
		session.Labels = template.Labels
		session.CreatorRole = template.CreatorRole
	}
	s.sessions[name] = session
	s.totalCreated++
	return session
}

// findSessionLocked must be called with s.mu held.
func (s *inMemSpannerServer) findSessionLocked(name string) (*sppb.Session, error) {
	session, ok := s.sessions[name]
	if !ok {
		return nil, NewSessionNotFoundError(name)
	}
	session.ApproximateLastUseTime = timestamppb.Now()
	return session, nil
}

func (s *inMemSpannerServer) CreateSession(ctx context.Context, req *sppb.CreateSessionRequest) (*sppb.Session, error) {
	if err := s.receive(ctx, MethodCreateSession, req); err != nil {
		return nil, err
	}
	if err := s.checkDatabase(ctx, req.Database); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newSessionLocked(req.Database, req.Session), nil
}

func (s *inMemSpannerServer) BatchCreateSessions(ctx context.Context, req *sppb.BatchCreateSessionsRequest) (*sppb.BatchCreateSessionsResponse, error) {
	if err := s.receive(ctx, MethodBatchCreateSession, req); err != nil {
		return nil, err
	}
	if err := s.checkDatabase(ctx, req.Database); err != nil {
		return nil, err
	}
	if req.SessionCount <= 0 {
		return nil, status.Error(codes.InvalidArgument, "session_count must be >= 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := req.SessionCount
	if s.maxSessionsPerReq > 0 && count > s.maxSessionsPerReq {
		count = s.maxSessionsPerReq
	}
	resp := &sppb.BatchCreateSessionsResponse{}
	for i := int32(0); i < count; i++ {
		resp.Session = append(resp.Session, s.newSessionLocked(req.Database, req.SessionTemplate))
	}
	return resp, nil
}

func (s *inMemSpannerServer) GetSession(ctx context.Context, req *sppb.GetSessionRequest) (*sppb.Session, error) {
	s.mu.Lock()
	s.pings = append(s.pings, req.Name)
	s.mu.Unlock()
	if err := s.receive(ctx, MethodGetSession, req); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findSessionLocked(req.Name)
}

func (s *inMemSpannerServer) ListSessions(ctx context.Context, req *sppb.ListSessionsRequest) (*sppb.ListSessionsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.sessions {
		if strings.HasPrefix(name, req.Database+"/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	resp := &sppb.ListSessionsResponse{}
	for _, name := range names {
		resp.Sessions = append(resp.Sessions, s.sessions[name])
	}
	return resp, nil
}

func (s *inMemSpannerServer) DeleteSession(ctx context.Context, req *sppb.DeleteSessionRequest) (*emptypb.Empty, error) {
	if err := s.receive(ctx, MethodDeleteSession, req); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.findSessionLocked(req.Name); err != nil {
		return nil, err
	}
	delete(s.sessions, req.Name)
	s.totalDeleted++
	return &emptypb.Empty{}, nil
}

func (s *inMemSpannerServer) Commit(ctx context.Context, req *sppb.CommitRequest) (*sppb.CommitResponse, error) {
	if err := s.receive(ctx, MethodCommitTransaction, req); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.findSessionLocked(req.Session); err != nil {
		return nil, err
	}
	if req.GetSingleUseTransaction() == nil && len(req.GetTransactionId()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "missing transaction in commit request")
	}
	ts := s.commitTimestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &sppb.CommitResponse{CommitTimestamp: timestamppb.New(ts)}, nil
}

func (s *inMemSpannerServer) Read(ctx context.Context, req *sppb.ReadRequest) (*sppb.ResultSet, error) {
	if err := s.receive(ctx, MethodRead, req); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.findSessionLocked(req.Session); err != nil {
		return nil, err
	}
	rs, ok := s.readResults[req.Table]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Table not found: %s", req.Table)
	}
	return rs, nil
}
