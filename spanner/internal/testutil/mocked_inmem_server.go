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

package testutil

import (
	"testing"

	sppb "cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/gcpkit/cloud-go/internal/testutil"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

// MockedSpannerInMemTestServer is an InMemSpannerServer served over a local
// gRPC listener.
type MockedSpannerInMemTestServer struct {
	TestSpanner InMemSpannerServer
	server      *testutil.Server
}

// NewMockedSpannerInMemTestServer creates a MockedSpannerInMemTestServer and
// returns the client options that connect to it and a teardown function.
func NewMockedSpannerInMemTestServer(t *testing.T) (mockedServer *MockedSpannerInMemTestServer, opts []option.ClientOption, teardown func()) {
	t.Helper()
	mockedServer = &MockedSpannerInMemTestServer{}
	opts = mockedServer.setupSpannerMock(t)
	return mockedServer, opts, func() {
		mockedServer.TestSpanner.Stop()
		mockedServer.server.Close()
	}
}

func (s *MockedSpannerInMemTestServer) setupSpannerMock(t *testing.T) []option.ClientOption {
	t.Helper()
	s.TestSpanner = NewInMemSpannerServer()
	server, err := testutil.NewServer()
	if err != nil {
		t.Fatalf("cannot create test server: %v", err)
	}
	s.server = server
	sppb.RegisterSpannerServer(server.Gsrv, s.TestSpanner)
	server.Start()
	return []option.ClientOption{
		option.WithEndpoint(server.Addr),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithoutAuthentication(),
	}
}

// Addr returns the address the server listens on.
func (s *MockedSpannerInMemTestServer) Addr() string {
	return s.server.Addr
}

// NewResultSet builds a ResultSet with the given columns and rows. Every
// row must have one value per column.
func NewResultSet(fields []*sppb.StructType_Field, rows ...[]*structpb.Value) *sppb.ResultSet {
	rs := &sppb.ResultSet{
		Metadata: &sppb.ResultSetMetadata{
			RowType: &sppb.StructType{Fields: fields},
		},
	}
	for _, r := range rows {
		rs.Rows = append(rs.Rows, &structpb.ListValue{Values: r})
	}
	return rs
}
