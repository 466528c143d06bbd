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
	"os"
	"strings"
	"time"

	sppb "cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/gcpkit/cloud-go/internal"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	gtransport "google.golang.org/api/transport/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	// resourcePrefixHeader is the name of the metadata header used to
	// indicate the resource being operated on.
	resourcePrefixHeader = "google-cloud-resource-prefix"

	// emulatorHostEnv names the environment variable that points the client
	// at a local emulator.
	emulatorHostEnv = "SPANNER_EMULATOR_HOST"

	defaultEndpoint = "spanner.googleapis.com:443"

	// Scope is the scope for Cloud Spanner Data API.
	Scope = "https://www.googleapis.com/auth/spanner.data"
)

// spannerClient is the set of Cloud Spanner RPCs used by the session pool and
// the client.
type spannerClient interface {
	Close() error
	CreateSession(context.Context, *sppb.CreateSessionRequest, ...gax.CallOption) (*sppb.Session, error)
	BatchCreateSessions(context.Context, *sppb.BatchCreateSessionsRequest, ...gax.CallOption) (*sppb.BatchCreateSessionsResponse, error)
	GetSession(context.Context, *sppb.GetSessionRequest, ...gax.CallOption) (*sppb.Session, error)
	DeleteSession(context.Context, *sppb.DeleteSessionRequest, ...gax.CallOption) error
	Read(context.Context, *sppb.ReadRequest, ...gax.CallOption) (*sppb.ResultSet, error)
	Commit(context.Context, *sppb.CommitRequest, ...gax.CallOption) (*sppb.CommitResponse, error)
}

// callOptions holds the default gax options of every RPC.
type callOptions struct {
	CreateSession       []gax.CallOption
	BatchCreateSessions []gax.CallOption
	GetSession          []gax.CallOption
	DeleteSession       []gax.CallOption
	Read                []gax.CallOption
	Commit              []gax.CallOption
}

func onUnavailable() []gax.CallOption {
	return []gax.CallOption{
		gax.WithRetry(func() gax.Retryer {
			return gax.OnCodes([]codes.Code{
				codes.Unavailable,
				codes.ResourceExhausted,
			}, gax.Backoff{
				Initial:    250 * time.Millisecond,
				Max:        32 * time.Second,
				Multiplier: 1.30,
			})
		}),
	}
}

// defaultCallOptions retries the idempotent methods. Commit of a single-use
// transaction is not idempotent and is retried by the client only for
// Aborted and session-not-found errors.
func defaultCallOptions() *callOptions {
	return &callOptions{
		CreateSession:       onUnavailable(),
		BatchCreateSessions: onUnavailable(),
		GetSession:          onUnavailable(),
		DeleteSession:       onUnavailable(),
		Read:                onUnavailable(),
		Commit:              []gax.CallOption{},
	}
}

// grpcSpannerClient is the gRPC API implementation of the spannerClient
// interface.
type grpcSpannerClient struct {
	conn         *grpc.ClientConn
	client       sppb.SpannerClient
	callOptions  *callOptions
	md           metadata.MD
	xGoogHeaders []string
}

var (
	// Ensure that grpcSpannerClient implements spannerClient.
	_ spannerClient = (*grpcSpannerClient)(nil)
)

// defaultClientOptions returns the options that precede the caller's options
// when dialing.
func defaultClientOptions() []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(defaultEndpoint),
		option.WithScopes(Scope),
		option.WithGRPCDialOption(grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(100 << 20),
		)),
	}
}

// emulatorOptions returns the options that point the client at the emulator
// named by SPANNER_EMULATOR_HOST, or nil if it is unset.
func emulatorOptions() []option.ClientOption {
	addr := os.Getenv(emulatorHostEnv)
	if addr == "" {
		return nil
	}
	return []option.ClientOption{
		option.WithEndpoint(addr),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithoutAuthentication(),
	}
}

// newGRPCSpannerClient dials Cloud Spanner and returns a spannerClient that
// sends the resource prefix of database with every request.
func newGRPCSpannerClient(ctx context.Context, database, userAgent string, opts ...option.ClientOption) (*grpcSpannerClient, error) {
	allOpts := defaultClientOptions()
	allOpts = append(allOpts, opts...)
	allOpts = append(allOpts, emulatorOptions()...)
	conn, err := gtransport.Dial(ctx, allOpts...)
	if err != nil {
		return nil, err
	}
	clientInfo := []string{"gccl", internal.Version}
	if userAgent != "" {
		agentWithVersion := strings.SplitN(userAgent, "/", 2)
		if len(agentWithVersion) == 2 {
			clientInfo = append(clientInfo, agentWithVersion[0], agentWithVersion[1])
		}
	}
	g := &grpcSpannerClient{
		conn:        conn,
		client:      sppb.NewSpannerClient(conn),
		callOptions: defaultCallOptions(),
		md:          metadata.Pairs(resourcePrefixHeader, database),
	}
	g.setGoogleClientInfo(clientInfo...)
	return g, nil
}

func (g *grpcSpannerClient) setGoogleClientInfo(keyval ...string) {
	kv := append([]string{"gl-go", gax.GoVersion}, keyval...)
	kv = append(kv, "gax", gax.Version, "grpc", grpc.Version)
	g.xGoogHeaders = []string{
		"x-goog-api-client", gax.XGoogHeader(kv...),
	}
}

// outgoing attaches the resource prefix and client info headers to ctx.
func (g *grpcSpannerClient) outgoing(ctx context.Context) context.Context {
	md := metadata.Join(g.md, metadata.Pairs(g.xGoogHeaders...))
	return contextWithOutgoingMetadata(ctx, md)
}

func (g *grpcSpannerClient) Close() error {
	return g.conn.Close()
}

func (g *grpcSpannerClient) CreateSession(ctx context.Context, req *sppb.CreateSessionRequest, opts ...gax.CallOption) (*sppb.Session, error) {
	ctx = g.outgoing(ctx)
	opts = append(g.callOptions.CreateSession[0:len(g.callOptions.CreateSession):len(g.callOptions.CreateSession)], opts...)
	var resp *sppb.Session
	err := gax.Invoke(ctx, func(ctx context.Context, settings gax.CallSettings) error {
		var err error
		resp, err = g.client.CreateSession(ctx, req, settings.GRPC...)
		return err
	}, opts...)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *grpcSpannerClient) BatchCreateSessions(ctx context.Context, req *sppb.BatchCreateSessionsRequest, opts ...gax.CallOption) (*sppb.BatchCreateSessionsResponse, error) {
	ctx = g.outgoing(ctx)
	opts = append(g.callOptions.BatchCreateSessions[0:len(g.callOptions.BatchCreateSessions):len(g.callOptions.BatchCreateSessions)], opts...)
	var resp *sppb.BatchCreateSessionsResponse
	err := gax.Invoke(ctx, func(ctx context.Context, settings gax.CallSettings) error {
		var err error
		resp, err = g.client.BatchCreateSessions(ctx, req, settings.GRPC...)
		return err
	}, opts...)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *grpcSpannerClient) GetSession(ctx context.Context, req *sppb.GetSessionRequest, opts ...gax.CallOption) (*sppb.Session, error) {
	ctx = g.outgoing(ctx)
	opts = append(g.callOptions.GetSession[0:len(g.callOptions.GetSession):len(g.callOptions.GetSession)], opts...)
	var resp *sppb.Session
	err := gax.Invoke(ctx, func(ctx context.Context, settings gax.CallSettings) error {
		var err error
		resp, err = g.client.GetSession(ctx, req, settings.GRPC...)
		return err
	}, opts...)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *grpcSpannerClient) DeleteSession(ctx context.Context, req *sppb.DeleteSessionRequest, opts ...gax.CallOption) error {
	ctx = g.outgoing(ctx)
	opts = append(g.callOptions.DeleteSession[0:len(g.callOptions.DeleteSession):len(g.callOptions.DeleteSession)], opts...)
	return gax.Invoke(ctx, func(ctx context.Context, settings gax.CallSettings) error {
		_, err := g.client.DeleteSession(ctx, req, settings.GRPC...)
		return err
	}, opts...)
}

func (g *grpcSpannerClient) Read(ctx context.Context, req *sppb.ReadRequest, opts ...gax.CallOption) (*sppb.ResultSet, error) {
	ctx = g.outgoing(ctx)
	opts = append(g.callOptions.Read[0:len(g.callOptions.Read):len(g.callOptions.Read)], opts...)
	var resp *sppb.ResultSet
	err := gax.Invoke(ctx, func(ctx context.Context, settings gax.CallSettings) error {
		var err error
		resp, err = g.client.Read(ctx, req, settings.GRPC...)
		return err
	}, opts...)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *grpcSpannerClient) Commit(ctx context.Context, req *sppb.CommitRequest, opts ...gax.CallOption) (*sppb.CommitResponse, error) {
	ctx = g.outgoing(ctx)
	opts = append(g.callOptions.Commit[0:len(g.callOptions.Commit):len(g.callOptions.Commit)], opts...)
	var resp *sppb.CommitResponse
	err := gax.Invoke(ctx, func(ctx context.Context, settings gax.CallSettings) error {
		var err error
		resp, err = g.client.Commit(ctx, req, settings.GRPC...)
		return err
	}, opts...)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// contextWithOutgoingMetadata returns a new context with the given metadata
// merged into any metadata already present on ctx.
func contextWithOutgoingMetadata(ctx context.Context, md metadata.MD) context.Context {
	existing, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = metadata.Join(existing, md)
	}
	return metadata.NewOutgoingContext(ctx, md)
}
