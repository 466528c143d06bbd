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
	"log"
	"os"
	"regexp"
	"time"

	sppb "cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/gcpkit/cloud-go/internal"
	"github.com/gcpkit/cloud-go/internal/trace"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

const (
	// maxCommitAttempts bounds the number of commit RPCs sent for one call
	// to Apply when the backend reports Aborted or a missing session.
	maxCommitAttempts = 5
)

var (
	validDBPattern = regexp.MustCompile("^projects/(?P<project>[^/]+)/instances/(?P<instance>[^/]+)/databases/(?P<database>[^/]+)$")

	commitBackoff = gax.Backoff{
		Initial:    20 * time.Millisecond,
		Max:        32 * time.Second,
		Multiplier: 1.3,
	}
)

func validDatabaseName(db string) error {
	if matched := validDBPattern.MatchString(db); !matched {
		return fmt.Errorf("database name %q should conform to pattern %q",
			db, validDBPattern.String())
	}
	return nil
}

func parseDatabaseName(db string) (project, instance, database string, err error) {
	matches := validDBPattern.FindStringSubmatch(db)
	if len(matches) == 0 {
		return "", "", "", fmt.Errorf("failed to parse database name from %q according to pattern %q",
			db, validDBPattern.String())
	}
	return matches[1], matches[2], matches[3], nil
}

// Client is a client for reading and writing data to a Cloud Spanner
// database. A client is safe to use concurrently, except for its Close
// method.
type Client struct {
	sc           *sessionClient
	idleSessions *sessionPool
	database     string
	logger       *log.Logger
}

// DatabaseName returns the full name of a database, e.g.,
// "projects/spanner-cloud-test/instances/foo/databases/foodb".
func (c *Client) DatabaseName() string {
	return c.database
}

// ClientConfig has configurations for the client.
type ClientConfig struct {
	// SessionPoolConfig is the configuration for session pool. Zero fields
	// other than MinOpened take their value from DefaultSessionPoolConfig.
	SessionPoolConfig

	// Logger is the logger to use for this client. If it is nil, all logging
	// will be directed to the standard logger.
	Logger *log.Logger

	// MeterProvider receives the session pool metrics. If it is nil, the
	// global MeterProvider is used.
	MeterProvider metric.MeterProvider

	// DisableNativeMetrics disables the session pool metrics.
	DisableNativeMetrics bool

	// UserAgent is the prefix to the user agent header. This is used to
	// supply information such as application name or partner tool.
	//
	// Recommended format: ``application-or-tool-ID/major.minor.version``.
	UserAgent string
}

// NewClient creates a client to a database. A valid database name has the
// form projects/PROJECT_ID/instances/INSTANCE_ID/databases/DATABASE_ID. It uses
// a default configuration.
func NewClient(ctx context.Context, database string, opts ...option.ClientOption) (*Client, error) {
	return NewClientWithConfig(ctx, database, ClientConfig{SessionPoolConfig: DefaultSessionPoolConfig}, opts...)
}

// NewClientWithConfig creates a client to a database. A valid database name
// has the form projects/PROJECT_ID/instances/INSTANCE_ID/databases/DATABASE_ID.
//
// If the environment variable SPANNER_EMULATOR_HOST is set, the client
// connects to the emulator at that address without authentication.
func NewClientWithConfig(ctx context.Context, database string, config ClientConfig, opts ...option.ClientOption) (c *Client, err error) {
	// Validate database path.
	if err := validDatabaseName(database); err != nil {
		return nil, err
	}

	ctx = trace.StartSpan(ctx, "spanner.NewClient", attribute.String("db.name", database))
	defer func() { trace.EndSpan(ctx, err) }()

	poolConfig := config.SessionPoolConfig.withDefaults()
	if err := poolConfig.validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "spanner: ", log.LstdFlags)
	}

	gc, err := newGRPCSpannerClient(ctx, database, config.UserAgent, opts...)
	if err != nil {
		return nil, err
	}
	sc := newSessionClient(gc, database, poolConfig.SessionLabels, poolConfig.DatabaseRole, logger)

	var pm *poolMetrics
	if !config.DisableNativeMetrics {
		pm, err = newPoolMetrics(config.MeterProvider, sc.id, database)
		if err != nil {
			logf(logger, "Failed to create session pool metrics: %v", err)
			pm = nil
		}
	}
	pool, err := newSessionPool(sc, poolConfig, pm)
	if err != nil {
		sc.close()
		return nil, err
	}
	c = &Client{
		sc:           sc,
		idleSessions: pool,
		database:     database,
		logger:       logger,
	}
	return c, nil
}

// Close closes the client. It waits up to SessionPoolConfig.CloseTimeout for
// sessions that are still in use, deletes the idle sessions and closes the
// connection. The returned error is non-nil if sessions had to be abandoned.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	err := c.idleSessions.close(context.Background())
	if cerr := c.sc.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// SessionPoolStats returns a snapshot of the session pool of the client.
func (c *Client) SessionPoolStats() SessionPoolStats {
	return c.idleSessions.stats()
}

// ApplyOption is an option for Apply.
type ApplyOption func(*applyOption)

// applyOption controls the behavior of Apply.
type applyOption struct {
	// priority is the RPC priority that is used for the commit operation.
	priority sppb.RequestOptions_Priority
	// transactionTag is the tag of the transaction.
	transactionTag string
}

// Priority returns an ApplyOption to set the RPC priority to use for the
// commit operation.
func Priority(priority sppb.RequestOptions_Priority) ApplyOption {
	return func(ao *applyOption) {
		ao.priority = priority
	}
}

// TransactionTag returns an ApplyOption that will include the given tag as a
// transaction tag for a write-only transaction.
func TransactionTag(tag string) ApplyOption {
	return func(ao *applyOption) {
		ao.transactionTag = tag
	}
}

func (ao applyOption) requestOptions() *sppb.RequestOptions {
	if ao.priority == sppb.RequestOptions_PRIORITY_UNSPECIFIED && ao.transactionTag == "" {
		return nil
	}
	return &sppb.RequestOptions{Priority: ao.priority, TransactionTag: ao.transactionTag}
}

// Apply applies a list of mutations atomically to the database in a single
// use read-write transaction. It returns the commit timestamp reported by
// the backend.
//
// The session used for the commit is returned to the pool before Apply
// returns, whether the commit succeeded or not. A failed commit RPC is
// reported as a *CommitError. Failures to obtain a session, such as
// ErrSessionPoolExhausted, are returned as is.
func (c *Client) Apply(ctx context.Context, ms []*Mutation, opts ...ApplyOption) (commitTimestamp time.Time, err error) {
	ao := applyOption{}
	for _, opt := range opts {
		opt(&ao)
	}
	ctx = trace.StartSpan(ctx, "spanner.Client.Apply", attribute.String("db.name", c.database), attribute.Int("mutations", len(ms)))
	defer func() { trace.EndSpan(ctx, err) }()

	mPb, err := mutationsProto(ms)
	if err != nil {
		return time.Time{}, err
	}
	return c.commit(ctx, mPb, ao)
}

// commit sends mPb in a single-use read-write transaction. A commit that
// fails because the session is gone or the transaction was aborted is retried
// on another session.
func (c *Client) commit(ctx context.Context, mPb []*sppb.Mutation, ao applyOption) (time.Time, error) {
	var (
		ts      time.Time
		takeErr error
	)
	err := internal.RetryN(ctx, commitBackoff, maxCommitAttempts, func() (bool, error) {
		sh, err := c.idleSessions.take(ctx)
		if err != nil {
			takeErr = err
			return true, err
		}
		defer sh.recycle()
		resp, err := sh.getClient().Commit(ctx, &sppb.CommitRequest{
			Session: sh.getID(),
			Transaction: &sppb.CommitRequest_SingleUseTransaction{
				SingleUseTransaction: &sppb.TransactionOptions{
					Mode: &sppb.TransactionOptions_ReadWrite_{
						ReadWrite: &sppb.TransactionOptions_ReadWrite{},
					},
				},
			},
			Mutations:      mPb,
			RequestOptions: ao.requestOptions(),
		})
		if err == nil {
			if resp.CommitTimestamp != nil {
				ts = resp.CommitTimestamp.AsTime()
			}
			return true, nil
		}
		if isSessionNotFoundError(err) {
			trace.TracePrintf(ctx, nil, "Session %s not found, retrying the commit on a new session", sh.getID())
			sh.invalidate()
			return false, err
		}
		if ErrCode(err) == codes.Aborted {
			trace.TracePrintf(ctx, nil, "Commit aborted, retrying: %v", err)
			return false, err
		}
		return true, &CommitError{Err: toSpannerError(err)}
	})
	if err == nil {
		return ts, nil
	}
	if takeErr != nil {
		return time.Time{}, takeErr
	}
	var ce *CommitError
	if errors.As(err, &ce) {
		return time.Time{}, ce
	}
	var re *internal.RetryExhaustedError
	if errors.As(err, &re) {
		err = re.Unwrap()
	}
	return time.Time{}, &CommitError{Err: toSpannerError(err)}
}

// Commit runs f with an empty Batch and applies the mutations f collected in
// a single commit. No RPC is sent if f returns an error; the error is
// returned as is.
func (c *Client) Commit(ctx context.Context, f func(b *Batch) error) (time.Time, error) {
	b := &Batch{}
	if err := f(b); err != nil {
		return time.Time{}, err
	}
	return c.Apply(ctx, b.Mutations())
}

// Insert inserts rows into table in a single commit. The write fails with
// codes.AlreadyExists if any row already exists.
func (c *Client) Insert(ctx context.Context, table string, rows ...map[string]interface{}) (time.Time, error) {
	return c.Apply(ctx, InsertRows(table, rows...))
}

// Update updates existing rows of table in a single commit.
func (c *Client) Update(ctx context.Context, table string, rows ...map[string]interface{}) (time.Time, error) {
	return c.Apply(ctx, UpdateRows(table, rows...))
}

// Upsert inserts or updates rows of table in a single commit. Columns not
// named in a row keep their value.
func (c *Client) Upsert(ctx context.Context, table string, rows ...map[string]interface{}) (time.Time, error) {
	return c.Apply(ctx, InsertOrUpdateRows(table, rows...))
}

// Save is an alias for Upsert.
func (c *Client) Save(ctx context.Context, table string, rows ...map[string]interface{}) (time.Time, error) {
	return c.Upsert(ctx, table, rows...)
}

// Replace inserts rows into table, deleting any existing row with the same
// key. Columns not named in a row become NULL.
func (c *Client) Replace(ctx context.Context, table string, rows ...map[string]interface{}) (time.Time, error) {
	return c.Apply(ctx, ReplaceRows(table, rows...))
}

// Delete deletes rows of table in a single commit. With no keys every row is
// deleted. A Key deletes one row, a KeyRange deletes a contiguous range and
// several key sets delete their union.
func (c *Client) Delete(ctx context.Context, table string, keys ...KeySet) (time.Time, error) {
	return c.Apply(ctx, []*Mutation{Delete(table, deleteKeySet(keys))})
}
