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

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gcpkit/cloud-go/spanner"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
)

var loadColumns = []string{"Id", "Worker", "Payload"}

// applier is the part of *spanner.Client the workers use.
type applier interface {
	Apply(ctx context.Context, ms []*spanner.Mutation, opts ...spanner.ApplyOption) (time.Time, error)
}

// fatalCodes stop the run: retrying cannot fix them.
var fatalCodes = map[codes.Code]bool{
	codes.InvalidArgument:    true,
	codes.NotFound:           true,
	codes.PermissionDenied:   true,
	codes.Unauthenticated:    true,
	codes.FailedPrecondition: true,
}

// loadStats accumulates the outcome of a run.
type loadStats struct {
	commits atomic.Int64
	latency atomic.Int64 // nanoseconds, summed over commits

	mu       sync.Mutex
	failures map[codes.Code]int64

	elapsed time.Duration
}

func (s *loadStats) fail(code codes.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures == nil {
		s.failures = map[codes.Code]int64{}
	}
	s.failures[code]++
}

func (s *loadStats) failed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.failures {
		n += c
	}
	return n
}

// loadMetrics are the Prometheus instruments the workers update. A nil
// *loadMetrics records nothing.
type loadMetrics struct {
	commitLatency prometheus.Histogram
	commitErrors  *prometheus.CounterVec
}

func newLoadMetrics(reg prometheus.Registerer) *loadMetrics {
	m := &loadMetrics{
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spanload_commit_latency_seconds",
			Help:    "Latency of successful commits.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		commitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spanload_commit_errors_total",
			Help: "Failed commits by gRPC code.",
		}, []string{"code"}),
	}
	reg.MustRegister(m.commitLatency, m.commitErrors)
	return m
}

func (m *loadMetrics) observe(d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.commitErrors.WithLabelValues(spanner.ErrCode(err).String()).Inc()
		return
	}
	m.commitLatency.Observe(d.Seconds())
}

// runLoad runs cfg.Workers goroutines that commit one row each per Apply
// until cfg.Duration elapses or ctx is done. A commit failing with a code in
// fatalCodes ends the run with that error.
func runLoad(ctx context.Context, a applier, cfg config, m *loadMetrics) (*loadStats, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	stats := &loadStats{}
	payload := strings.Repeat("x", cfg.PayloadBytes)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		worker := int64(w)
		g.Go(func() error {
			for gctx.Err() == nil {
				mut := spanner.InsertOrUpdate(cfg.Table, loadColumns, []interface{}{uuid.NewString(), worker, payload})
				t0 := time.Now()
				_, err := a.Apply(gctx, []*spanner.Mutation{mut})
				d := time.Since(t0)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					m.observe(d, err)
					code := spanner.ErrCode(err)
					stats.fail(code)
					if fatalCodes[code] {
						return fmt.Errorf("worker %d: %w", worker, err)
					}
					continue
				}
				m.observe(d, nil)
				stats.commits.Add(1)
				stats.latency.Add(int64(d))
			}
			return nil
		})
	}
	err := g.Wait()
	stats.elapsed = time.Since(start)
	return stats, err
}

// printSummary writes a human readable report of stats and the final pool
// state to w.
func printSummary(w io.Writer, stats *loadStats, pool spanner.SessionPoolStats) {
	commits := stats.commits.Load()
	fmt.Fprintf(w, "elapsed:        %v\n", stats.elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "commits:        %d\n", commits)
	if secs := stats.elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(w, "commits/s:      %.1f\n", float64(commits)/secs)
	}
	if commits > 0 {
		avg := time.Duration(stats.latency.Load() / commits)
		fmt.Fprintf(w, "mean latency:   %v\n", avg.Round(time.Microsecond))
	}
	fmt.Fprintf(w, "failures:       %d\n", stats.failed())

	stats.mu.Lock()
	var failed []codes.Code
	for c := range stats.failures {
		failed = append(failed, c)
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	for _, c := range failed {
		fmt.Fprintf(w, "  %-20s %d\n", c, stats.failures[c])
	}
	stats.mu.Unlock()

	fmt.Fprintf(w, "sessions:       opened=%d idle=%d in_use=%d max_in_use=%d\n", pool.Opened, pool.Idle, pool.InUse, pool.MaxInUse)
	fmt.Fprintf(w, "acquisitions:   acquired=%d released=%d timeouts=%d\n", pool.Acquired, pool.Released, pool.Timeouts)
}
