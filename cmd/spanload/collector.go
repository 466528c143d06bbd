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
	"github.com/gcpkit/cloud-go/spanner"
	"github.com/prometheus/client_golang/prometheus"
)

// poolCollector exports a snapshot of the session pool on every scrape.
type poolCollector struct {
	stats func() spanner.SessionPoolStats

	sessions *prometheus.Desc
	opened   *prometheus.Desc
	maxInUse *prometheus.Desc
	acquired *prometheus.Desc
	released *prometheus.Desc
	timeouts *prometheus.Desc
}

func newPoolCollector(database string, stats func() spanner.SessionPoolStats) *poolCollector {
	labels := prometheus.Labels{"database": database}
	return &poolCollector{
		stats: stats,
		sessions: prometheus.NewDesc("spanload_pool_sessions",
			"Sessions of the pool by state.", []string{"state"}, labels),
		opened: prometheus.NewDesc("spanload_pool_open_sessions",
			"Sessions opened by the pool, idle or in use.", nil, labels),
		maxInUse: prometheus.NewDesc("spanload_pool_max_in_use_sessions",
			"Largest number of sessions in use at once.", nil, labels),
		acquired: prometheus.NewDesc("spanload_pool_acquired_sessions_total",
			"Sessions handed out by the pool.", nil, labels),
		released: prometheus.NewDesc("spanload_pool_released_sessions_total",
			"Sessions returned to the pool.", nil, labels),
		timeouts: prometheus.NewDesc("spanload_pool_acquire_timeouts_total",
			"Acquisitions that gave up after the acquire timeout.", nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessions
	ch <- c.opened
	ch <- c.maxInUse
	ch <- c.acquired
	ch <- c.released
	ch <- c.timeouts
}

// Collect implements prometheus.Collector.
func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(s.Idle), "idle")
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(s.InUse), "in_use")
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(s.Creating), "creating")
	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(s.Pinging), "pinging")
	ch <- prometheus.MustNewConstMetric(c.opened, prometheus.GaugeValue, float64(s.Opened))
	ch <- prometheus.MustNewConstMetric(c.maxInUse, prometheus.GaugeValue, float64(s.MaxInUse))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.CounterValue, float64(s.Acquired))
	ch <- prometheus.MustNewConstMetric(c.released, prometheus.CounterValue, float64(s.Released))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(s.Timeouts))
}
