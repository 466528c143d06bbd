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

	"github.com/gcpkit/cloud-go/internal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	// OtInstrumentationScope is the instrumentation name used for the
	// session pool metrics.
	OtInstrumentationScope = "github.com/gcpkit/cloud-go/spanner"
	statsPrefix            = "spanner/"
)

var (
	tagKeyClientID   = attribute.Key("client_id")
	tagKeyDatabase   = attribute.Key("database")
	tagKeyInstance   = attribute.Key("instance_id")
	tagKeyLibVersion = attribute.Key("library_version")
	tagKeyType       = attribute.Key("type")

	tagNumInUseSessions = tagKeyType.String("num_in_use_sessions")
	tagNumSessions      = tagKeyType.String("num_sessions")
)

// poolMetrics holds the OpenTelemetry instruments of one session pool.
type poolMetrics struct {
	meter      metric.Meter
	attributes []attribute.KeyValue

	openSessionCount   metric.Int64ObservableGauge
	maxAllowedSessions metric.Int64ObservableGauge
	sessionsCount      metric.Int64ObservableGauge
	maxInUseSessions   metric.Int64ObservableGauge
	getSessionTimeouts metric.Int64Counter
	acquiredSessions   metric.Int64Counter
	releasedSessions   metric.Int64Counter

	registration metric.Registration
}

// newPoolMetrics creates the instruments of a session pool. A nil provider
// uses the global MeterProvider.
func newPoolMetrics(mp metric.MeterProvider, clientID, database string) (*poolMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(OtInstrumentationScope, metric.WithInstrumentationVersion(internal.Version))
	_, instance, db, err := parseDatabaseName(database)
	if err != nil {
		return nil, err
	}
	pm := &poolMetrics{
		meter: meter,
		attributes: []attribute.KeyValue{
			tagKeyClientID.String(clientID),
			tagKeyDatabase.String(db),
			tagKeyInstance.String(instance),
			tagKeyLibVersion.String(internal.Version),
		},
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	pm.openSessionCount, err = meter.Int64ObservableGauge(
		statsPrefix+"open_session_count",
		metric.WithDescription("Number of sessions currently opened"),
		metric.WithUnit("1"),
	)
	add(err)
	pm.maxAllowedSessions, err = meter.Int64ObservableGauge(
		statsPrefix+"max_allowed_sessions",
		metric.WithDescription("The maximum number of sessions allowed. Configurable by the user."),
		metric.WithUnit("1"),
	)
	add(err)
	pm.sessionsCount, err = meter.Int64ObservableGauge(
		statsPrefix+"num_sessions_in_pool",
		metric.WithDescription("The number of sessions currently in use or idle."),
		metric.WithUnit("1"),
	)
	add(err)
	pm.maxInUseSessions, err = meter.Int64ObservableGauge(
		statsPrefix+"max_in_use_sessions",
		metric.WithDescription("The maximum number of sessions in use since the pool was created."),
		metric.WithUnit("1"),
	)
	add(err)
	pm.getSessionTimeouts, err = meter.Int64Counter(
		statsPrefix+"get_session_timeouts",
		metric.WithDescription("The number of get sessions timeouts due to pool exhaustion."),
		metric.WithUnit("1"),
	)
	add(err)
	pm.acquiredSessions, err = meter.Int64Counter(
		statsPrefix+"num_acquired_sessions",
		metric.WithDescription("The number of sessions acquired from the session pool."),
		metric.WithUnit("1"),
	)
	add(err)
	pm.releasedSessions, err = meter.Int64Counter(
		statsPrefix+"num_released_sessions",
		metric.WithDescription("The number of sessions released by the user and pool maintainer."),
		metric.WithUnit("1"),
	)
	add(err)
	return pm, errors.Join(errs...)
}

// noopPoolMetrics returns instruments that record nothing.
func noopPoolMetrics() *poolMetrics {
	pm, _ := newPoolMetrics(noop.NewMeterProvider(), "", "projects/p/instances/i/databases/d")
	return pm
}

// register starts reporting the gauges of pool. It must not be called with
// pool.mu held.
func (pm *poolMetrics) register(pool *sessionPool) error {
	attributesInUseSessions := append(pm.attributes[:len(pm.attributes):len(pm.attributes)], tagNumInUseSessions)
	attributesAvailableSessions := append(pm.attributes[:len(pm.attributes):len(pm.attributes)], tagNumSessions)

	reg, err := pm.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			pool.mu.Lock()
			defer pool.mu.Unlock()

			o.ObserveInt64(pm.openSessionCount, int64(pool.numOpened), metric.WithAttributes(pm.attributes...))
			o.ObserveInt64(pm.maxAllowedSessions, int64(pool.MaxOpened), metric.WithAttributes(pm.attributes...))
			o.ObserveInt64(pm.sessionsCount, int64(pool.numInUse), metric.WithAttributes(attributesInUseSessions...))
			o.ObserveInt64(pm.sessionsCount, int64(pool.idleList.Len()), metric.WithAttributes(attributesAvailableSessions...))
			o.ObserveInt64(pm.maxInUseSessions, int64(pool.maxNumInUse), metric.WithAttributes(pm.attributes...))
			return nil
		},
		pm.openSessionCount,
		pm.maxAllowedSessions,
		pm.sessionsCount,
		pm.maxInUseSessions,
	)
	if err != nil {
		return err
	}
	pm.registration = reg
	return nil
}

func (pm *poolMetrics) unregister() {
	if pm.registration == nil {
		return
	}
	if err := pm.registration.Unregister(); err != nil {
		otel.Handle(err)
	}
	pm.registration = nil
}

func (pm *poolMetrics) recordAcquired(ctx context.Context) {
	pm.acquiredSessions.Add(ctx, 1, metric.WithAttributes(pm.attributes...))
}

func (pm *poolMetrics) recordReleased(ctx context.Context) {
	pm.releasedSessions.Add(ctx, 1, metric.WithAttributes(pm.attributes...))
}

func (pm *poolMetrics) recordTimeout(ctx context.Context) {
	pm.getSessionTimeouts.Add(ctx, 1, metric.WithAttributes(pm.attributes...))
}
