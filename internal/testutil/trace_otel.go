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
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// OpenTelemetryTestExporter captures spans in memory. It installs itself as
// the global TracerProvider; call Unregister when done.
type OpenTelemetryTestExporter struct {
	exporter *tracetest.InMemoryExporter
	tp       *sdktrace.TracerProvider
}

// NewOpenTelemetryTestExporter creates an OpenTelemetryTestExporter that
// samples every span.
func NewOpenTelemetryTestExporter() *OpenTelemetryTestExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return &OpenTelemetryTestExporter{exporter: exporter, tp: tp}
}

// Spans returns the spans ended so far.
func (te *OpenTelemetryTestExporter) Spans() tracetest.SpanStubs {
	return te.exporter.GetSpans()
}

// Unregister shuts down the underlying TracerProvider.
func (te *OpenTelemetryTestExporter) Unregister(ctx context.Context) {
	te.tp.Shutdown(ctx)
}

// MetricReader is a MeterProvider backed by a manual reader, so tests can
// collect metrics on demand.
type MetricReader struct {
	*sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// NewMetricReader returns a MetricReader. It is not installed globally.
func NewMetricReader() *MetricReader {
	reader := sdkmetric.NewManualReader()
	return &MetricReader{
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		reader:        reader,
	}
}

// Collect returns all metrics currently recorded.
func (mr *MetricReader) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := mr.reader.Collect(ctx, &rm)
	return rm, err
}

// Int64Value returns the value of the first int64 data point of the named
// metric whose attributes include every attribute in attrs, and whether one
// was found. Both gauges and sums are searched.
func (mr *MetricReader) Int64Value(ctx context.Context, name string, attrs map[string]string) (int64, bool) {
	rm, err := mr.Collect(ctx)
	if err != nil {
		return 0, false
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var points []metricdata.DataPoint[int64]
			switch d := m.Data.(type) {
			case metricdata.Gauge[int64]:
				points = d.DataPoints
			case metricdata.Sum[int64]:
				points = d.DataPoints
			}
		points:
			for _, p := range points {
				for k, v := range attrs {
					got, ok := p.Attributes.Value(attribute.Key(k))
					if !ok || got.AsString() != v {
						continue points
					}
				}
				return p.Value, true
			}
		}
	}
	return 0, false
}
