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

// Package trace wraps OpenTelemetry tracing for the client libraries.
package trace

import (
	"context"
	"fmt"

	"github.com/googleapis/gax-go/v2/apierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/status"
)

const tracerName = "github.com/gcpkit/cloud-go"

// StartSpan starts a span named name as a child of any span in ctx. The
// tracer is looked up on every call so that a TracerProvider installed after
// package initialization is honored.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) context.Context {
	ctx, _ = otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx
}

// EndSpan ends the span in ctx, recording err on it when non-nil.
func EndSpan(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, statusDescription(err))
	}
	span.End()
}

// statusDescription prefers the server supplied message over the full
// formatted error.
func statusDescription(err error) string {
	if ae, ok := apierror.FromError(err); ok {
		if s := ae.GRPCStatus(); s != nil {
			return s.Message()
		}
	}
	if s, ok := status.FromError(err); ok {
		return s.Message()
	}
	return err.Error()
}

// TracePrintf adds an event to the span in ctx. attrMap values of an
// unsupported type are recorded using their %#v representation.
func TracePrintf(ctx context.Context, attrMap map[string]interface{}, format string, args ...interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(attrMap))
	for k, v := range attrMap {
		switch v := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, v))
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case int64:
			attrs = append(attrs, attribute.Int64(k, v))
		case uint64:
			attrs = append(attrs, attribute.Int64(k, int64(v)))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%#v", v)))
		}
	}
	span.AddEvent(fmt.Sprintf(format, args...), trace.WithAttributes(attrs...))
}
