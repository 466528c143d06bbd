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
	"strings"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const sessionResourceType = "type.googleapis.com/google.spanner.v1.Session"

var (
	// ErrSessionPoolExhausted is returned when no session became available
	// within SessionPoolConfig.AcquireTimeout.
	ErrSessionPoolExhausted = spannerErrorf(codes.ResourceExhausted, "no session available in the session pool before the acquire timeout")

	// ErrSessionPoolClosed is returned by operations on a client whose
	// session pool has been closed.
	ErrSessionPoolClosed = spannerErrorf(codes.FailedPrecondition, "session pool has been closed")
)

// Error is the structured error returned by Cloud Spanner client.
type Error struct {
	// Code is the canonical error code for describing the nature of a
	// particular error.
	Code codes.Code
	// err is the wrapped error that caused this Spanner error. The wrapped
	// error can be read with the Unwrap method.
	err error
	// Desc explains more details of the error.
	Desc string
}

// Error implements error.Error.
func (e *Error) Error() string {
	if e == nil {
		return "spanner: OK"
	}
	code := ErrCode(e)
	return fmt.Sprintf("spanner: code = %q, desc = %q", code, e.Desc)
}

// Unwrap returns the wrapped error (if any).
func (e *Error) Unwrap() error {
	return e.err
}

// GRPCStatus returns the corresponding gRPC Status of this Spanner error.
// This allows the error to be converted to a gRPC status using
// `status.Convert(error)`.
func (e *Error) GRPCStatus() *status.Status {
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(e.err, &se) {
		return se.GRPCStatus()
	}
	return status.New(e.Code, e.Desc)
}

// spannerErrorf generates a *spanner.Error with the given description and a
// status error with the given error code as its wrapped error.
func spannerErrorf(code codes.Code, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Code: code,
		err:  status.Error(code, msg),
		Desc: msg,
	}
}

// ToSpannerError converts a general Go error to *spanner.Error. If the given
// error is already a *spanner.Error, the original error will be returned.
//
// Spanner Errors are normally created by the Spanner client library from the
// returned status of a RPC. This method can also be used to create Spanner
// errors for use in tests. The recommended way to create test errors is
// calling this method with a status error, e.g.
// ToSpannerError(status.New(codes.NotFound, "Table not found").Err())
func ToSpannerError(err error) error {
	return toSpannerError(err)
}

func toSpannerError(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: codes.DeadlineExceeded, err: err, Desc: err.Error()}
	case errors.Is(err, context.Canceled):
		return &Error{Code: codes.Canceled, err: err, Desc: err.Error()}
	}
	if s, ok := status.FromError(err); ok {
		return &Error{Code: s.Code(), err: err, Desc: s.Message()}
	}
	return &Error{Code: codes.Unknown, err: err, Desc: err.Error()}
}

// ErrCode extracts the canonical error code from a Go error.
func ErrCode(err error) codes.Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return status.Code(err)
}

// ErrDesc extracts the Cloud Spanner error description from a Go error.
func ErrDesc(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Desc
	}
	if s, ok := status.FromError(err); ok {
		return s.Message()
	}
	return err.Error()
}

// CommitError is returned when the Commit RPC of a mutation batch fails.
// The session used for the commit has already been returned to the pool when
// a CommitError is returned.
type CommitError struct {
	// Err is the *spanner.Error describing the failed RPC.
	Err error
}

func (e *CommitError) Error() string {
	return "spanner: commit failed: " + e.Err.Error()
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// isSessionNotFoundError returns true if the given error is a
// `Session not found` error.
func isSessionNotFoundError(err error) bool {
	if err == nil || ErrCode(err) != codes.NotFound {
		return false
	}
	if rt, ok := extractResourceType(err); ok {
		return rt == sessionResourceType
	}
	return strings.Contains(ErrDesc(err), "Session not found")
}

// extractResourceType returns the resource type of a NotFound error that
// carries a ResourceInfo detail.
func extractResourceType(err error) (string, bool) {
	var ae *apierror.APIError
	if !errors.As(err, &ae) {
		var ok bool
		if ae, ok = apierror.FromError(err); !ok {
			return "", false
		}
	}
	if ri := ae.Details().ResourceInfo; ri != nil {
		return ri.ResourceType, true
	}
	return "", false
}
