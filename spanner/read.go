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

	sppb "cloud.google.com/go/spanner/apiv1/spannerpb"
	"github.com/gcpkit/cloud-go/internal/trace"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	proto3 "google.golang.org/protobuf/types/known/structpb"
)

// Read returns the rows of table named by keys in a single-use strong
// read-only transaction. Each row holds the given columns in order.
func (c *Client) Read(ctx context.Context, table string, keys KeySet, columns []string) (rows []*Row, err error) {
	ctx = trace.StartSpan(ctx, "spanner.Client.Read", attribute.String("db.name", c.database), attribute.String("table", table))
	defer func() { trace.EndSpan(ctx, err) }()

	if keys == nil {
		keys = AllKeys()
	}
	kset, err := keys.keySetProto()
	if err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		sh, err := c.idleSessions.take(ctx)
		if err != nil {
			return nil, err
		}
		rs, err := sh.getClient().Read(ctx, &sppb.ReadRequest{
			Session: sh.getID(),
			Transaction: &sppb.TransactionSelector{
				Selector: &sppb.TransactionSelector_SingleUse{
					SingleUse: &sppb.TransactionOptions{
						Mode: &sppb.TransactionOptions_ReadOnly_{
							ReadOnly: &sppb.TransactionOptions_ReadOnly{
								TimestampBound: &sppb.TransactionOptions_ReadOnly_Strong{Strong: true},
							},
						},
					},
				},
			},
			Table:   table,
			Columns: columns,
			KeySet:  kset,
		})
		if err != nil && isSessionNotFoundError(err) && attempt+1 < maxCommitAttempts {
			sh.invalidate()
			sh.recycle()
			continue
		}
		sh.recycle()
		if err != nil {
			return nil, ToSpannerError(err)
		}
		return rowsFromResultSet(rs)
	}
}

func rowsFromResultSet(rs *sppb.ResultSet) ([]*Row, error) {
	fields := rs.GetMetadata().GetRowType().GetFields()
	rows := make([]*Row, 0, len(rs.GetRows()))
	for _, lv := range rs.GetRows() {
		if len(lv.Values) != len(fields) {
			return nil, spannerErrorf(codes.FailedPrecondition, "row has %d values but the result set has %d columns", len(lv.Values), len(fields))
		}
		rows = append(rows, &Row{fields: fields, vals: lv.Values})
	}
	return rows, nil
}

// A Row is a view of a row of data returned by a Cloud Spanner read. It
// consists of a number of columns; the number depends on the columns used to
// construct the read.
//
// The column values can be accessed by index. For instance:
//
//	var name string
//	if err := row.Column(0, &name); err != nil {
//		// TODO: Handle error.
//	}
//
// Supported destinations are pointers to int64, string, bool, float64,
// []byte, time.Time and civil.Date, and pointers to pointers of those types
// (except []byte) for nullable columns.
type Row struct {
	fields []*sppb.StructType_Field
	vals   []*proto3.Value
}

// errNamesValuesMismatch returns error for when columnNames count is not
// equal to columnValues count.
func errNamesValuesMismatch(columnNames []string, columnValues []interface{}) error {
	return spannerErrorf(codes.FailedPrecondition,
		"different number of names(%v) and values(%v)", len(columnNames), len(columnValues))
}

// NewRow returns a Row containing the supplied data. This can be useful for
// mocking Cloud Spanner Read and Query responses for unit testing.
func NewRow(columnNames []string, columnValues []interface{}) (*Row, error) {
	if len(columnValues) != len(columnNames) {
		return nil, errNamesValuesMismatch(columnNames, columnValues)
	}
	r := Row{
		fields: make([]*sppb.StructType_Field, len(columnValues)),
		vals:   make([]*proto3.Value, len(columnValues)),
	}
	for i := range columnValues {
		val, typ, err := encodeValueWithType(columnValues[i])
		if err != nil {
			return nil, err
		}
		r.fields[i] = &sppb.StructType_Field{
			Name: columnNames[i],
			Type: typ,
		}
		r.vals[i] = val
	}
	return &r, nil
}

// Size is the number of columns in the row.
func (r *Row) Size() int {
	return len(r.fields)
}

// ColumnName returns the name of column i, or empty string for invalid column.
func (r *Row) ColumnName(i int) string {
	if i < 0 || i >= len(r.fields) {
		return ""
	}
	return r.fields[i].Name
}

// ColumnIndex returns the index of the column with the given name. The
// comparison is case-sensitive.
func (r *Row) ColumnIndex(name string) (int, error) {
	found := false
	var index int
	if len(r.vals) != len(r.fields) {
		return 0, errFieldsMismatchVals(r)
	}
	for i, f := range r.fields {
		if f == nil {
			return 0, errNilColType(i)
		}
		if name == f.Name {
			if found {
				return 0, errDupColName(name)
			}
			found = true
			index = i
		}
	}
	if !found {
		return 0, errColNotFound(name)
	}
	return index, nil
}

// ColumnNames returns all column names of the row.
func (r *Row) ColumnNames() []string {
	var n []string
	for _, c := range r.fields {
		n = append(n, c.Name)
	}
	return n
}

// errColIdxOutOfRange returns error for requested column index is out of the
// range of the target Row's columns.
func errColIdxOutOfRange(i int, r *Row) error {
	return spannerErrorf(codes.OutOfRange, "column index %d out of range [0,%d)", i, len(r.vals))
}

// errDecodeColumnAt returns error for not being able to decode an indexed
// column.
func errDecodeColumnAt(i int, err error) error {
	return spannerErrorf(ErrCode(err), "failed to decode column %v, error = <%v>", i, err)
}

// errFieldsMismatchVals returns error for field count isn't equal to value count
// in a Row.
func errFieldsMismatchVals(r *Row) error {
	return spannerErrorf(codes.FailedPrecondition, "row has different number of fields(%v) and values(%v)",
		len(r.fields), len(r.vals))
}

// errNilColType returns error for column type for column i being nil in the
// row.
func errNilColType(i int) error {
	return spannerErrorf(codes.FailedPrecondition, "column(%v)'s type is nil", i)
}

// errDupColName returns error for duplicated column name in the same row.
func errDupColName(n string) error {
	return spannerErrorf(codes.FailedPrecondition, "ambiguous column name %q", n)
}

// errColNotFound returns error for not being able to find a named column.
func errColNotFound(n string) error {
	return spannerErrorf(codes.NotFound, "column %q not found", n)
}

// Column fetches the value from the ith column, decoding it into ptr.
func (r *Row) Column(i int, ptr interface{}) error {
	if len(r.vals) != len(r.fields) {
		return errFieldsMismatchVals(r)
	}
	if i < 0 || i >= len(r.fields) {
		return errColIdxOutOfRange(i, r)
	}
	if r.fields[i] == nil {
		return errNilColType(i)
	}
	if err := decodeValue(r.vals[i], r.fields[i].Type, ptr); err != nil {
		return errDecodeColumnAt(i, err)
	}
	return nil
}

// ColumnByName fetches the value from the named column, decoding it into ptr.
func (r *Row) ColumnByName(name string, ptr interface{}) error {
	index, err := r.ColumnIndex(name)
	if err != nil {
		return err
	}
	return r.Column(index, ptr)
}

// Columns fetches all the columns in the row at once.
//
// The value of the kth column will be decoded into the kth argument to
// Columns. The number of arguments must be equal to the number of columns.
// Pass nil to specify that a column should be ignored.
func (r *Row) Columns(ptrs ...interface{}) error {
	if len(ptrs) != len(r.vals) {
		return errColumnsCount(len(ptrs), len(r.vals))
	}
	if len(r.vals) != len(r.fields) {
		return errFieldsMismatchVals(r)
	}
	for i, p := range ptrs {
		if p == nil {
			continue
		}
		if err := r.Column(i, p); err != nil {
			return err
		}
	}
	return nil
}

func errColumnsCount(got, want int) error {
	return spannerErrorf(codes.InvalidArgument, "Columns(): got %d arguments, want %d", got, want)
}
