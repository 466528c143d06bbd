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
	"slices"
	"sort"

	sppb "cloud.google.com/go/spanner/apiv1/spannerpb"
	"google.golang.org/grpc/codes"
	proto3 "google.golang.org/protobuf/types/known/structpb"
)

// op is the mutation operation.
type op int

const (
	// opDelete removes a row from a table. Succeeds whether or not the
	// key was present.
	opDelete op = iota
	// opInsert inserts a row into a table. If the row already exists, the
	// write or transaction fails.
	opInsert
	// opInsertOrUpdate inserts a row into a table. If the row already
	// exists, it updates it instead. Any column values not explicitly
	// written are preserved.
	opInsertOrUpdate
	// opReplace inserts a row into a table, deleting any existing row.
	// Unlike InsertOrUpdate, this means any values not explicitly written
	// become NULL.
	opReplace
	// opUpdate updates a row in a table. If the row does not already
	// exist, the write or transaction fails.
	opUpdate
)

func (o op) String() string {
	switch o {
	case opDelete:
		return "delete"
	case opInsert:
		return "insert"
	case opInsertOrUpdate:
		return "insert_or_update"
	case opReplace:
		return "replace"
	case opUpdate:
		return "update"
	}
	return "unknown"
}

// A Mutation describes a modification to one or more Cloud Spanner rows. The
// mutation represents an insert, update, delete, etc on a table.
//
// Many mutations can be applied in a single atomic commit. For purposes of
// constraint checking (such as foreign key constraints), the operations can be
// viewed as applying in the same order as the mutations are provided (so that,
// e.g., a row and its logical "child" can be inserted in the same commit).
//
// The Apply function applies series of mutations. For example,
//
//	m := spanner.Insert("User",
//		[]string{"user_id", "profile"},
//		[]interface{}{UserID, profile})
//	_, err := client.Apply(ctx, []*spanner.Mutation{m})
//
// inserts a new row into the User table. The primary key for the new row is
// UserID (presuming that "user_id" has been declared as the primary key of
// the "User" table).
//
// To apply a series of mutations as part of a single batch, use Client.Commit:
//
//	_, err := client.Commit(ctx, func(b *spanner.Batch) error {
//		b.Update("users", map[string]interface{}{"id": 1, "name": "Charlie"})
//		b.Delete("users", spanner.KeySetFromKeys(spanner.Key{1}, spanner.Key{2}))
//		return nil
//	})
type Mutation struct {
	// op is the operation type of the mutation.
	op op
	// Table is the name of the target table to be modified.
	table string
	// keySet is a set of primary keys that names the rows
	// in a delete operation.
	keySet KeySet

	// columns names the set of columns that are going to be
	// modified by Insert, InsertOrUpdate, Replace or Update
	// operations.
	columns []string
	// rows holds one slice of values per row written. Each slice is
	// aligned with columns.
	rows [][]interface{}
}

// Insert returns a Mutation to insert a row into a table, specified by a list
// of column names and values. If the row already exists, the write or
// transaction fails with codes.AlreadyExists.
func Insert(table string, cols []string, vals []interface{}) *Mutation {
	return &Mutation{op: opInsert, table: table, columns: cols, rows: [][]interface{}{vals}}
}

// InsertMap returns a Mutation to insert a row into a table, specified by a
// map of column name to value. If the row already exists, the write or
// transaction fails with codes.AlreadyExists.
func InsertMap(table string, in map[string]interface{}) *Mutation {
	cols, vals := mapToMutationParams(in)
	return Insert(table, cols, vals)
}

// InsertRows returns the mutations that insert every row in rows. Consecutive
// rows naming the same columns share one mutation; the mutations keep the
// order of rows.
func InsertRows(table string, rows ...map[string]interface{}) []*Mutation {
	return rowsMutation(opInsert, table, rows)
}

// Update returns a Mutation to update a row in a table, specified by a list
// of column names and values. If the row does not already exist, the write or
// transaction fails.
func Update(table string, cols []string, vals []interface{}) *Mutation {
	return &Mutation{op: opUpdate, table: table, columns: cols, rows: [][]interface{}{vals}}
}

// UpdateMap returns a Mutation to update a row in a table, specified by a map
// of column to value. If the row does not already exist, the write or
// transaction fails.
func UpdateMap(table string, in map[string]interface{}) *Mutation {
	cols, vals := mapToMutationParams(in)
	return Update(table, cols, vals)
}

// UpdateRows returns the mutations that update every row in rows. Each row
// writes only the columns it names.
func UpdateRows(table string, rows ...map[string]interface{}) []*Mutation {
	return rowsMutation(opUpdate, table, rows)
}

// InsertOrUpdate returns a Mutation to insert a row into a table, specified
// by a list of column names and values. If the row already exists, it updates
// it instead. Any column values not explicitly written are preserved.
//
// For a similar example, See Update.
func InsertOrUpdate(table string, cols []string, vals []interface{}) *Mutation {
	return &Mutation{op: opInsertOrUpdate, table: table, columns: cols, rows: [][]interface{}{vals}}
}

// InsertOrUpdateMap returns a Mutation to insert a row into a table,
// specified by a map of column to value. If the row already exists, it
// updates it instead. Any column values not explicitly written are preserved.
func InsertOrUpdateMap(table string, in map[string]interface{}) *Mutation {
	cols, vals := mapToMutationParams(in)
	return InsertOrUpdate(table, cols, vals)
}

// InsertOrUpdateRows returns the mutations that upsert every row in rows.
// Columns a row does not name keep their value.
func InsertOrUpdateRows(table string, rows ...map[string]interface{}) []*Mutation {
	return rowsMutation(opInsertOrUpdate, table, rows)
}

// Replace returns a Mutation to insert a row into a table, deleting any
// existing row. Unlike InsertOrUpdate, this means any values not explicitly
// written become NULL.
func Replace(table string, cols []string, vals []interface{}) *Mutation {
	return &Mutation{op: opReplace, table: table, columns: cols, rows: [][]interface{}{vals}}
}

// ReplaceMap returns a Mutation to insert a row into a table, deleting any
// existing row. Unlike InsertOrUpdateMap, this means any values not explicitly
// written become NULL. The row is specified by a map of column to value.
func ReplaceMap(table string, in map[string]interface{}) *Mutation {
	cols, vals := mapToMutationParams(in)
	return Replace(table, cols, vals)
}

// ReplaceRows returns the mutations that replace every row in rows.
func ReplaceRows(table string, rows ...map[string]interface{}) []*Mutation {
	return rowsMutation(opReplace, table, rows)
}

// Delete removes the rows described by the KeySet from the table. It succeeds
// whether or not the keys were present. A nil KeySet removes every row.
func Delete(table string, ks KeySet) *Mutation {
	if ks == nil {
		ks = AllKeys()
	}
	return &Mutation{
		op:     opDelete,
		table:  table,
		keySet: ks,
	}
}

// mapToMutationParams converts Go map into mutation parameters. Columns are
// sorted so the encoded mutation does not depend on map iteration order.
func mapToMutationParams(in map[string]interface{}) ([]string, []interface{}) {
	cols := make([]string, 0, len(in))
	for k := range in {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	vals := make([]interface{}, len(cols))
	for i, c := range cols {
		vals[i] = in[c]
	}
	return cols, vals
}

// rowsMutation groups consecutive rows by their column set. A row is never
// padded with columns it does not name.
func rowsMutation(o op, table string, rows []map[string]interface{}) []*Mutation {
	var ms []*Mutation
	for _, r := range rows {
		cols, vals := mapToMutationParams(r)
		if n := len(ms); n > 0 && slices.Equal(ms[n-1].columns, cols) {
			ms[n-1].rows = append(ms[n-1].rows, vals)
			continue
		}
		ms = append(ms, &Mutation{op: o, table: table, columns: cols, rows: [][]interface{}{vals}})
	}
	return ms
}

// errNotValidOp returns error for invalid mutation operation.
func errNotValidOp(o op) error {
	return spannerErrorf(codes.InvalidArgument, "proto() does not support op type %v", o)
}

// errInvdMutationOp returns error for unrecognized mutation operation.
func errInvdMutationOp(m Mutation) error {
	return spannerErrorf(codes.InvalidArgument, "Unknown op type: %d", m.op)
}

// errMutationColumnCount returns error for a row whose value count does not
// match the column count.
func errMutationColumnCount(table string, cols, vals int) error {
	return spannerErrorf(codes.InvalidArgument, "mutation on table %q has %d columns but %d values", table, cols, vals)
}

// proto converts spanner.Mutation to sppb.Mutation, in preparation to send
// RPCs.
func (m Mutation) proto() (*sppb.Mutation, error) {
	var pb *sppb.Mutation
	switch m.op {
	case opDelete:
		var kp *sppb.KeySet
		if m.keySet != nil {
			var err error
			kp, err = m.keySet.keySetProto()
			if err != nil {
				return nil, err
			}
		}
		pb = &sppb.Mutation{
			Operation: &sppb.Mutation_Delete_{
				Delete: &sppb.Mutation_Delete{
					Table:  m.table,
					KeySet: kp,
				},
			},
		}
	case opInsert:
		w, err := m.write()
		if err != nil {
			return nil, err
		}
		pb = &sppb.Mutation{Operation: &sppb.Mutation_Insert{Insert: w}}
	case opInsertOrUpdate:
		w, err := m.write()
		if err != nil {
			return nil, err
		}
		pb = &sppb.Mutation{Operation: &sppb.Mutation_InsertOrUpdate{InsertOrUpdate: w}}
	case opReplace:
		w, err := m.write()
		if err != nil {
			return nil, err
		}
		pb = &sppb.Mutation{Operation: &sppb.Mutation_Replace{Replace: w}}
	case opUpdate:
		w, err := m.write()
		if err != nil {
			return nil, err
		}
		pb = &sppb.Mutation{Operation: &sppb.Mutation_Update{Update: w}}
	default:
		return nil, errInvdMutationOp(m)
	}
	return pb, nil
}

// write builds the Mutation_Write shared by every non-delete operation.
func (m Mutation) write() (*sppb.Mutation_Write, error) {
	if m.op == opDelete {
		return nil, errNotValidOp(m.op)
	}
	w := &sppb.Mutation_Write{
		Table:   m.table,
		Columns: m.columns,
		Values:  make([]*proto3.ListValue, 0, len(m.rows)),
	}
	for _, row := range m.rows {
		if len(row) != len(m.columns) {
			return nil, errMutationColumnCount(m.table, len(m.columns), len(row))
		}
		lv := &proto3.ListValue{Values: make([]*proto3.Value, 0, len(row))}
		for _, v := range row {
			pv, err := encodeValue(v)
			if err != nil {
				return nil, err
			}
			lv.Values = append(lv.Values, pv)
		}
		w.Values = append(w.Values, lv)
	}
	return w, nil
}

// mutationsProto turns a spanner.Mutation array into a sppb.Mutation array,
// it is convenient for sending batch mutations to Cloud Spanner.
func mutationsProto(ms []*Mutation) ([]*sppb.Mutation, error) {
	l := make([]*sppb.Mutation, 0, len(ms))
	for _, m := range ms {
		pb, err := m.proto()
		if err != nil {
			return nil, err
		}
		l = append(l, pb)
	}
	return l, nil
}
