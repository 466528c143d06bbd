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

// Batch collects mutations for Client.Commit. The mutations are sent in the
// order they were added.
//
// A Batch is not safe for concurrent use.
type Batch struct {
	ms []*Mutation
}

// Insert adds a mutation that inserts rows into table.
func (b *Batch) Insert(table string, rows ...map[string]interface{}) {
	b.ms = append(b.ms, InsertRows(table, rows...)...)
}

// Update adds a mutation that updates existing rows of table.
func (b *Batch) Update(table string, rows ...map[string]interface{}) {
	b.ms = append(b.ms, UpdateRows(table, rows...)...)
}

// Upsert adds a mutation that inserts or updates rows of table.
func (b *Batch) Upsert(table string, rows ...map[string]interface{}) {
	b.ms = append(b.ms, InsertOrUpdateRows(table, rows...)...)
}

// Save is an alias for Upsert.
func (b *Batch) Save(table string, rows ...map[string]interface{}) {
	b.Upsert(table, rows...)
}

// Replace adds a mutation that replaces rows of table.
func (b *Batch) Replace(table string, rows ...map[string]interface{}) {
	b.ms = append(b.ms, ReplaceRows(table, rows...)...)
}

// Delete adds a mutation that deletes rows of table. With no keys every row
// is deleted.
func (b *Batch) Delete(table string, keys ...KeySet) {
	b.ms = append(b.ms, Delete(table, deleteKeySet(keys)))
}

// Apply adds prebuilt mutations to the batch.
func (b *Batch) Apply(ms ...*Mutation) {
	b.ms = append(b.ms, ms...)
}

// Mutations returns the mutations collected so far.
func (b *Batch) Mutations() []*Mutation {
	return b.ms
}
