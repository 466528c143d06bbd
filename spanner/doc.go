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

/*
Package spanner provides a client for reading and writing to Cloud Spanner
databases.

# Creating a Client

To start working with this package, create a client that refers to the
database of interest:

	ctx := context.Background()
	client, err := spanner.NewClient(ctx, "projects/P/instances/I/databases/D")
	if err != nil {
		// TODO: Handle error.
	}
	defer client.Close()

Set the environment variable SPANNER_EMULATOR_HOST to connect to a local
emulator instead of the production endpoint.

# Sessions

Every read and commit runs on a server-side session. The client keeps a pool
of sessions, configured through SessionPoolConfig: it warms up MinOpened
sessions when it is created, never holds more than MaxOpened sessions, and
pings sessions that have been idle for KeepaliveIdleThreshold so the backend
does not delete them. A call that cannot get a session within AcquireTimeout
fails with ErrSessionPoolExhausted; calls after Close fail with
ErrSessionPoolClosed.

# Writing Data

Apply commits a list of mutations in a single-use read-write transaction:

	m := spanner.InsertMap("users", map[string]interface{}{"id": 1, "name": "Charlie"})
	ts, err := client.Apply(ctx, []*spanner.Mutation{m})

Commit collects several mutations and sends them in one commit, in the order
they were added:

	ts, err := client.Commit(ctx, func(b *spanner.Batch) error {
		b.Update("users", map[string]interface{}{"id": 1, "active": false})
		b.Insert("users", map[string]interface{}{"id": 2, "name": "Harvey"})
		b.Delete("users", spanner.KeyRange{Start: spanner.Key{10}, End: spanner.Key{20}, Kind: spanner.ClosedClosed})
		return nil
	})

A commit RPC that fails is reported as a *CommitError. The session is back in
the pool by the time any error is returned.

# Reading Data

Read returns the rows named by a KeySet:

	rows, err := client.Read(ctx, "users", spanner.Key{1}, []string{"id", "name"})
	for _, row := range rows {
		var name string
		if err := row.ColumnByName("name", &name); err != nil {
			// TODO: Handle error.
		}
	}
*/
package spanner // import "github.com/gcpkit/cloud-go/spanner"
