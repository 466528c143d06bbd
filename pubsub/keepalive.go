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

package pubsub

import (
	"context"
	"sort"
	"sync"
	"time"
)

// keepAlive keeps track of which Messages need to have their deadline
// extended, and periodically extends them. Messages are tracked by Ack ID.
type keepAlive struct {
	// Extend sends a deadline extension of Deadline for ackIDs.
	Extend func(ctx context.Context, ackIDs []string) error
	// Ctx is the context to use when extending deadlines.
	Ctx context.Context
	// ExtensionTick supplies the frequency with which to make extension
	// requests.
	ExtensionTick <-chan time.Time
	// MaxExtension is how long a message is kept alive after it was added.
	// Zero means no limit.
	MaxExtension time.Duration

	mu     sync.Mutex
	ackIDs map[string]time.Time // ack ID -> time it was added
	done   chan struct{}
	wg     sync.WaitGroup
}

// Start initiates the deadline extension loop. Stop must be called once
// keepAlive is no longer needed.
func (ka *keepAlive) Start() {
	ka.ackIDs = make(map[string]time.Time)
	ka.done = make(chan struct{})
	ka.wg.Add(1)
	go func() {
		defer ka.wg.Done()
		for {
			select {
			case <-ka.done:
				return
			case now := <-ka.ExtensionTick:
				ackIDs := ka.getAckIDs(now)
				if len(ackIDs) == 0 {
					continue
				}
				ka.wg.Add(1)
				go func() {
					defer ka.wg.Done()
					ka.extendDeadlines(ackIDs)
				}()
			}
		}
	}()
}

// Add starts keeping ackID alive.
func (ka *keepAlive) Add(ackID string) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ka.ackIDs[ackID] = time.Now()
}

// Remove stops keeping ackID alive.
func (ka *keepAlive) Remove(ackID string) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	delete(ka.ackIDs, ackID)
}

// Len returns the number of messages being kept alive.
func (ka *keepAlive) Len() int {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return len(ka.ackIDs)
}

// Stop ends the extension loop and waits for extension requests in flight.
// Messages still tracked are left to expire.
func (ka *keepAlive) Stop() {
	close(ka.done)
	ka.wg.Wait()
}

// getAckIDs returns the ack IDs to extend at now, in sorted order. Ack IDs
// that were added more than MaxExtension ago are dropped.
func (ka *keepAlive) getAckIDs(now time.Time) []string {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ids := []string{}
	for id, added := range ka.ackIDs {
		if ka.MaxExtension > 0 && now.Sub(added) > ka.MaxExtension {
			delete(ka.ackIDs, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// extendDeadlines sends the extension for ackIDs. A failed extension means
// the messages may be redelivered, which is acceptable.
func (ka *keepAlive) extendDeadlines(ackIDs []string) {
	_ = ka.Extend(ka.Ctx, ackIDs)
}
