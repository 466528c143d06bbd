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
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gcpkit/cloud-go/internal/testutil"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// slurpSubs returns the remaining subscriptions from this iterator.
func slurpSubs(it *SubscriptionIterator) ([]*Subscription, error) {
	var subs []*Subscription
	for {
		switch sub, err := it.Next(); err {
		case nil:
			subs = append(subs, sub)
		case iterator.Done:
			return subs, nil
		default:
			return nil, err
		}
	}
}

func getSubIDs(subs []*Subscription) []string {
	var names []string
	for _, sub := range subs {
		names = append(names, sub.ID())
	}
	return names
}

func mustCreateSubscription(t *testing.T, c *Client, id string, cfg SubscriptionConfig) *Subscription {
	t.Helper()
	sub, err := c.CreateSubscription(context.Background(), id, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return sub
}

// publishN publishes n messages with data "0", "1", ... and returns their IDs.
func publishN(t *testing.T, topic *Topic, n int) []string {
	t.Helper()
	var msgs []*Message
	for i := 0; i < n; i++ {
		msgs = append(msgs, &Message{Data: []byte(fmt.Sprint(i))})
	}
	ids, err := topic.Publish(context.Background(), msgs...)
	if err != nil {
		t.Fatal(err)
	}
	return ids
}

func TestSubscriptionID(t *testing.T) {
	const id = "id"
	c := &Client{projectID: "projid"}
	s := c.Subscription(id)
	if got, want := s.ID(), id; got != want {
		t.Errorf("Subscription.ID() = %q; want %q", got, want)
	}
	if got, want := s.String(), "projects/projid/subscriptions/id"; got != want {
		t.Errorf("Subscription.String() = %q; want %q", got, want)
	}
}

func TestListProjectSubscriptions(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	var want []string
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("s%d", i)
		want = append(want, id)
		mustCreateSubscription(t, c, id, SubscriptionConfig{Topic: topic})
	}
	subs, err := slurpSubs(c.Subscriptions(ctx))
	if err != nil {
		t.Fatal(err)
	}
	if got := getSubIDs(subs); !testutil.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestListTopicSubscriptions(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	t1 := mustCreateTopic(t, c, "t1")
	t2 := mustCreateTopic(t, c, "t2")
	mustCreateSubscription(t, c, "a", SubscriptionConfig{Topic: t1})
	mustCreateSubscription(t, c, "b", SubscriptionConfig{Topic: t1})
	mustCreateSubscription(t, c, "c", SubscriptionConfig{Topic: t2})

	for _, tc := range []struct {
		topic *Topic
		want  []string
	}{
		{t1, []string{"a", "b"}},
		{t2, []string{"c"}},
	} {
		subs, err := slurpSubs(tc.topic.Subscriptions(ctx))
		if err != nil {
			t.Fatal(err)
		}
		if got := getSubIDs(subs); !testutil.Equal(got, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.topic, got, tc.want)
		}
	}
	if _, err := slurpSubs(c.Topic("missing").Subscriptions(ctx)); status.Code(err) != codes.NotFound {
		t.Errorf("listing a missing topic: got %v, want NotFound", err)
	}
}

func TestSubscriptionConfig(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	sub := mustCreateSubscription(t, c, "s", SubscriptionConfig{Topic: topic})
	cfg, err := sub.Config(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cfg.Topic.String(), topic.String(); got != want {
		t.Errorf("Topic: got %q, want %q", got, want)
	}
	if got, want := cfg.AckDeadline, 10*time.Second; got != want {
		t.Errorf("AckDeadline: got %v, want %v", got, want)
	}
	if got, want := cfg.RetentionDuration, 168*time.Hour; got != want {
		t.Errorf("RetentionDuration: got %v, want %v", got, want)
	}

	labels := map[string]string{"env": "test"}
	sub2 := mustCreateSubscription(t, c, "s2", SubscriptionConfig{
		Topic:               topic,
		AckDeadline:         30 * time.Second,
		RetainAckedMessages: true,
		RetentionDuration:   2 * time.Hour,
		Labels:              labels,
		Filter:              `attributes.lang = "en"`,
	})
	cfg, err = sub2.Config(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AckDeadline != 30*time.Second || !cfg.RetainAckedMessages || cfg.RetentionDuration != 2*time.Hour {
		t.Errorf("got %+v", cfg)
	}
	if !testutil.Equal(cfg.Labels, labels) {
		t.Errorf("Labels: got %v, want %v", cfg.Labels, labels)
	}
	if got, want := cfg.Filter, `attributes.lang = "en"`; got != want {
		t.Errorf("Filter: got %q, want %q", got, want)
	}

	// Deleting the topic leaves the subscription detached.
	if err := topic.Delete(ctx); err != nil {
		t.Fatal(err)
	}
	cfg, err = sub.Config(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cfg.Topic.String(), "_deleted-topic_"; got != want {
		t.Errorf("Topic after delete: got %q, want %q", got, want)
	}
}

func TestCreateSubscriptionErrors(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	if _, err := c.CreateSubscription(ctx, "s", SubscriptionConfig{}); err == nil {
		t.Error("got nil, want error for a missing topic")
	}
	for _, d := range []time.Duration{time.Second, 11 * time.Minute} {
		if _, err := c.CreateSubscription(ctx, "s", SubscriptionConfig{Topic: topic, AckDeadline: d}); err == nil {
			t.Errorf("AckDeadline %v: got nil, want error", d)
		}
	}
	if _, err := c.CreateSubscription(ctx, "s", SubscriptionConfig{Topic: c.Topic("missing")}); status.Code(err) != codes.NotFound {
		t.Errorf("missing topic: got %v, want NotFound", err)
	}
	if _, err := c.CreateSubscription(ctx, "s", SubscriptionConfig{Topic: topic, Filter: "attributes.x ="}); status.Code(err) != codes.InvalidArgument {
		t.Errorf("bad filter: got %v, want InvalidArgument", err)
	}
	mustCreateSubscription(t, c, "s", SubscriptionConfig{Topic: topic})
	if _, err := c.CreateSubscription(ctx, "s", SubscriptionConfig{Topic: topic}); status.Code(err) != codes.AlreadyExists {
		t.Errorf("duplicate: got %v, want AlreadyExists", err)
	}
}

func TestSubscriptionExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	sub := mustCreateSubscription(t, c, "s", SubscriptionConfig{Topic: topic})
	ok, err := sub.Exists(ctx)
	if err != nil || !ok {
		t.Fatalf("Exists: got %t, %v; want true, nil", ok, err)
	}
	if err := sub.Delete(ctx); err != nil {
		t.Fatal(err)
	}
	ok, err = sub.Exists(ctx)
	if err != nil || ok {
		t.Fatalf("Exists after Delete: got %t, %v; want false, nil", ok, err)
	}
	if err := sub.Delete(ctx); status.Code(err) != codes.NotFound {
		t.Errorf("second Delete: got %v, want NotFound", err)
	}
}

func TestPullAckNack(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	sub := mustCreateSubscription(t, c, "s", SubscriptionConfig{Topic: topic})
	ids := publishN(t, topic, 2)

	if _, err := sub.Pull(ctx, 0); err == nil {
		t.Error("Pull(0): got nil, want error")
	}
	msgs, err := sub.Pull(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.AckID() == "" {
			t.Errorf("message %s has no ack ID", m.ID)
		}
		if m.ID == ids[0] {
			m.Ack()
			// Only the first call has an effect.
			m.Nack()
		} else {
			m.Nack()
		}
	}
	if got := srv.Message(ids[0]).Acks; got != 1 {
		t.Errorf("acked message: got %d acks, want 1", got)
	}

	// The nacked message is delivered again.
	msgs, err = sub.Pull(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != ids[1] {
		t.Fatalf("got %v, want only message %s", msgs, ids[1])
	}
	if got := srv.Message(ids[1]).Deliveries; got != 2 {
		t.Errorf("nacked message: got %d deliveries, want 2", got)
	}
	if err := sub.Acknowledge(ctx, msgs[0].AckID()); err != nil {
		t.Fatal(err)
	}
	msgs, err = sub.Pull(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages after acking everything, want 0", len(msgs))
	}
}

func TestModifyAckDeadline(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	sub := mustCreateSubscription(t, c, "s", SubscriptionConfig{Topic: topic})
	ids := publishN(t, topic, 1)
	msgs, err := sub.Pull(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if err := sub.ModifyAckDeadline(ctx, -time.Second, msgs[0].AckID()); err == nil {
		t.Error("negative deadline: got nil, want error")
	}
	if err := sub.ModifyAckDeadline(ctx, 11*time.Minute, msgs[0].AckID()); err == nil {
		t.Error("deadline above 10m: got nil, want error")
	}
	if err := sub.ModifyAckDeadline(ctx, time.Minute, msgs[0].AckID()); err != nil {
		t.Fatal(err)
	}
	modacks := srv.Message(ids[0]).Modacks
	if len(modacks) != 1 || modacks[0].AckDeadline != 60 {
		t.Errorf("got modacks %+v, want one with a 60s deadline", modacks)
	}
}

func TestReceive(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	sub := mustCreateSubscription(t, c, "s", SubscriptionConfig{Topic: topic})
	const n = 256
	ids := publishN(t, topic, n)

	cctx, cancel := context.WithCancel(ctx)
	var mu sync.Mutex
	seen := map[string]bool{}
	err := sub.Receive(cctx, ReceiveSettings{}, func(_ context.Context, m *Message) {
		m.Ack()
		mu.Lock()
		defer mu.Unlock()
		seen[m.ID] = true
		if len(seen) == n {
			cancel()
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("message %s not received", id)
		}
		if got := srv.Message(id).Acks; got < 1 {
			t.Errorf("message %s: got %d acks, want at least 1", id, got)
		}
	}
}

func TestReceiveNackRedelivers(t *testing.T) {
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	sub := mustCreateSubscription(t, c, "s", SubscriptionConfig{Topic: topic})
	ids := publishN(t, topic, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var calls int32
	err := sub.Receive(ctx, ReceiveSettings{}, func(_ context.Context, m *Message) {
		if atomic.AddInt32(&calls, 1) == 1 {
			m.Nack()
			return
		}
		m.Ack()
		cancel()
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("got %d calls, want 2", got)
	}
	if got := srv.Message(ids[0]).Deliveries; got != 2 {
		t.Errorf("got %d deliveries, want 2", got)
	}
}

func TestReceiveFlowControl(t *testing.T) {
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	sub := mustCreateSubscription(t, c, "s", SubscriptionConfig{Topic: topic})
	const n = 10
	publishN(t, topic, n)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var active, maxActive, done int32
	err := sub.Receive(ctx, ReceiveSettings{MaxOutstandingMessages: 2}, func(_ context.Context, m *Message) {
		a := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&maxActive)
			if a <= old || atomic.CompareAndSwapInt32(&maxActive, old, a) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		m.Ack()
		if atomic.AddInt32(&done, 1) == n {
			cancel()
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&maxActive); got > 2 {
		t.Errorf("got %d concurrent callbacks, want at most 2", got)
	}
	if got := atomic.LoadInt32(&done); got != n {
		t.Errorf("handled %d messages, want %d", got, n)
	}
}

func TestReceiveExtendsDeadlines(t *testing.T) {
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	sub := mustCreateSubscription(t, c, "s", SubscriptionConfig{Topic: topic})
	ids := publishN(t, topic, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	settings := ReceiveSettings{MaxExtensionPeriod: time.Second}
	err := sub.Receive(ctx, settings, func(_ context.Context, m *Message) {
		// Hold the message across several extension ticks.
		time.Sleep(1500 * time.Millisecond)
		m.Ack()
		cancel()
	})
	if err != nil {
		t.Fatal(err)
	}
	modacks := srv.Message(ids[0]).Modacks
	if len(modacks) == 0 {
		t.Fatal("got no deadline extensions")
	}
	for _, ma := range modacks {
		if ma.AckDeadline != 1 {
			t.Errorf("got extension of %ds, want 1s", ma.AckDeadline)
		}
	}
}

func TestReceiveConcurrentCalls(t *testing.T) {
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	sub := mustCreateSubscription(t, c, "s", SubscriptionConfig{Topic: topic})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- sub.Receive(ctx, ReceiveSettings{}, func(context.Context, *Message) {})
	}()
	waitFor(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return sub.receiveActive
	})
	if err := sub.Receive(ctx, ReceiveSettings{}, func(context.Context, *Message) {}); err == nil {
		t.Error("second Receive: got nil, want error")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Errorf("first Receive: %v", err)
	}
}

func TestReceiveMissingSubscription(t *testing.T) {
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	err := c.Subscription("missing").Receive(context.Background(), ReceiveSettings{}, func(context.Context, *Message) {})
	if status.Code(err) != codes.NotFound {
		t.Errorf("got %v, want NotFound", err)
	}
}
