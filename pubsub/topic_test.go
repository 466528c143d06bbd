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
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/gcpkit/cloud-go/internal/testutil"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func checkTopicListing(t *testing.T, c *Client, want []string) {
	topics, err := slurpTopics(c.Topics(context.Background()))
	if err != nil {
		t.Fatalf("error listing topics: %v", err)
	}
	var got []string
	for _, topic := range topics {
		got = append(got, topic.ID())
	}
	if !testutil.Equal(got, want) {
		t.Errorf("topic list: got: %v, want: %v", got, want)
	}
}

// slurpTopics returns the remaining topics from this iterator.
func slurpTopics(it *TopicIterator) ([]*Topic, error) {
	var topics []*Topic
	for {
		switch topic, err := it.Next(); err {
		case nil:
			topics = append(topics, topic)
		case iterator.Done:
			return topics, nil
		default:
			return nil, err
		}
	}
}

func mustCreateTopic(t *testing.T, c *Client, id string) *Topic {
	t.Helper()
	topic, err := c.CreateTopic(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return topic
}

func TestTopicID(t *testing.T) {
	const id = "id"
	c := &Client{projectID: "projid"}
	s := c.Topic(id)
	if got, want := s.ID(), id; got != want {
		t.Errorf("Topic.ID() = %q; want %q", got, want)
	}
	if got, want := s.String(), "projects/projid/topics/id"; got != want {
		t.Errorf("Topic.String() = %q; want %q", got, want)
	}
}

func TestTopicLaziness(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	created := mustCreateTopic(t, c, "t")
	if created.Lazy() {
		t.Error("topic returned by CreateTopic is lazy")
	}
	local := c.Topic("t")
	if !local.Lazy() {
		t.Error("topic built by Client.Topic is not lazy")
	}
	if _, err := local.Config(ctx); err != nil {
		t.Fatal(err)
	}
	if local.Lazy() {
		t.Error("topic is still lazy after Config")
	}
	topics, err := slurpTopics(c.Topics(ctx))
	if err != nil {
		t.Fatal(err)
	}
	for _, topic := range topics {
		if topic.Lazy() {
			t.Errorf("listed topic %s is lazy", topic)
		}
	}

	// A lazy handle for a topic that does not exist fails on load.
	missing := c.Topic("missing")
	if _, err := missing.Config(ctx); status.Code(err) != codes.NotFound {
		t.Errorf("Config of missing topic: got %v, want NotFound", err)
	}
	if !missing.Lazy() {
		t.Error("failed load made the topic non-lazy")
	}
}

func TestCreateTopicWithConfig(t *testing.T) {
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	want := TopicConfig{
		Labels:            map[string]string{"label": "value"},
		KMSKeyName:        "projects/P/locations/L/keyRings/R/cryptoKeys/K",
		RetentionDuration: 5 * time.Hour,
	}
	topic, err := c.CreateTopicWithConfig(context.Background(), "test-topic", &want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Topic(topic.ID()).Config(context.Background())
	if err != nil {
		t.Fatalf("error getting topic config: %v", err)
	}
	if !testutil.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTopicExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	if _, err := c.CreateTopic(ctx, "t"); status.Code(err) != codes.AlreadyExists {
		t.Errorf("second CreateTopic: got %v, want AlreadyExists", err)
	}
	ok, err := topic.Exists(ctx)
	if err != nil || !ok {
		t.Fatalf("Exists: got %t, %v; want true, nil", ok, err)
	}
	if err := topic.Delete(ctx); err != nil {
		t.Fatal(err)
	}
	ok, err = topic.Exists(ctx)
	if err != nil || ok {
		t.Fatalf("Exists after Delete: got %t, %v; want false, nil", ok, err)
	}
	if err := topic.Delete(ctx); status.Code(err) != codes.NotFound {
		t.Errorf("second Delete: got %v, want NotFound", err)
	}
}

func TestListTopics(t *testing.T) {
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	var ids []string
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("t%d", i)
		ids = append(ids, id)
		mustCreateTopic(t, c, id)
	}
	// A topic of another project is not listed.
	srv.Publish("projects/other/topics/x", []byte("x"), nil)
	checkTopicListing(t, c, ids)
}

func TestListCompletelyEmptyTopics(t *testing.T) {
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	checkTopicListing(t, c, nil)
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	msgs := []*Message{
		{Data: []byte("a"), Attributes: map[string]string{"k": "v"}},
		{Data: []byte("b")},
		{Attributes: map[string]string{"only": "attrs"}},
	}
	ids, err := topic.Publish(ctx, msgs...)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(ids), len(msgs); got != want {
		t.Fatalf("got %d IDs, want %d", got, want)
	}
	for i, id := range ids {
		m := srv.Message(id)
		if m == nil {
			t.Fatalf("message %s not found on the server", id)
		}
		if !bytes.Equal(m.Data, msgs[i].Data) {
			t.Errorf("message %d: got data %q, want %q", i, m.Data, msgs[i].Data)
		}
	}
	if ids, err := topic.Publish(ctx); err != nil || ids != nil {
		t.Errorf("empty Publish: got %v, %v; want nil, nil", ids, err)
	}
	if _, err := c.Topic("missing").Publish(ctx, &Message{Data: []byte("x")}); status.Code(err) != codes.NotFound {
		t.Errorf("Publish to missing topic: got %v, want NotFound", err)
	}
}

func TestPublishSplitsLargeBatches(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	n := MaxPublishRequestCount + 10
	var msgs []*Message
	for i := 0; i < n; i++ {
		msgs = append(msgs, &Message{Data: []byte(fmt.Sprint(i))})
	}
	ids, err := topic.Publish(ctx, msgs...)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != n {
		t.Fatalf("got %d IDs, want %d", len(ids), n)
	}
	if got := len(srv.Messages()); got != n {
		t.Errorf("server has %d messages, want %d", got, n)
	}
}

func TestSplitMessages(t *testing.T) {
	msg := func(n int) *Message { return &Message{Data: bytes.Repeat([]byte{'x'}, n)} }
	for _, tc := range []struct {
		desc               string
		sizes              []int
		maxCount, maxBytes int
		want               int
	}{
		{"all fit", []int{1, 2, 3}, 10, 100, 3},
		{"count bound", []int{1, 2, 3}, 2, 100, 2},
		{"byte bound", []int{4, 4, 4}, 10, 9, 2},
		{"oversized first message", []int{50, 1}, 10, 10, 1},
	} {
		var msgs []*Message
		for _, s := range tc.sizes {
			msgs = append(msgs, msg(s))
		}
		prefix, rest := splitMessages(msgs, tc.maxCount, tc.maxBytes)
		if len(prefix) != tc.want || len(prefix)+len(rest) != len(msgs) {
			t.Errorf("%s: got %d+%d, want %d in the first batch", tc.desc, len(prefix), len(rest), tc.want)
		}
	}
}

func TestStopPublish(t *testing.T) {
	// Publish after Stop fails without an RPC.
	ctx := context.Background()
	c := &Client{projectID: "projid"}
	topic := c.Topic("t")
	topic.Stop()
	_, err := topic.Publish(ctx, &Message{Data: []byte("x")})
	if !errors.Is(err, ErrTopicStopped) {
		t.Errorf("got %v, want ErrTopicStopped", err)
	}
}

func TestPublishFlowControl_SignalError(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "some-topic")
	topic.PublishSettings = PublishSettings{
		MaxOutstandingMessages: 1,
		MaxOutstandingBytes:    10,
		LimitExceededBehavior:  FlowControlSignalError,
	}
	srv.SetAutoPublishResponse(false)

	// Sending a message that is too large results in an error in SignalError mode.
	if _, err := topic.Publish(ctx, &Message{Data: []byte("AAAAAAAAAAA")}); err != ErrFlowControllerMaxOutstandingBytes {
		t.Fatalf("Publish: got %v, want %v", err, ErrFlowControllerMaxOutstandingBytes)
	}

	// A second message waits for its response while holding the limit.
	done := make(chan error, 1)
	go func() {
		_, err := topic.Publish(ctx, &Message{Data: []byte("AAAA")})
		done <- err
	}()
	waitFor(t, func() bool { return outstandingPublishes(topic) == 1 })

	// A third message fails because of the outstanding message.
	if _, err := topic.Publish(ctx, &Message{Data: []byte("AA")}); err != ErrFlowControllerMaxOutstandingMessages {
		t.Fatalf("Publish: got %v, want %v", err, ErrFlowControllerMaxOutstandingMessages)
	}

	srv.AddPublishResponse(&pb.PublishResponse{MessageIds: []string{"1"}}, nil)
	if err := <-done; err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Sending another message succeeds.
	srv.AddPublishResponse(&pb.PublishResponse{MessageIds: []string{"2"}}, nil)
	ids, err := topic.Publish(ctx, &Message{Data: []byte("AAAA")})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ids, []string{"2"}; !testutil.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPublishFlowControl_Block(t *testing.T) {
	ctx := context.Background()
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "some-topic")
	topic.PublishSettings = PublishSettings{
		MaxOutstandingMessages: 2,
		MaxOutstandingBytes:    10,
		LimitExceededBehavior:  FlowControlBlock,
	}
	srv.SetAutoPublishResponse(false)

	var wg sync.WaitGroup
	publish := func(data string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := topic.Publish(ctx, &Message{Data: []byte(data)}); err != nil {
				t.Errorf("Publish(%q): %v", data, err)
			}
		}()
	}
	// Two messages fill the message limit.
	publish("AA")
	publish("AA")
	waitFor(t, func() bool { return outstandingPublishes(topic) == 2 })

	// A third message blocks until one of them is published.
	publish("AAAAAA")
	time.Sleep(50 * time.Millisecond)
	if got := outstandingPublishes(topic); got != 2 {
		t.Fatalf("outstanding messages: got %d, want 2", got)
	}
	for i := 1; i <= 3; i++ {
		srv.AddPublishResponse(&pb.PublishResponse{MessageIds: []string{fmt.Sprint(i)}}, nil)
	}
	wg.Wait()
	if got := outstandingPublishes(topic); got != 0 {
		t.Errorf("outstanding messages after all publishes: got %d, want 0", got)
	}
}

func TestPublishTrace(t *testing.T) {
	te := testutil.NewOpenTelemetryTestExporter()
	defer te.Unregister(context.Background())
	c, srv := newFake(t)
	defer c.Close()
	defer srv.Close()

	topic := mustCreateTopic(t, c, "t")
	if _, err := topic.Publish(context.Background(), &Message{Data: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, s := range te.Spans() {
		if s.Name == "pubsub.Topic.Publish" {
			found = true
		}
	}
	if !found {
		t.Error("no pubsub.Topic.Publish span was recorded")
	}
}

// outstandingPublishes returns the number of messages topic is publishing.
func outstandingPublishes(t *Topic) int {
	t.mu.RLock()
	fc := t.fc
	t.mu.RUnlock()
	if fc == nil {
		return 0
	}
	return fc.count()
}

// waitFor polls cond until it holds, failing the test after a while.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
