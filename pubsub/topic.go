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
	"errors"
	"sync"
	"time"

	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/gcpkit/cloud-go/internal/trace"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// MaxPublishRequestCount is the maximum number of messages sent in one
	// publish request.
	MaxPublishRequestCount = 1000

	// MaxPublishRequestBytes is the maximum size of the messages sent in one
	// publish request.
	MaxPublishRequestBytes = 1e7
)

// ErrTopicStopped is returned by Publish after Stop was called on the topic.
var ErrTopicStopped = errors.New("pubsub: Stop has been called for this topic")

// Topic is a reference to a Pub/Sub topic.
//
// A Topic built with Client.Topic is lazy: nothing is known about it until
// it is loaded from the service. Topics returned by CreateTopic, the
// Topics iterator or a call to Config are loaded.
type Topic struct {
	c *Client
	// The fully qualified identifier for the topic, in the format
	// "projects/<projid>/topics/<name>".
	name string

	// PublishSettings controls the flow control of Publish. Change it
	// before the first call to Publish.
	PublishSettings PublishSettings

	mu      sync.RWMutex
	config  *TopicConfig
	fc      *flowController
	stopped bool
}

// TopicConfig describes the properties of a topic.
type TopicConfig struct {
	// Labels are the labels of the topic.
	Labels map[string]string

	// KMSKeyName is the name of the Cloud KMS key protecting the messages
	// of the topic.
	KMSKeyName string

	// RetentionDuration is how long the topic keeps published messages.
	// Zero means the service default.
	RetentionDuration time.Duration
}

func topicConfigFromProto(pt *pb.Topic) *TopicConfig {
	cfg := &TopicConfig{
		Labels:     pt.Labels,
		KMSKeyName: pt.KmsKeyName,
	}
	if d := pt.GetMessageRetentionDuration(); d != nil {
		cfg.RetentionDuration = d.AsDuration()
	}
	return cfg
}

// PublishSettings control the flow control of Publish.
type PublishSettings struct {
	// MaxOutstandingMessages is the number of messages that may be waiting
	// to be published at once. Values below 1 mean no limit.
	MaxOutstandingMessages int

	// MaxOutstandingBytes is the total size of the messages that may be
	// waiting to be published at once. Values below 1 mean no limit.
	MaxOutstandingBytes int

	// LimitExceededBehavior tells Publish what to do when a limit is hit.
	LimitExceededBehavior LimitExceededBehavior
}

// DefaultPublishSettings holds the default values for a topic's
// PublishSettings.
var DefaultPublishSettings = PublishSettings{
	MaxOutstandingMessages: 1000,
	MaxOutstandingBytes:    -1,
	LimitExceededBehavior:  FlowControlIgnore,
}

func newTopic(c *Client, name string, cfg *TopicConfig) *Topic {
	return &Topic{
		c:               c,
		name:            name,
		config:          cfg,
		PublishSettings: DefaultPublishSettings,
	}
}

// Topic creates a reference to a topic in the client's project. No RPC is
// made; the returned Topic is lazy. An id of the form
// "projects/P/topics/T" names a topic in another project.
func (c *Client) Topic(id string) *Topic {
	return newTopic(c, c.resourceName("topics", id), nil)
}

// CreateTopic creates a new topic.
//
// The specified topic ID must start with a letter, and contain only letters
// ([A-Za-z]), numbers ([0-9]), dashes (-), underscores (_), periods (.),
// tildes (~), plus (+) or percent signs (%). It must be between 3 and 255
// characters in length, and must not start with "goog". For more information,
// see: https://cloud.google.com/pubsub/docs/admin#resource_names
//
// If the topic already exists an error will be returned.
func (c *Client) CreateTopic(ctx context.Context, topicID string) (*Topic, error) {
	return c.CreateTopicWithConfig(ctx, topicID, nil)
}

// CreateTopicWithConfig creates a topic from TopicConfig.
func (c *Client) CreateTopicWithConfig(ctx context.Context, topicID string, tc *TopicConfig) (*Topic, error) {
	pt, err := c.s.createTopic(ctx, c.resourceName("topics", topicID), tc)
	if err != nil {
		return nil, err
	}
	return newTopic(c, pt.Name, topicConfigFromProto(pt)), nil
}

// Topics returns an iterator which returns all of the topics for the
// client's project.
func (c *Client) Topics(ctx context.Context) *TopicIterator {
	it := c.s.listProjectTopics(ctx, c.fullyQualifiedProjectName())
	return &TopicIterator{c: c, next: it.Next}
}

// ID returns the unique identifier of the topic within its project.
func (t *Topic) ID() string {
	return lastSegment(t.name)
}

// String returns the printable globally unique name for the topic.
func (t *Topic) String() string {
	return t.name
}

// Lazy reports whether the topic has not been loaded from the service.
func (t *Topic) Lazy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config == nil
}

// Config returns the TopicConfig for the topic, loading it from the service
// if the topic is lazy. A loaded topic is no longer lazy.
func (t *Topic) Config(ctx context.Context) (TopicConfig, error) {
	t.mu.RLock()
	cfg := t.config
	t.mu.RUnlock()
	if cfg != nil {
		return *cfg, nil
	}
	pt, err := t.c.s.getTopic(ctx, t.name)
	if err != nil {
		return TopicConfig{}, err
	}
	cfg = topicConfigFromProto(pt)
	t.mu.Lock()
	t.config = cfg
	t.mu.Unlock()
	return *cfg, nil
}

// Delete deletes the topic.
func (t *Topic) Delete(ctx context.Context) error {
	return t.c.s.deleteTopic(ctx, t.name)
}

// Exists reports whether the topic exists on the server.
func (t *Topic) Exists(ctx context.Context) (bool, error) {
	if t.name == "_deleted-topic_" {
		return false, nil
	}
	_, err := t.c.s.getTopic(ctx, t.name)
	if err == nil {
		return true, nil
	}
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	return false, err
}

// Subscriptions returns an iterator which returns the subscriptions for this
// topic.
func (t *Topic) Subscriptions(ctx context.Context) *SubscriptionIterator {
	it := t.c.s.listTopicSubscriptions(ctx, t.name)
	return &SubscriptionIterator{
		c: t.c,
		next: func() (*Subscription, error) {
			name, err := it.Next()
			if err != nil {
				return nil, err
			}
			return newSubscription(t.c, name), nil
		},
	}
}

// Stop makes later calls to Publish fail. Calls already in progress are not
// affected.
func (t *Topic) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *Topic) flowController() (*flowController, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil, ErrTopicStopped
	}
	if t.fc == nil {
		ps := t.PublishSettings
		t.fc = newFlowController(ps.MaxOutstandingMessages, ps.MaxOutstandingBytes, ps.LimitExceededBehavior)
	}
	return t.fc, nil
}

// Publish publishes msgs to the topic and returns the server-assigned
// message IDs in the order of msgs.
//
// The messages are sent in as few requests as MaxPublishRequestCount and
// MaxPublishRequestBytes allow. If a request fails, the IDs of the messages
// published by earlier requests are returned with the error.
func (t *Topic) Publish(ctx context.Context, msgs ...*Message) (ids []string, err error) {
	ctx = trace.StartSpan(ctx, "pubsub.Topic.Publish",
		attribute.String("messaging.destination.name", t.ID()),
		attribute.Int("messaging.batch.message_count", len(msgs)))
	defer func() { trace.EndSpan(ctx, err) }()

	if len(msgs) == 0 {
		return nil, nil
	}
	fc, err := t.flowController()
	if err != nil {
		return nil, err
	}
	for len(msgs) > 0 {
		var batch []*Message
		batch, msgs = splitMessages(msgs, MaxPublishRequestCount, MaxPublishRequestBytes)
		size := messagesSize(batch)
		if err := fc.newAcquireN(ctx, len(batch), size); err != nil {
			return ids, err
		}
		trace.TracePrintf(ctx, nil, "Publishing %d messages", len(batch))
		got, err := t.c.s.publishMessages(ctx, t.name, batch)
		fc.releaseN(len(batch), size)
		if err != nil {
			return ids, err
		}
		ids = append(ids, got...)
	}
	return ids, nil
}

// splitMessages returns a prefix of msgs holding at most maxCount messages
// of at most maxBytes bytes in total, and the rest. The prefix holds at
// least one message.
func splitMessages(msgs []*Message, maxCount, maxBytes int) (prefix, remainder []*Message) {
	size := 0
	i := 0
	for ; i < len(msgs) && i < maxCount; i++ {
		size += msgs[i].size()
		if size > maxBytes && i > 0 {
			break
		}
	}
	return msgs[:i], msgs[i:]
}

func messagesSize(msgs []*Message) int {
	n := 0
	for _, m := range msgs {
		n += m.size()
	}
	return n
}
