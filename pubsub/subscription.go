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
	"fmt"
	"sync"
	"time"

	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

const (
	minAckDeadline = 10 * time.Second
	maxAckDeadline = 600 * time.Second

	// ackTimeout bounds the acknowledgement RPCs sent when a message is
	// acked or nacked.
	ackTimeout = 30 * time.Second
)

// Subscription is a reference to a Pub/Sub subscription.
type Subscription struct {
	c *Client

	// The fully qualified identifier for the subscription, in the format
	// "projects/<projid>/subscriptions/<name>".
	name string

	mu            sync.Mutex
	receiveActive bool
}

func newSubscription(c *Client, name string) *Subscription {
	return &Subscription{c: c, name: name}
}

// Subscription creates a reference to a subscription in the client's
// project. No RPC is made.
func (c *Client) Subscription(id string) *Subscription {
	return newSubscription(c, c.resourceName("subscriptions", id))
}

// Subscriptions returns an iterator which returns all of the subscriptions
// for the client's project.
func (c *Client) Subscriptions(ctx context.Context) *SubscriptionIterator {
	it := c.s.listProjectSubscriptions(ctx, c.fullyQualifiedProjectName())
	return &SubscriptionIterator{
		c: c,
		next: func() (*Subscription, error) {
			sub, err := it.Next()
			if err != nil {
				return nil, err
			}
			return newSubscription(c, sub.Name), nil
		},
	}
}

// SubscriptionConfig describes the configuration of a subscription.
type SubscriptionConfig struct {
	// Topic is the topic the subscription receives messages from. It is
	// required when creating a subscription.
	Topic *Topic

	// AckDeadline is the time a subscriber has to acknowledge a message
	// before it is redelivered. It must be between 10 seconds and 10
	// minutes; zero means the service default of 10 seconds.
	AckDeadline time.Duration

	// RetainAckedMessages keeps acknowledged messages in the backlog.
	RetainAckedMessages bool

	// RetentionDuration is how long unacknowledged messages are kept.
	// Zero means the service default.
	RetentionDuration time.Duration

	// Labels are the labels of the subscription.
	Labels map[string]string

	// Filter selects the messages delivered to the subscription by their
	// attributes, for example `attributes.lang = "en"`. Empty delivers
	// every message.
	Filter string
}

func (cfg *SubscriptionConfig) toProto(name string) *pb.Subscription {
	ps := &pb.Subscription{
		Name:                name,
		Topic:               cfg.Topic.name,
		AckDeadlineSeconds:  trunc32(int64(cfg.AckDeadline.Seconds())),
		RetainAckedMessages: cfg.RetainAckedMessages,
		Labels:              cfg.Labels,
		Filter:              cfg.Filter,
	}
	if cfg.RetentionDuration > 0 {
		ps.MessageRetentionDuration = durationpb.New(cfg.RetentionDuration)
	}
	return ps
}

func (c *Client) subscriptionConfigFromProto(ps *pb.Subscription) SubscriptionConfig {
	cfg := SubscriptionConfig{
		Topic:               newTopic(c, ps.Topic, nil),
		AckDeadline:         time.Second * time.Duration(ps.AckDeadlineSeconds),
		RetainAckedMessages: ps.RetainAckedMessages,
		Labels:              ps.Labels,
		Filter:              ps.Filter,
	}
	if d := ps.GetMessageRetentionDuration(); d != nil {
		cfg.RetentionDuration = d.AsDuration()
	}
	return cfg
}

// CreateSubscription creates a new subscription on a topic.
//
// id is the name of the subscription to create. It must start with a letter,
// and contain only letters ([A-Za-z]), numbers ([0-9]), dashes (-),
// underscores (_), periods (.), tildes (~), plus (+) or percent signs (%). It
// must be between 3 and 255 characters in length, and must not start with
// "goog".
//
// If the subscription already exists an error will be returned.
func (c *Client) CreateSubscription(ctx context.Context, id string, cfg SubscriptionConfig) (*Subscription, error) {
	if cfg.Topic == nil {
		return nil, errors.New("pubsub: require non-nil Topic")
	}
	if cfg.AckDeadline != 0 && (cfg.AckDeadline < minAckDeadline || cfg.AckDeadline > maxAckDeadline) {
		return nil, fmt.Errorf("pubsub: invalid ack deadline %v; must be between %v and %v", cfg.AckDeadline, minAckDeadline, maxAckDeadline)
	}
	ps, err := c.s.createSubscription(ctx, c.resourceName("subscriptions", id), cfg)
	if err != nil {
		return nil, err
	}
	return newSubscription(c, ps.Name), nil
}

// ID returns the unique identifier of the subscription within its project.
func (s *Subscription) ID() string {
	return lastSegment(s.name)
}

// String returns the globally unique printable name of the subscription.
func (s *Subscription) String() string {
	return s.name
}

// Delete deletes the subscription.
func (s *Subscription) Delete(ctx context.Context) error {
	return s.c.s.deleteSubscription(ctx, s.name)
}

// Exists reports whether the subscription exists on the server.
func (s *Subscription) Exists(ctx context.Context) (bool, error) {
	_, err := s.c.s.getSubscription(ctx, s.name)
	if err == nil {
		return true, nil
	}
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	return false, err
}

// Config fetches the current configuration for the subscription.
func (s *Subscription) Config(ctx context.Context) (SubscriptionConfig, error) {
	ps, err := s.c.s.getSubscription(ctx, s.name)
	if err != nil {
		return SubscriptionConfig{}, err
	}
	return s.c.subscriptionConfigFromProto(ps), nil
}

// Pull fetches at most max messages from the subscription in a single
// request. It may return fewer messages, or none, even when more are
// available. The caller must Ack or Nack each returned message; a message
// that is neither is redelivered once its ack deadline passes.
func (s *Subscription) Pull(ctx context.Context, max int) ([]*Message, error) {
	if max < 1 {
		return nil, fmt.Errorf("pubsub: Pull: max must be positive, got %d", max)
	}
	msgs, err := s.c.s.fetchMessages(ctx, s.name, trunc32(int64(max)))
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		m.doneFunc = s.sendDone
	}
	return msgs, nil
}

// sendDone acknowledges or nacks a single message outside of Receive.
// Failures are not reported: the message is redelivered.
func (s *Subscription) sendDone(ackID string, ack bool) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if ack {
		_ = s.Acknowledge(ctx, ackID)
	} else {
		_ = s.ModifyAckDeadline(ctx, 0, ackID)
	}
}

// Acknowledge acknowledges the messages with the given ack IDs. Large lists
// of ack IDs are sent in several requests.
func (s *Subscription) Acknowledge(ctx context.Context, ackIDs ...string) error {
	if len(ackIDs) == 0 {
		return nil
	}
	return s.c.s.acknowledge(ctx, s.name, ackIDs)
}

// ModifyAckDeadline sets the ack deadline of the messages with the given ack
// IDs to d from now. A zero d makes the messages available for redelivery
// immediately.
func (s *Subscription) ModifyAckDeadline(ctx context.Context, d time.Duration, ackIDs ...string) error {
	if d < 0 || d > maxAckDeadline {
		return fmt.Errorf("pubsub: invalid ack deadline %v; must be between 0 and %v", d, maxAckDeadline)
	}
	if len(ackIDs) == 0 {
		return nil
	}
	return s.c.s.modifyAckDeadline(ctx, s.name, d, ackIDs)
}

// ReceiveSettings configure the Receive method.
// A zero ReceiveSettings will result in values from DefaultReceiveSettings.
type ReceiveSettings struct {
	// MaxExtension is the maximum period for which the Subscription should
	// automatically extend the ack deadline for each message.
	//
	// The Subscription will automatically extend the ack deadline of all
	// fetched Messages up to the duration specified. Automatic deadline
	// extension beyond the initial receipt may be disabled by specifying a
	// duration less than 0.
	MaxExtension time.Duration

	// MaxExtensionPeriod is the deadline requested by each extension. Zero
	// means the ack deadline of the subscription.
	MaxExtensionPeriod time.Duration

	// MaxOutstandingMessages is the maximum number of unprocessed messages
	// (unacknowledged but not yet expired). If MaxOutstandingMessages is 0,
	// it will be treated as if it were DefaultReceiveSettings.MaxOutstandingMessages.
	// If the value is negative, then there will be no limit on the number of
	// unprocessed messages.
	MaxOutstandingMessages int

	// MaxOutstandingBytes is the maximum size of unprocessed messages
	// (unacknowledged but not yet expired). If MaxOutstandingBytes is 0, it will
	// be treated as if it were DefaultReceiveSettings.MaxOutstandingBytes. If
	// the value is negative, then there will be no limit on the number of bytes
	// for unprocessed messages.
	MaxOutstandingBytes int
}

// DefaultReceiveSettings holds the default values for ReceiveSettings.
var DefaultReceiveSettings = ReceiveSettings{
	MaxExtension:           60 * time.Minute,
	MaxOutstandingMessages: 1000,
	MaxOutstandingBytes:    1e9, // 1G
}

func (rs ReceiveSettings) withDefaults() ReceiveSettings {
	if rs.MaxExtension == 0 {
		rs.MaxExtension = DefaultReceiveSettings.MaxExtension
	}
	if rs.MaxOutstandingMessages == 0 {
		rs.MaxOutstandingMessages = DefaultReceiveSettings.MaxOutstandingMessages
	}
	if rs.MaxOutstandingBytes == 0 {
		rs.MaxOutstandingBytes = DefaultReceiveSettings.MaxOutstandingBytes
	}
	return rs
}

// pullBackoff paces Pull requests that returned no messages or a retryable
// error.
var pullBackoff = gax.Backoff{
	Initial:    10 * time.Millisecond,
	Max:        time.Second,
	Multiplier: 1.3,
}

// maxPullMessages caps the number of messages requested by one Pull.
const maxPullMessages = 1000

// Receive calls f with the outstanding messages from the subscription.
// It blocks until ctx is done, or the service returns a non-retryable error.
//
// The standard way to terminate a Receive is to cancel its context:
//
//	cctx, cancel := context.WithCancel(ctx)
//	err := sub.Receive(cctx, pubsub.ReceiveSettings{}, callback)
//	// Call cancel from callback, or another goroutine.
//
// If the service returns a non-retryable error, Receive returns that error
// after all of the outstanding calls to f have returned. If ctx is done,
// Receive returns nil after all of the outstanding calls to f have returned.
// Messages that were not acked or nacked by then are redelivered once their
// ack deadline passes.
//
// Receive calls f concurrently from multiple goroutines. The number of
// messages handed to f and not yet acked or nacked is bounded by
// MaxOutstandingMessages and MaxOutstandingBytes. While a message is
// outstanding its ack deadline is extended, for at most MaxExtension.
//
// Only one call to Receive per Subscription may be active at a time.
func (s *Subscription) Receive(ctx context.Context, settings ReceiveSettings, f func(context.Context, *Message)) error {
	s.mu.Lock()
	if s.receiveActive {
		s.mu.Unlock()
		return errors.New("pubsub: Receive already in progress for this subscription")
	}
	s.receiveActive = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.receiveActive = false
		s.mu.Unlock()
	}()

	settings = settings.withDefaults()
	ps, err := s.c.s.getSubscription(ctx, s.name)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	ackDeadline := time.Duration(ps.AckDeadlineSeconds) * time.Second
	if ackDeadline <= 0 {
		ackDeadline = minAckDeadline
	}
	period := settings.MaxExtensionPeriod
	if period <= 0 || period > maxAckDeadline {
		period = ackDeadline
	}

	// RPCs for acks, nacks and extensions outlive ctx so that messages
	// handled during shutdown are still acknowledged.
	rpcCtx := context.WithoutCancel(ctx)

	fc := newFlowController(settings.MaxOutstandingMessages, settings.MaxOutstandingBytes, FlowControlBlock)
	// Extend a little before the deadline expires.
	tick := period - 5*time.Second
	if tick < time.Second {
		tick = period / 2
	}
	kaTicker := time.NewTicker(tick)
	defer kaTicker.Stop()
	ka := &keepAlive{
		Extend: func(ctx context.Context, ackIDs []string) error {
			return s.c.s.modifyAckDeadline(ctx, s.name, period, ackIDs)
		},
		Ctx:           rpcCtx,
		ExtensionTick: kaTicker.C,
		MaxExtension:  settings.MaxExtension,
	}
	if settings.MaxExtension < 0 {
		// Deadline extension is disabled; the keepAlive only tracks.
		ka.ExtensionTick = nil
	}
	ka.Start()
	defer ka.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	bo := pullBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		n := maxPullMessages
		if settings.MaxOutstandingMessages > 0 {
			if avail := settings.MaxOutstandingMessages - fc.count(); avail < n {
				n = avail
			}
		}
		if n < 1 {
			n = 1
		}
		msgs, err := s.c.s.fetchMessages(ctx, s.name, int32(n))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !isRetryable(err) {
				return err
			}
			if gax.Sleep(ctx, bo.Pause()) != nil {
				return nil
			}
			continue
		}
		if len(msgs) == 0 {
			if gax.Sleep(ctx, bo.Pause()) != nil {
				return nil
			}
			continue
		}
		bo = pullBackoff
		for i, m := range msgs {
			ka.Add(m.ackID)
			size := m.size()
			if err := fc.newAcquire(ctx, size); err != nil {
				// ctx is done: hand the rest of the messages back.
				var ackIDs []string
				for _, rest := range msgs[i:] {
					ka.Remove(rest.ackID)
					ackIDs = append(ackIDs, rest.ackID)
				}
				_ = s.c.s.modifyAckDeadline(rpcCtx, s.name, 0, ackIDs)
				return nil
			}
			m.doneFunc = func(ackID string, ack bool) {
				defer fc.release(size)
				defer ka.Remove(ackID)
				actx, cancel := context.WithTimeout(rpcCtx, ackTimeout)
				defer cancel()
				if ack {
					_ = s.c.s.acknowledge(actx, s.name, []string{ackID})
				} else {
					_ = s.c.s.modifyAckDeadline(actx, s.name, 0, []string{ackID})
				}
			}
			wg.Add(1)
			go func(m *Message) {
				defer wg.Done()
				f(ctx, m)
			}(m)
		}
	}
}
