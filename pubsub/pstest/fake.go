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

// Package pstest provides a fake Cloud PubSub service for testing. It
// implements a simplified form of the service, suitable for unit tests. It
// may behave differently from the actual service in ways in which the
// service's behavior is unspecified.
package pstest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/gcpkit/cloud-go/internal/testutil"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	defaultAckDeadlineSecs = 10
	minAckDeadlineSecs     = 10
	maxAckDeadlineSecs     = 600
	maxMessageBytes        = 10 << 20

	deletedTopicName = "_deleted-topic_"
)

var defaultMessageRetentionDuration = 168 * time.Hour

// Server is a fake Pub/Sub server.
type Server struct {
	Addr string // The address that the server is listening on.
	srv  *testutil.Server
	gServer
}

type gServer struct {
	pb.UnimplementedPublisherServer
	pb.UnimplementedSubscriberServer

	mu       sync.Mutex
	topics   map[string]*topic
	subs     map[string]*subscription
	msgs     []*Message // all messages ever published
	msgsByID map[string]*Message
	nextID   int
	nextAck  int
	timeNow  func() time.Time

	autoPublishResponse bool
	publishResponses    chan *publishResponse
}

type publishResponse struct {
	resp *pb.PublishResponse
	err  error
}

// NewServer creates a new fake server running in the current process. It
// panics if the server cannot listen.
func NewServer() *Server {
	srv, err := testutil.NewServer()
	if err != nil {
		panic(fmt.Sprintf("pstest.NewServer: %v", err))
	}
	s := &Server{
		Addr: srv.Addr,
		srv:  srv,
		gServer: gServer{
			topics:              map[string]*topic{},
			subs:                map[string]*subscription{},
			msgsByID:            map[string]*Message{},
			timeNow:             time.Now,
			autoPublishResponse: true,
			publishResponses:    make(chan *publishResponse, 100),
		},
	}
	pb.RegisterPublisherServer(srv.Gsrv, &s.gServer)
	pb.RegisterSubscriberServer(srv.Gsrv, &s.gServer)
	srv.Start()
	return s
}

// SetTimeNowFunc registers f as the source of the current time. It is used
// for publish times and ack deadlines.
func (s *Server) SetTimeNowFunc(f func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeNow = f
}

// Publish behaves as if the Publish RPC was called with a message with the
// given data and attrs. It returns the ID of the message. The topic will be
// created if it doesn't exist.
//
// Publish panics if there is an error, which is appropriate for testing.
func (s *Server) Publish(topic string, data []byte, attrs map[string]string) string {
	const topicPattern = "projects/*/topics/*"
	if !matchesPattern(topicPattern, topic) {
		panic(fmt.Sprintf("pstest.Publish: topic %q does not match %q", topic, topicPattern))
	}
	s.mu.Lock()
	if s.topics[topic] == nil {
		s.topics[topic] = newTopic(&pb.Topic{Name: topic})
	}
	s.mu.Unlock()
	res, err := s.publish(topic, []*pb.PubsubMessage{{Data: data, Attributes: attrs}}, nil)
	if err != nil {
		panic(fmt.Sprintf("pstest.Publish: %v", err))
	}
	return res.MessageIds[0]
}

// SetAutoPublishResponse controls whether the server answers Publish
// requests by itself. When it is false, each Publish request waits for a
// response added with AddPublishResponse.
func (s *Server) SetAutoPublishResponse(autoPublishResponse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoPublishResponse = autoPublishResponse
}

// AddPublishResponse adds a new publish response to the queue used when
// SetAutoPublishResponse(false) is in effect. A non-nil err fails the
// request instead.
func (s *Server) AddPublishResponse(pbr *pb.PublishResponse, err error) {
	s.publishResponses <- &publishResponse{resp: pbr, err: err}
}

// Messages returns information about all messages ever published.
func (s *Server) Messages() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []*Message
	for _, m := range s.msgs {
		msgs = append(msgs, m.copy())
	}
	return msgs
}

// Message returns the message with the given ID, or nil if no message with
// that ID was published.
func (s *Server) Message(id string) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m := s.msgsByID[id]; m != nil {
		return m.copy()
	}
	return nil
}

// ClearMessages removes all published messages from internal containers.
func (s *Server) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		sub.queue = nil
	}
	s.msgs = nil
	s.msgsByID = map[string]*Message{}
}

// Close shuts down the server and releases all resources.
func (s *Server) Close() error {
	s.srv.Close()
	return nil
}

// A Message is a message that was published to the server.
type Message struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	PublishTime time.Time
	Deliveries  int      // number of times delivery of the message was attempted
	Acks        int      // number of acks received from clients
	Modacks     []Modack // modacks received by server for this message
	OrderingKey string
}

// Modack represents a modack sent to the server.
type Modack struct {
	AckID       string
	AckDeadline int32
	ReceivedAt  time.Time
}

func (m *Message) copy() *Message {
	c := *m
	c.Modacks = append([]Modack(nil), m.Modacks...)
	return &c
}

func (s *gServer) now() time.Time {
	return s.timeNow()
}

func (s *gServer) CreateTopic(_ context.Context, t *pb.Topic) (*pb.Topic, error) {
	if err := checkTopicName(t.Name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.topics[t.Name] != nil {
		return nil, status.Errorf(codes.AlreadyExists, "topic %q", t.Name)
	}
	top := newTopic(proto.Clone(t).(*pb.Topic))
	s.topics[t.Name] = top
	return top.proto, nil
}

func (s *gServer) GetTopic(_ context.Context, req *pb.GetTopicRequest) (*pb.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t := s.topics[req.Topic]; t != nil {
		return t.proto, nil
	}
	return nil, status.Errorf(codes.NotFound, "topic %q", req.Topic)
}

func (s *gServer) ListTopics(_ context.Context, req *pb.ListTopicsRequest) (*pb.ListTopicsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for n := range s.topics {
		if strings.HasPrefix(n, req.Project+"/") {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	from, to, nextToken, err := testutil.PageBounds(int(req.PageSize), req.PageToken, len(names))
	if err != nil {
		return nil, err
	}
	res := &pb.ListTopicsResponse{NextPageToken: nextToken}
	for i := from; i < to; i++ {
		res.Topics = append(res.Topics, s.topics[names[i]].proto)
	}
	return res, nil
}

func (s *gServer) ListTopicSubscriptions(_ context.Context, req *pb.ListTopicSubscriptionsRequest) (*pb.ListTopicSubscriptionsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.topics[req.Topic]
	if t == nil {
		return nil, status.Errorf(codes.NotFound, "topic %q", req.Topic)
	}
	var names []string
	for name := range t.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	from, to, nextToken, err := testutil.PageBounds(int(req.PageSize), req.PageToken, len(names))
	if err != nil {
		return nil, err
	}
	return &pb.ListTopicSubscriptionsResponse{
		Subscriptions: names[from:to],
		NextPageToken: nextToken,
	}, nil
}

func (s *gServer) DeleteTopic(_ context.Context, req *pb.DeleteTopicRequest) (*emptypb.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.topics[req.Topic]
	if t == nil {
		return nil, status.Errorf(codes.NotFound, "topic %q", req.Topic)
	}
	t.stop()
	delete(s.topics, req.Topic)
	return &emptypb.Empty{}, nil
}

func (s *gServer) Publish(ctx context.Context, req *pb.PublishRequest) (*pb.PublishResponse, error) {
	if req.Topic == "" {
		return nil, status.Errorf(codes.InvalidArgument, "missing topic")
	}
	if len(req.Messages) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "no messages")
	}
	for i, m := range req.Messages {
		if len(m.Data) == 0 && len(m.Attributes) == 0 {
			return nil, status.Errorf(codes.InvalidArgument, "message %d has neither data nor attributes", i)
		}
		if len(m.Data) > maxMessageBytes {
			return nil, status.Errorf(codes.InvalidArgument, "message %d is larger than %d bytes", i, maxMessageBytes)
		}
	}
	s.mu.Lock()
	auto := s.autoPublishResponse
	exists := s.topics[req.Topic] != nil
	s.mu.Unlock()
	if !exists {
		return nil, status.Errorf(codes.NotFound, "topic %q", req.Topic)
	}
	if auto {
		return s.publish(req.Topic, req.Messages, nil)
	}
	select {
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	case pr := <-s.publishResponses:
		if pr.err != nil {
			return nil, pr.err
		}
		return s.publish(req.Topic, req.Messages, pr.resp.GetMessageIds())
	}
}

// publish stores msgs and hands them to the subscriptions of the topic. When
// ids has one entry per message they are used as the message IDs.
func (s *gServer) publish(topicName string, msgs []*pb.PubsubMessage, ids []string) (*pb.PublishResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	top := s.topics[topicName]
	if top == nil {
		return nil, status.Errorf(codes.NotFound, "topic %q", topicName)
	}
	pubTime := s.now()
	res := &pb.PublishResponse{}
	for i, pm := range msgs {
		var id string
		if len(ids) == len(msgs) {
			id = ids[i]
		} else {
			s.nextID++
			id = fmt.Sprintf("m%d", s.nextID)
		}
		pm = proto.Clone(pm).(*pb.PubsubMessage)
		pm.MessageId = id
		pm.PublishTime = timestamppb.New(pubTime)
		m := &Message{
			ID:          id,
			Data:        pm.Data,
			Attributes:  pm.Attributes,
			PublishTime: pubTime,
			OrderingKey: pm.OrderingKey,
		}
		s.msgs = append(s.msgs, m)
		s.msgsByID[id] = m
		res.MessageIds = append(res.MessageIds, id)
		for _, sub := range top.subs {
			if !sub.filter.accepts(pm.Attributes) {
				continue
			}
			s.nextAck++
			sub.queue = append(sub.queue, &message{
				proto: &pb.ReceivedMessage{
					AckId:   fmt.Sprintf("ack-%d", s.nextAck),
					Message: pm,
				},
				msg: m,
			})
		}
	}
	return res, nil
}

type topic struct {
	proto *pb.Topic
	subs  map[string]*subscription
}

func newTopic(pt *pb.Topic) *topic {
	return &topic{
		proto: pt,
		subs:  map[string]*subscription{},
	}
}

func (t *topic) stop() {
	for _, sub := range t.subs {
		sub.proto.Topic = deletedTopicName
		sub.topic = nil
	}
}

type subscription struct {
	topic      *topic
	proto      *pb.Subscription
	filter     *subFilter
	ackTimeout time.Duration
	queue      []*message // undelivered and outstanding messages, in publish order
}

// message is a message waiting in a subscription.
type message struct {
	proto    *pb.ReceivedMessage
	msg      *Message
	deadline time.Time // zero until first delivered
}

func (m *message) outstanding(now time.Time) bool {
	return !m.deadline.IsZero() && now.Before(m.deadline)
}

func (s *gServer) CreateSubscription(_ context.Context, ps *pb.Subscription) (*pb.Subscription, error) {
	if ps.Name == "" {
		return nil, status.Errorf(codes.InvalidArgument, "missing name")
	}
	if ps.Topic == "" {
		return nil, status.Errorf(codes.InvalidArgument, "missing topic")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[ps.Name] != nil {
		return nil, status.Errorf(codes.AlreadyExists, "subscription %q", ps.Name)
	}
	top := s.topics[ps.Topic]
	if top == nil {
		return nil, status.Errorf(codes.NotFound, "topic %q", ps.Topic)
	}
	ps = proto.Clone(ps).(*pb.Subscription)
	if ps.AckDeadlineSeconds == 0 {
		ps.AckDeadlineSeconds = defaultAckDeadlineSecs
	}
	if ps.AckDeadlineSeconds < minAckDeadlineSecs || ps.AckDeadlineSeconds > maxAckDeadlineSecs {
		return nil, status.Errorf(codes.InvalidArgument, "ack deadline must be between %d and %d seconds", minAckDeadlineSecs, maxAckDeadlineSecs)
	}
	if ps.MessageRetentionDuration == nil {
		ps.MessageRetentionDuration = durationpb.New(defaultMessageRetentionDuration)
	}
	filter, err := newSubFilter(ps.Filter)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad filter %q: %v", ps.Filter, err)
	}
	sub := &subscription{
		topic:      top,
		proto:      ps,
		filter:     filter,
		ackTimeout: time.Duration(ps.AckDeadlineSeconds) * time.Second,
	}
	top.subs[ps.Name] = sub
	s.subs[ps.Name] = sub
	return proto.Clone(ps).(*pb.Subscription), nil
}

func (s *gServer) GetSubscription(_ context.Context, req *pb.GetSubscriptionRequest) (*pb.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, err := s.findSubscription(req.Subscription)
	if err != nil {
		return nil, err
	}
	return proto.Clone(sub.proto).(*pb.Subscription), nil
}

func (s *gServer) ListSubscriptions(_ context.Context, req *pb.ListSubscriptionsRequest) (*pb.ListSubscriptionsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for name := range s.subs {
		if strings.HasPrefix(name, req.Project+"/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	from, to, nextToken, err := testutil.PageBounds(int(req.PageSize), req.PageToken, len(names))
	if err != nil {
		return nil, err
	}
	res := &pb.ListSubscriptionsResponse{NextPageToken: nextToken}
	for i := from; i < to; i++ {
		res.Subscriptions = append(res.Subscriptions, proto.Clone(s.subs[names[i]].proto).(*pb.Subscription))
	}
	return res, nil
}

func (s *gServer) DeleteSubscription(_ context.Context, req *pb.DeleteSubscriptionRequest) (*emptypb.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, err := s.findSubscription(req.Subscription)
	if err != nil {
		return nil, err
	}
	if sub.topic != nil {
		delete(sub.topic.subs, req.Subscription)
	}
	delete(s.subs, req.Subscription)
	return &emptypb.Empty{}, nil
}

func (s *gServer) Pull(_ context.Context, req *pb.PullRequest) (*pb.PullResponse, error) {
	if req.MaxMessages <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "MaxMessages must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, err := s.findSubscription(req.Subscription)
	if err != nil {
		return nil, err
	}
	now := s.now()
	res := &pb.PullResponse{}
	for _, m := range sub.queue {
		if len(res.ReceivedMessages) >= int(req.MaxMessages) {
			break
		}
		if m.outstanding(now) {
			continue
		}
		m.deadline = now.Add(sub.ackTimeout)
		m.msg.Deliveries++
		res.ReceivedMessages = append(res.ReceivedMessages, m.proto)
	}
	return res, nil
}

func (s *gServer) Acknowledge(_ context.Context, req *pb.AcknowledgeRequest) (*emptypb.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, err := s.findSubscription(req.Subscription)
	if err != nil {
		return nil, err
	}
	acked := map[string]bool{}
	for _, id := range req.AckIds {
		acked[id] = true
	}
	kept := sub.queue[:0]
	for _, m := range sub.queue {
		if acked[m.proto.AckId] {
			m.msg.Acks++
			continue
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < len(sub.queue); i++ {
		sub.queue[i] = nil
	}
	sub.queue = kept
	return &emptypb.Empty{}, nil
}

func (s *gServer) ModifyAckDeadline(_ context.Context, req *pb.ModifyAckDeadlineRequest) (*emptypb.Empty, error) {
	if req.AckDeadlineSeconds < 0 || req.AckDeadlineSeconds > maxAckDeadlineSecs {
		return nil, status.Errorf(codes.InvalidArgument, "ack deadline must be between 0 and %d seconds", maxAckDeadlineSecs)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, err := s.findSubscription(req.Subscription)
	if err != nil {
		return nil, err
	}
	now := s.now()
	ids := map[string]bool{}
	for _, id := range req.AckIds {
		ids[id] = true
	}
	for _, m := range sub.queue {
		if !ids[m.proto.AckId] {
			continue
		}
		m.msg.Modacks = append(m.msg.Modacks, Modack{
			AckID:       m.proto.AckId,
			AckDeadline: req.AckDeadlineSeconds,
			ReceivedAt:  now,
		})
		if req.AckDeadlineSeconds == 0 {
			// Redeliver on the next pull.
			m.deadline = now
		} else {
			m.deadline = now.Add(time.Duration(req.AckDeadlineSeconds) * time.Second)
		}
	}
	return &emptypb.Empty{}, nil
}

// findSubscription must be called with the lock held.
func (s *gServer) findSubscription(name string) (*subscription, error) {
	if name == "" {
		return nil, status.Errorf(codes.InvalidArgument, "missing subscription")
	}
	if sub := s.subs[name]; sub != nil {
		return sub, nil
	}
	return nil, status.Errorf(codes.NotFound, "subscription %q", name)
}

func checkTopicName(name string) error {
	if !matchesPattern("projects/*/topics/*", name) {
		return status.Errorf(codes.InvalidArgument, "bad topic name %q", name)
	}
	return nil
}

// matchesPattern reports whether name has the shape of pattern, where each
// "*" stands for one non-empty path segment.
func matchesPattern(pattern, name string) bool {
	ps := strings.Split(pattern, "/")
	ns := strings.Split(name, "/")
	if len(ps) != len(ns) {
		return false
	}
	for i, p := range ps {
		if p == "*" {
			if ns[i] == "" {
				return false
			}
			continue
		}
		if p != ns[i] {
			return false
		}
	}
	return true
}
