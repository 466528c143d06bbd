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
	"math"
	"os"
	"strings"
	"time"

	vkit "cloud.google.com/go/pubsub/apiv1"
	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

// emulatorHostEnv names the environment variable that points the client at a
// local emulator.
const emulatorHostEnv = "PUBSUB_EMULATOR_HOST"

// maxPayload is the maximum number of bytes to devote to actual ids in
// acknowledgement or modifyAckDeadline requests. A serialized
// AcknowledgeRequest proto has a small constant overhead, plus the size of the
// subscription name, plus 3 bytes per ID (a tag byte and two size bytes). We
// assume the size exclusive of ids is 100 bytes.
const (
	maxPayload       = 512 * 1024
	reqFixedOverhead = 100
	overheadPerID    = 3
	maxSendRecvBytes = 20 * 1024 * 1024 // 20M
)

// service isolates the generated Pub/Sub API; the rest of the package only
// talks to it through this type.
type service struct {
	pubc *vkit.PublisherClient
	subc *vkit.SubscriberClient
}

// emulatorOptions returns the options that point the client at the emulator
// named by PUBSUB_EMULATOR_HOST, or nil if it is unset.
func emulatorOptions() []option.ClientOption {
	addr := os.Getenv(emulatorHostEnv)
	if addr == "" {
		return nil
	}
	return []option.ClientOption{
		option.WithEndpoint(addr),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithoutAuthentication(),
		option.WithTelemetryDisabled(),
	}
}

func newService(ctx context.Context, opts []option.ClientOption) (*service, error) {
	opts = append(opts[:len(opts):len(opts)], emulatorOptions()...)
	pubc, err := vkit.NewPublisherClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	subc, err := vkit.NewSubscriberClient(ctx, opts...)
	if err != nil {
		pubc.Close()
		return nil, err
	}
	return &service{pubc: pubc, subc: subc}, nil
}

func (s *service) close() error {
	perr := s.pubc.Close()
	serr := s.subc.Close()
	if perr != nil {
		return perr
	}
	return serr
}

func (s *service) createTopic(ctx context.Context, name string, cfg *TopicConfig) (*pb.Topic, error) {
	t := &pb.Topic{Name: name}
	if cfg != nil {
		t.Labels = cfg.Labels
		t.KmsKeyName = cfg.KMSKeyName
		if cfg.RetentionDuration > 0 {
			t.MessageRetentionDuration = durationpb.New(cfg.RetentionDuration)
		}
	}
	return s.pubc.CreateTopic(ctx, t)
}

func (s *service) getTopic(ctx context.Context, name string) (*pb.Topic, error) {
	return s.pubc.GetTopic(ctx, &pb.GetTopicRequest{Topic: name})
}

func (s *service) deleteTopic(ctx context.Context, name string) error {
	return s.pubc.DeleteTopic(ctx, &pb.DeleteTopicRequest{Topic: name})
}

func (s *service) listProjectTopics(ctx context.Context, projName string) *vkit.TopicIterator {
	return s.pubc.ListTopics(ctx, &pb.ListTopicsRequest{Project: projName})
}

func (s *service) listTopicSubscriptions(ctx context.Context, topicName string) *vkit.StringIterator {
	return s.pubc.ListTopicSubscriptions(ctx, &pb.ListTopicSubscriptionsRequest{Topic: topicName})
}

func (s *service) listProjectSubscriptions(ctx context.Context, projName string) *vkit.SubscriptionIterator {
	return s.subc.ListSubscriptions(ctx, &pb.ListSubscriptionsRequest{Project: projName})
}

func (s *service) publishMessages(ctx context.Context, topicName string, msgs []*Message) ([]string, error) {
	rawMsgs := make([]*pb.PubsubMessage, len(msgs))
	for i, msg := range msgs {
		rawMsgs[i] = &pb.PubsubMessage{
			Data:        msg.Data,
			Attributes:  msg.Attributes,
			OrderingKey: msg.OrderingKey,
		}
	}
	resp, err := s.pubc.Publish(ctx, &pb.PublishRequest{
		Topic:    topicName,
		Messages: rawMsgs,
	}, gax.WithGRPCOptions(grpc.MaxCallSendMsgSize(maxSendRecvBytes)))
	if err != nil {
		return nil, err
	}
	return resp.MessageIds, nil
}

func (s *service) createSubscription(ctx context.Context, name string, cfg SubscriptionConfig) (*pb.Subscription, error) {
	return s.subc.CreateSubscription(ctx, cfg.toProto(name))
}

func (s *service) getSubscription(ctx context.Context, name string) (*pb.Subscription, error) {
	return s.subc.GetSubscription(ctx, &pb.GetSubscriptionRequest{Subscription: name})
}

func (s *service) deleteSubscription(ctx context.Context, name string) error {
	return s.subc.DeleteSubscription(ctx, &pb.DeleteSubscriptionRequest{Subscription: name})
}

func (s *service) fetchMessages(ctx context.Context, subName string, maxMessages int32) ([]*Message, error) {
	resp, err := s.subc.Pull(ctx, &pb.PullRequest{
		Subscription: subName,
		MaxMessages:  maxMessages,
	}, gax.WithGRPCOptions(grpc.MaxCallRecvMsgSize(maxSendRecvBytes)))
	if err != nil {
		return nil, err
	}
	return convertMessages(resp.ReceivedMessages)
}

func (s *service) acknowledge(ctx context.Context, subName string, ackIDs []string) error {
	for len(ackIDs) > 0 {
		var batch []string
		batch, ackIDs = splitRequestIDs(ackIDs, maxPayload-reqFixedOverhead-len(subName))
		if err := s.subc.Acknowledge(ctx, &pb.AcknowledgeRequest{
			Subscription: subName,
			AckIds:       batch,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) modifyAckDeadline(ctx context.Context, subName string, deadline time.Duration, ackIDs []string) error {
	secs := trunc32(int64(deadline / time.Second))
	for len(ackIDs) > 0 {
		var batch []string
		batch, ackIDs = splitRequestIDs(ackIDs, maxPayload-reqFixedOverhead-len(subName))
		if err := s.subc.ModifyAckDeadline(ctx, &pb.ModifyAckDeadlineRequest{
			Subscription:       subName,
			AckIds:             batch,
			AckDeadlineSeconds: secs,
		}); err != nil {
			return err
		}
	}
	return nil
}

// splitRequestIDs takes a slice of ack IDs and returns two slices such that
// the first one fits in maxSize bytes of request payload.
func splitRequestIDs(ids []string, maxSize int) (prefix, remainder []string) {
	size := 0
	i := 0
	for ; i < len(ids); i++ {
		size += overheadPerID + len(ids[i])
		if size > maxSize && i > 0 {
			break
		}
	}
	return ids[:i], ids[i:]
}

func convertMessages(rms []*pb.ReceivedMessage) ([]*Message, error) {
	msgs := make([]*Message, 0, len(rms))
	for i, m := range rms {
		msg, err := toMessage(m)
		if err != nil {
			return nil, fmt.Errorf("pubsub: cannot decode the retrieved message at index: %d, message: %+v", i, m)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func trunc32(i int64) int32 {
	if i > math.MaxInt32 {
		i = math.MaxInt32
	}
	return int32(i)
}

// isRetryable reports whether a failed Pull should be tried again.
func isRetryable(err error) bool {
	s, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch s.Code() {
	case codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Aborted:
		return true
	case codes.Unavailable:
		return !strings.Contains(s.Message(), "Server shutdownNow invoked")
	default:
		return false
	}
}
