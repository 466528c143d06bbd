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
	"sync"
	"time"

	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
)

// Message represents a Pub/Sub message.
type Message struct {
	// ID identifies this message. This ID is assigned by the server and is
	// populated for Messages obtained from a subscription.
	//
	// This field is read-only.
	ID string

	// Data is the actual data in the message.
	Data []byte

	// Attributes represents the key-value pairs the current message is
	// labelled with.
	Attributes map[string]string

	// PublishTime is the time at which the message was published. This is
	// populated by the server for Messages obtained from a subscription.
	//
	// This field is read-only.
	PublishTime time.Time

	// DeliveryAttempt is the number of times a message has been delivered.
	// It is nil unless the subscription has a dead letter policy.
	DeliveryAttempt *int

	// OrderingKey identifies related messages for which publish order
	// should be respected.
	OrderingKey string

	// ackID is the identifier to acknowledge this message.
	ackID string

	once     sync.Once
	doneFunc func(ackID string, ack bool)
}

func toMessage(resp *pb.ReceivedMessage) (*Message, error) {
	if resp.Message == nil {
		return &Message{ackID: resp.AckId}, nil
	}
	msg := &Message{
		ID:          resp.Message.MessageId,
		Data:        resp.Message.Data,
		Attributes:  resp.Message.Attributes,
		OrderingKey: resp.Message.OrderingKey,
		ackID:       resp.AckId,
	}
	if pt := resp.Message.GetPublishTime(); pt != nil {
		if err := pt.CheckValid(); err != nil {
			return nil, err
		}
		msg.PublishTime = pt.AsTime()
	}
	if resp.DeliveryAttempt > 0 {
		da := int(resp.DeliveryAttempt)
		msg.DeliveryAttempt = &da
	}
	return msg, nil
}

// AckID returns the identifier used to acknowledge the message. It is empty
// for messages that were not received from a subscription.
func (m *Message) AckID() string {
	return m.ackID
}

// Ack indicates successful processing of a Message passed to the
// Subscriber.Receive callback or returned by Pull. It should not be called
// on any other Message value. If message acknowledgement fails, the Message
// will be redelivered. Only the first call to Ack or Nack has an effect.
func (m *Message) Ack() {
	m.done(true)
}

// Nack indicates that the client will not or cannot process a Message. Nack
// will result in the Message being redelivered more quickly than if it were
// allowed to expire.
func (m *Message) Nack() {
	m.done(false)
}

func (m *Message) done(ack bool) {
	m.once.Do(func() {
		if m.doneFunc != nil {
			m.doneFunc(m.ackID, ack)
		}
	})
}

// size is the number of bytes the message counts for in flow control.
func (m *Message) size() int {
	n := len(m.Data) + len(m.OrderingKey)
	for k, v := range m.Attributes {
		n += len(k) + len(v)
	}
	return n
}
