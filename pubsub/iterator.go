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
	pb "cloud.google.com/go/pubsub/apiv1/pubsubpb"
)

// TopicIterator is an iterator that returns a series of topics.
type TopicIterator struct {
	c    *Client
	next func() (*pb.Topic, error)
}

// Next returns the next topic. If there are no more topics, iterator.Done
// will be returned. The returned topics are not lazy.
func (it *TopicIterator) Next() (*Topic, error) {
	pt, err := it.next()
	if err != nil {
		return nil, err
	}
	return newTopic(it.c, pt.Name, topicConfigFromProto(pt)), nil
}

// SubscriptionIterator is an iterator that returns a series of
// subscriptions.
type SubscriptionIterator struct {
	c    *Client
	next func() (*Subscription, error)
}

// Next returns the next subscription. If there are no more subscriptions,
// iterator.Done will be returned.
func (it *SubscriptionIterator) Next() (*Subscription, error) {
	return it.next()
}
