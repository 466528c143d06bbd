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

// Package pubsub is a Google Cloud Pub/Sub client.
//
// A Client manages the topics and subscriptions of one project. Topics and
// subscriptions are referred to by handles: Client.Topic and
// Client.Subscription build a handle locally without calling the service,
// while CreateTopic, CreateSubscription and the iterators return handles
// that were loaded from the service.
//
// If the environment variable PUBSUB_EMULATOR_HOST is set, the client
// connects to the emulator at that address without authentication.
//
// More information about Google Cloud Pub/Sub is available on
// https://cloud.google.com/pubsub/docs
package pubsub

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
)

const (
	// ScopePubSub grants permissions to view and manage Pub/Sub
	// topics and subscriptions.
	ScopePubSub = "https://www.googleapis.com/auth/pubsub"

	// ScopeCloudPlatform grants permissions to view and manage your data
	// across Google Cloud Platform services.
	ScopeCloudPlatform = "https://www.googleapis.com/auth/cloud-platform"
)

// Client is a Google Cloud Pub/Sub client. A Client is safe for concurrent
// use by multiple goroutines.
type Client struct {
	projectID string
	s         *service
}

// NewClient creates a new Pub/Sub client for the given project.
func NewClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub: projectID string is empty")
	}
	s, err := newService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("pubsub: %w", err)
	}
	return &Client{projectID: projectID, s: s}, nil
}

// Close releases the resources held by the client. It need not be called at
// program exit. Handles obtained from the client must not be used after
// Close.
func (c *Client) Close() error {
	return c.s.close()
}

// Project returns the project ID of the client.
func (c *Client) Project() string {
	return c.projectID
}

func (c *Client) fullyQualifiedProjectName() string {
	return fmt.Sprintf("projects/%s", c.projectID)
}

// resourceName expands id into the full name of a project resource of the
// given kind. Ids that are already full names are returned as is.
func (c *Client) resourceName(kind, id string) string {
	if strings.HasPrefix(id, "projects/") {
		return id
	}
	return fmt.Sprintf("projects/%s/%s/%s", c.projectID, kind, id)
}

// lastSegment returns the part of a resource name after its last slash.
func lastSegment(name string) string {
	return name[strings.LastIndex(name, "/")+1:]
}
