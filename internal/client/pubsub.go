package client

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"
)

// PubSubClient wraps the Google Cloud Pub/Sub client for publishing.
type PubSubClient struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubClient creates a new Pub/Sub client.
func NewPubSubClient(ctx context.Context, projectID, topicID string) (*PubSubClient, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}

	return &PubSubClient{
		client: client,
		topic:  client.Topic(topicID),
	}, nil
}

// Close flushes pending messages and closes the client.
func (c *PubSubClient) Close() error {
	if c.topic != nil {
		c.topic.Stop()
	}
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Publish publishes a JSON message with attributes and waits for the
// server acknowledgement.
func (c *PubSubClient) Publish(ctx context.Context, data interface{}, attrs map[string]string) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	result := c.topic.Publish(ctx, &pubsub.Message{
		Data:       jsonData,
		Attributes: attrs,
	})

	_, err = result.Get(ctx)
	return err
}
