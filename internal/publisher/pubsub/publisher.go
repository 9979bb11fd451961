// Package pubsub implements a Google Cloud Pub/Sub completion publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/crawlworks/email-harvester/internal/crawler"
)

// Publisher sends completion events to a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// Dial connects to Pub/Sub using Application Default Credentials and
// verifies that the topic exists before returning a Publisher.
func Dial(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		err = fmt.Errorf("check pubsub topic %q: %w", topicID, err)
		if closeErr := client.Close(); closeErr != nil {
			err = fmt.Errorf("%w (close client: %v)", err, closeErr)
		}
		return nil, err
	}
	if !exists {
		err = fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
		if closeErr := client.Close(); closeErr != nil {
			err = fmt.Errorf("%w (close client: %v)", err, closeErr)
		}
		return nil, err
	}

	return &Publisher{client: client, topic: topic}, nil
}

// New wraps an existing topic handle. The caller keeps ownership of the
// underlying client.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Publish marshals the event to JSON and blocks until the server
// acknowledges the message.
func (p *Publisher) Publish(ctx context.Context, event crawler.CompletionEvent) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"job_id": event.JobID,
			"status": string(event.Status),
		},
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish completion event: %w", err)
	}
	return nil
}

// Close stops the topic's publish goroutines and closes the client when
// this Publisher dialed it.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
