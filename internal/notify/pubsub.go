package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// Message is the JSON payload published for each alert.
type Message struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	ProjectID string `json:"project_id"`
	SourceID  string `json:"source_id"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	At        string `json:"at"`
}

// PubSubNotifier publishes alerts to a Google Cloud Pub/Sub topic.
type PubSubNotifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSub connects to projectID and publishes to topicID.
func NewPubSub(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*PubSubNotifier, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSubNotifier{client: client, topic: client.Topic(topicID)}, nil
}

// Notify publishes the alert and waits for the server ack.
func (n *PubSubNotifier) Notify(ctx context.Context, alert crawl.Alert) error {
	data, err := json.Marshal(Message{
		Subject:   Subject(alert),
		Body:      Body(alert),
		ProjectID: alert.ProjectID,
		SourceID:  alert.SourceID,
		Status:    string(alert.Status),
		Detail:    alert.Detail,
		At:        alert.At.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"project_id": alert.ProjectID,
			"source_id":  alert.SourceID,
			"status":     string(alert.Status),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes the client.
func (n *PubSubNotifier) Close() error {
	n.topic.Stop()
	if err := n.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
