package events

import (
	"context"
	"log"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubSink publishes every bus event to a Google Cloud Pub/Sub topic for
// durable cross-process delivery, for mesh deployments running a node as
// more than one process. Registered on an EventBus via AddSink; it never
// participates in in-process delivery itself.
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *log.Logger
}

// NewPubSubSink connects to project/topic, creating the topic if absent.
func NewPubSubSink(projectID, topicID string) (*PubSubSink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, err
		}
	}

	return &PubSubSink{
		client: client,
		topic:  topic,
		logger: log.New(log.Writer(), "[events.pubsub] ", log.LstdFlags),
	}, nil
}

// Publish implements Sink. Publish errors are logged, never returned —
// a Pub/Sub outage must not block the in-process fan-out path.
func (s *PubSubSink) Publish(event *CloudEvent) {
	payload, err := event.JSON()
	if err != nil {
		s.logger.Printf("marshal failed for %s: %v", event.ID, err)
		return
	}

	result := s.topic.Publish(context.Background(), &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"ce-specversion": event.SpecVersion,
			"ce-type":        event.Type,
			"ce-source":      event.Source,
			"ce-id":          event.ID,
			"ce-time":        event.Time.Format(time.RFC3339Nano),
		},
	})

	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			s.logger.Printf("publish failed for %s: %v", event.ID, err)
		}
	}()
}

func (s *PubSubSink) Close() error {
	s.topic.Stop()
	return s.client.Close()
}
