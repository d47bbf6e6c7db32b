package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/progress"
)

// PublisherSink forwards terminal run events to a message topic so external
// consumers can follow crawl activity.
type PublisherSink struct {
	publisher crawler.Publisher
	topic     string
	// AllStages also forwards RUN_START and STEP events.
	AllStages bool
}

// NewPublisherSink binds a publisher and topic.
func NewPublisherSink(publisher crawler.Publisher, topic string) *PublisherSink {
	return &PublisherSink{publisher: publisher, topic: topic}
}

// Consume publishes each selected event and stops at the first failure.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if !s.AllStages && evt.Stage != progress.StageRunDone && evt.Stage != progress.StageRunError {
			continue
		}
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			return fmt.Errorf("publish progress event: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
