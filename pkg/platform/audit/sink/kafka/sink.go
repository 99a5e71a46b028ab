// Package kafka writes stage events to a Kafka topic as JSON records.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "idshield/pkg/platform/audit"
)

// DefaultTopic receives stage events when no topic is configured.
const DefaultTopic = "idshield.stage-events"

// Sink produces one record per event, keyed by request id so events for a
// submission stay on one partition and in order.
type Sink struct {
	client *kgo.Client
	topic  string
}

type config struct {
	topic             string
	ensureTopic       bool
	partitions        int32
	replicationFactor int16
	clientOpts        []kgo.Opt
}

// Option configures a Sink.
type Option func(*config)

// WithTopic sets the destination topic.
func WithTopic(topic string) Option {
	return func(c *config) {
		if topic != "" {
			c.topic = topic
		}
	}
}

// WithEnsureTopic creates the topic on startup if it does not exist.
func WithEnsureTopic(partitions int32, replicationFactor int16) Option {
	return func(c *config) {
		c.ensureTopic = true
		c.partitions = partitions
		c.replicationFactor = replicationFactor
	}
}

// WithClientOpts passes extra options to the franz-go client.
func WithClientOpts(opts ...kgo.Opt) Option {
	return func(c *config) {
		c.clientOpts = append(c.clientOpts, opts...)
	}
}

// New connects to brokers and verifies the cluster answers.
func New(ctx context.Context, brokers []string, opts ...Option) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	cfg := config{topic: DefaultTopic, partitions: 1, replicationFactor: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	clientOpts := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(cfg.topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}, cfg.clientOpts...)
	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping failed: %w", err)
	}

	s := &Sink{client: client, topic: cfg.topic}
	if cfg.ensureTopic {
		if err := s.ensureTopic(ctx, cfg.partitions, cfg.replicationFactor); err != nil {
			client.Close()
			return nil, err
		}
	}
	return s, nil
}

// Write produces the batch and waits for every record to be acknowledged.
func (s *Sink) Write(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal stage event: %w", err)
		}
		records = append(records, &kgo.Record{
			Key:   []byte(e.RequestID),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "stage", Value: []byte(e.Stage)},
				{Key: "category", Value: []byte(e.Category)},
			},
		})
	}
	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce stage events: %w", err)
	}
	return nil
}

// Topic returns the destination topic.
func (s *Sink) Topic() string {
	return s.topic
}

// Health pings the cluster.
func (s *Sink) Health(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close flushes and closes the client.
func (s *Sink) Close() {
	s.client.Close()
}

func (s *Sink) ensureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	admin := kadm.NewClient(s.client)
	resp, err := admin.CreateTopics(ctx, partitions, replicationFactor, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", s.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}
