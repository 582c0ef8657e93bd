package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	users "github.com/homeharmony/go-users"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka driver.
type KafkaConfig struct {
	// Brokers is the bootstrap server list.
	Brokers []string

	// GroupID is the consumer group shared by every subscription.
	GroupID string

	// BatchTimeout bounds how long the writer waits to fill a batch.
	// Default: 10ms.
	BatchTimeout time.Duration

	Logger users.Logger
}

// Kafka is a Broker backed by segmentio/kafka-go.
type Kafka struct {
	config KafkaConfig
	writer *kafka.Writer
	logger users.Logger
}

var _ Broker = (*Kafka)(nil)

// NewKafka creates the Kafka driver. Connections are opened lazily.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("bus: at least one kafka broker is required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, fmt.Errorf("bus: kafka consumer group is required")
	}
	cfg.Brokers = brokers

	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}

	logger := cfg.Logger
	if logger == nil {
		logger = users.NewZapLoggerNamed(nil, "bus.kafka")
	}

	return &Kafka{
		config: cfg,
		logger: logger,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           cfg.BatchTimeout,
			AllowAutoTopicCreation: true,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
				logger.Error(fmt.Sprintf(msg, args...))
			}),
		},
	}, nil
}

// Publish implements Publisher.
func (k *Kafka) Publish(ctx context.Context, msgs ...Message) error {
	out := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toKafkaMessage(msg))
	}

	if err := k.writer.WriteMessages(ctx, out...); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return ErrClosed
		}
		return fmt.Errorf("bus: kafka publish: %w", err)
	}
	return nil
}

// Subscribe implements Subscriber. Each subscription joins the configured
// consumer group for topic.
func (k *Kafka) Subscribe(topic string) (Subscription, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("bus: topic is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		GroupID:     k.config.GroupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			k.logger.Error(fmt.Sprintf(msg, args...), "topic", topic)
		}),
	})

	return &kafkaSubscription{reader: reader}, nil
}

// Close flushes pending writes.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

type kafkaSubscription struct {
	reader *kafka.Reader
}

func (s *kafkaSubscription) Fetch(ctx context.Context) (Message, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, ErrClosed
		}
		return Message{}, err
	}
	return fromKafkaMessage(msg), nil
}

func (s *kafkaSubscription) Commit(ctx context.Context, msg Message) error {
	return s.reader.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

func (s *kafkaSubscription) Close() error {
	return s.reader.Close()
}

func toKafkaMessage(msg Message) kafka.Message {
	out := kafka.Message{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
	}
	for k, v := range msg.Headers {
		out.Headers = append(out.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

func fromKafkaMessage(msg kafka.Message) Message {
	out := Message{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Time:      msg.Time,
	}
	if len(msg.Headers) > 0 {
		out.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			out.Headers[h.Key] = string(h.Value)
		}
	}
	return out
}
