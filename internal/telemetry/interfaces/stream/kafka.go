package stream

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

const transportKafka = "kafka"

// KafkaConfig holds consumer settings.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer accepts readings from a topic. Offsets are committed after
// every reading in the message was stored or rejected; store failures leave
// the offset in place and retry the message with backoff.
type KafkaConsumer struct {
	reader     messageReader
	intake     Acceptor
	logger     *log.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewKafkaConsumer constructs a consumer group reader.
func NewKafkaConsumer(cfg KafkaConfig, intake Acceptor, logger *log.Logger) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka intake: brokers and topic required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "wellhead-monitor"
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: []string{cfg.Topic},
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newKafkaConsumer(reader, intake, logger)
}

func newKafkaConsumer(reader messageReader, intake Acceptor, logger *log.Logger) (*KafkaConsumer, error) {
	if intake == nil {
		return nil, errors.New("kafka intake: nil intake")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &KafkaConsumer{reader: reader, intake: intake, logger: logger, minBackoff: time.Second, maxBackoff: 10 * time.Second}, nil
}

// Run consumes until ctx is done.
func (c *KafkaConsumer) Run(ctx context.Context) {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Printf("kafka intake: close error: %v", err)
		}
	}()
	backoff := c.minBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Printf("kafka intake: fetch error: %v", err)
			if !c.sleep(ctx, &backoff) {
				return
			}
			continue
		}
		if !c.handle(ctx, msg, &backoff) {
			return
		}
	}
}

// handle retries one message until it is stored or ctx ends.
func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message, backoff *time.Duration) bool {
	for {
		_, err := process(ctx, c.intake, transportKafka, msg.Value, c.logger)
		if err == nil {
			break
		}
		c.logger.Printf("kafka intake: store error: partition=%d offset=%d err=%v", msg.Partition, msg.Offset, err)
		if !c.sleep(ctx, backoff) {
			return false
		}
	}
	*backoff = c.minBackoff
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return false
		}
		c.logger.Printf("kafka intake: commit error: partition=%d offset=%d err=%v", msg.Partition, msg.Offset, err)
	}
	return true
}

func (c *KafkaConsumer) sleep(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-time.After(*backoff):
		if *backoff < c.maxBackoff {
			*backoff *= 2
		}
		return true
	case <-ctx.Done():
		return false
	}
}
