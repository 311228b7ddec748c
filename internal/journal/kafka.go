package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig selects the cluster and topic outcomes are written to.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// Writer is the subset of *kafka.Writer the journal uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaJournal publishes outcomes as JSON keyed by oracle account, so every
// account's outcomes land on one partition in order.
type KafkaJournal struct {
	w Writer
}

// NewKafka builds an asynchronous kafka writer. Delivery errors surface in
// the log through the writer's completion callback.
func NewKafka(cfg KafkaConfig, logger hclog.Logger) *KafkaJournal {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Compression:  kafka.Snappy,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("journal write failed", "topic", cfg.Topic, "messages", len(msgs), "error", err)
			}
		},
	}
	return NewKafkaWithWriter(w)
}

// NewKafkaWithWriter wraps an existing writer.
func NewKafkaWithWriter(w Writer) *KafkaJournal {
	return &KafkaJournal{w: w}
}

func (j *KafkaJournal) Record(ctx context.Context, o Outcome) error {
	value, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	return j.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.Account),
		Value: value,
		Time:  o.At,
		Headers: []kafka.Header{
			{Key: "delivery", Value: []byte(o.Delivery)},
		},
	})
}

func (j *KafkaJournal) Close() error {
	return j.w.Close()
}
