package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/logger"
	"github.com/koustreak/sqlpoll/internal/record"
	"github.com/segmentio/kafka-go"
)

const DefaultKafkaTimeout = 10 * time.Second

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Brokers []string
	Topic   string

	// KeyColumn names the column used as message key. Empty sends
	// messages without a key.
	KeyColumn string

	// Timeout bounds the delivery of one row.
	Timeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes every row as a JSON message.
type Kafka struct {
	writer    messageWriter
	keyColumn string
	timeout   time.Duration
}

// NewKafka creates a synchronous writer for cfg.Topic.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errs.New(errs.ErrKindConfiguration, "kafka sink requires at least one broker address")
	}
	if cfg.Topic == "" {
		return nil, errs.New(errs.ErrKindConfiguration, "kafka sink requires a topic")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultKafkaTimeout
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafka(w, cfg), nil
}

func newKafka(w messageWriter, cfg KafkaConfig) *Kafka {
	return &Kafka{writer: w, keyColumn: cfg.KeyColumn, timeout: cfg.Timeout}
}

func (k *Kafka) Emit(ctx context.Context, row *record.Row) error {
	value, err := json.Marshal(row)
	if err != nil {
		return errs.Wrap(errs.ErrKindUnknown, "failed to encode row", err)
	}

	msg := kafka.Message{Value: value}
	if k.keyColumn != "" {
		if v, ok := row.Get(k.keyColumn); ok && !v.IsNull() {
			msg.Key = []byte(keyString(v))
		}
	}

	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		logger.FromContext(ctx).ErrorWith("Failed to publish row", err, map[string]interface{}{
			"key": string(msg.Key),
		})
		return errs.Wrap(errs.ErrKindUnknown, "failed to publish row", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func keyString(v record.Value) string {
	switch v.Kind() {
	case record.KindString:
		return v.Str()
	case record.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v.Native())
}
