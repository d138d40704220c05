// Package sink delivers decorated rows to their destination.
package sink

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/goccy/go-json"
	"github.com/koustreak/sqlpoll/internal/config"
	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/record"
)

// Sink receives the rows of every cycle in order.
type Sink interface {
	Emit(ctx context.Context, row *record.Row) error
	Close() error
}

// New opens the sink selected by cfg.
func New(cfg config.Sink) (Sink, error) {
	switch cfg.Type {
	case "", "stdout":
		return NewJSONLines(os.Stdout, nil), nil

	case "file":
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindConfiguration, "failed to open sink file "+cfg.Path, err)
		}
		return NewJSONLines(f, f), nil

	case "kafka":
		return NewKafka(KafkaConfig{
			Brokers:   cfg.Kafka.Brokers,
			Topic:     cfg.Kafka.Topic,
			KeyColumn: cfg.Kafka.KeyColumn,
			Timeout:   cfg.Kafka.Timeout,
		})
	}
	return nil, errs.Newf(errs.ErrKindConfiguration, "unknown sink type %q", cfg.Type)
}

// JSONLines writes one JSON object per row.
type JSONLines struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLines writes to w. closer, if not nil, is closed by Close.
func NewJSONLines(w io.Writer, closer io.Closer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w), closer: closer}
}

func (s *JSONLines) Emit(_ context.Context, row *record.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(row); err != nil {
		return errs.Wrap(errs.ErrKindUnknown, "failed to write row", err)
	}
	return nil
}

func (s *JSONLines) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
