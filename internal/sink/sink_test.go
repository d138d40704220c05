package sink

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/koustreak/sqlpoll/internal/config"
	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/logger"
	"github.com/koustreak/sqlpoll/internal/record"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRow(id int64) *record.Row {
	row := record.NewRow(3)
	row.Set("id", record.Int(id))
	row.Set("name", record.String("widget"))
	row.Set("deleted_at", record.Null())
	return row
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLines(&buf, nil)

	require.NoError(t, s.Emit(context.Background(), sampleRow(1)))
	require.NoError(t, s.Emit(context.Background(), sampleRow(2)))
	require.NoError(t, s.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"id":1,"name":"widget","deleted_at":null}`, lines[0])
	assert.Equal(t, `{"id":2,"name":"widget","deleted_at":null}`, lines[1])
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	s, err := New(config.Sink{Type: "file", Path: path})
	require.NoError(t, err)

	require.NoError(t, s.Emit(context.Background(), sampleRow(7)))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":7`)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(config.Sink{Type: "file", Path: filepath.Join(t.TempDir(), "missing", "rows.jsonl")})
	assert.True(t, errs.IsConfiguration(err))

	_, err = New(config.Sink{Type: "carrier-pigeon"})
	assert.True(t, errs.IsConfiguration(err))

	_, err = New(config.Sink{Type: "kafka"})
	assert.True(t, errs.IsConfiguration(err))

	_, err = NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.True(t, errs.IsConfiguration(err))
}

type fakeWriter struct {
	msgs     []kafka.Message
	deadline bool
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, w.deadline = ctx.Deadline()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafka_Emit(t *testing.T) {
	w := &fakeWriter{}
	k := newKafka(w, KafkaConfig{Topic: "orders", KeyColumn: "id", Timeout: time.Second})

	require.NoError(t, k.Emit(context.Background(), sampleRow(42)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "42", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"id":42,"name":"widget","deleted_at":null}`, string(w.msgs[0].Value))
	assert.True(t, w.deadline)

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestKafka_NullKey(t *testing.T) {
	w := &fakeWriter{}
	k := newKafka(w, KafkaConfig{Topic: "orders", KeyColumn: "deleted_at"})

	require.NoError(t, k.Emit(context.Background(), sampleRow(1)))
	assert.Nil(t, w.msgs[0].Key)
	assert.False(t, w.deadline)
}

func TestKafka_WriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	k := newKafka(w, KafkaConfig{Topic: "orders", KeyColumn: "id"})

	buf := &bytes.Buffer{}
	log := logger.New(&logger.Config{Level: "info", Output: buf}).With().Str("cycle_id", "c1").Logger()

	err := k.Emit(log.WithContext(context.Background()), sampleRow(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
	assert.Contains(t, buf.String(), `"cycle_id":"c1"`)
	assert.Contains(t, buf.String(), `"key":"1"`)
}

func TestNewKafka_Writer(t *testing.T) {
	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "orders"})
	require.NoError(t, err)

	w, ok := k.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "orders", w.Topic)
	assert.Equal(t, 1, w.BatchSize)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.Equal(t, DefaultKafkaTimeout, k.timeout)
	require.NoError(t, k.Close())
}
