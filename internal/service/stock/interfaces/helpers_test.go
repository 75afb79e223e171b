package interfaces

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"nexus-storage/internal/service/stock/application"
	"nexus-storage/internal/service/stock/infrastructure/adapter"
	"nexus-storage/internal/service/stock/infrastructure/persistence"
)

var testTracer = otel.Tracer("stock-interfaces-test")

// fakeReader 按顺序返回预置消息，之后阻塞到 ctx 取消。
type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	ch := make(chan kafka.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	return &fakeReader{msgs: ch}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

// fakeWriter 记录所有写出的消息。
type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func (w *fakeWriter) onTopic(topic string) []kafka.Message {
	var out []kafka.Message
	for _, m := range w.written() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// runUntilCommitted 运行消费者直到 reader 提交了 n 条消息，然后停止并确认 reader 已关闭。
func runUntilCommitted(t *testing.T, run func(ctx context.Context) error, reader *fakeReader, n int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	require.Eventually(t, func() bool { return reader.commits() == n }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	reader.mu.Lock()
	defer reader.mu.Unlock()
	require.True(t, reader.closed)
}

// newEngine 组装一个基于内存存储的引擎，成功事件写入返回的 fakeWriter。
func newEngine() (*application.ReservationEngine, *fakeWriter) {
	events := &fakeWriter{}
	engine := application.NewReservationEngine(persistence.NewMemoryStore(),
		adapter.NewEventKafkaAdapter(events), testTracer, time.Minute)
	return engine, events
}

func message(topic string, value string, headers ...kafka.Header) kafka.Message {
	return kafka.Message{Topic: topic, Key: []byte("k"), Value: []byte(value), Headers: headers}
}
