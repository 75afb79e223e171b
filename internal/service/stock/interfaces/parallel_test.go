package interfaces

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-storage/internal/pkg/mq"
	"nexus-storage/internal/service/stock/domain"
)

// rendezvousEngine 的 Restock 等待另一个调用同时到达，最多等待一秒。
type rendezvousEngine struct {
	StockEngine

	mu      sync.Mutex
	arrived int
	both    chan struct{}
	met     atomic.Int32
}

func (e *rendezvousEngine) Restock(context.Context, []domain.LineItem) ([]domain.EventItem, error) {
	e.mu.Lock()
	e.arrived++
	if e.arrived == 2 {
		close(e.both)
	}
	e.mu.Unlock()

	select {
	case <-e.both:
		e.met.Add(1)
	case <-time.After(time.Second):
	}
	return nil, nil
}

func TestRunParallel_ConsumersInOneGroupProcessConcurrently(t *testing.T) {
	engine := &rendezvousEngine{both: make(chan struct{})}
	gateway := NewGateway(engine)
	dlt := mq.NewFailureHandler(&fakeWriter{}, domain.TopicDeadLetter)
	r1 := newFakeReader(message(domain.TopicRestock, `[{"itemId":1,"amount":1}]`))
	r2 := newFakeReader(message(domain.TopicRestock, `[{"itemId":2,"amount":1}]`))

	run := RunParallel(
		NewCommandConsumer(r1, gateway, dlt, testTracer).Run,
		NewCommandConsumer(r2, gateway, dlt, testTracer).Run,
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	require.Eventually(t, func() bool { return r1.commits() == 1 && r2.commits() == 1 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int32(2), engine.met.Load(), "both batches should be in flight at the same time")
}

func TestRunParallel_FirstErrorStopsTheOthers(t *testing.T) {
	boom := errors.New("reader broken")
	var stopped atomic.Bool

	err := RunParallel(
		func(context.Context) error { return boom },
		func(ctx context.Context) error {
			<-ctx.Done()
			stopped.Store(true)
			return nil
		},
	)(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.True(t, stopped.Load())
}
