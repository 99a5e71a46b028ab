package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	audit "idshield/pkg/platform/audit"
	"idshield/pkg/platform/audit/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAsyncPublisher_DeliversInOrder(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewAsync(store, WithFlushInterval(10*time.Millisecond))
	defer pub.Close()

	pub.Emit(context.Background(), audit.Event{Stage: audit.StageReceived, RequestID: "r1"})
	pub.Emit(context.Background(), audit.Event{Stage: audit.StageDuplicateChecked, RequestID: "r1"})
	pub.Emit(context.Background(), audit.Event{Stage: audit.StageResultAssembled, RequestID: "r1"})

	require.Eventually(t, func() bool { return store.Len() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []audit.Stage{
		audit.StageReceived,
		audit.StageDuplicateChecked,
		audit.StageResultAssembled,
	}, store.Stages())
}

func TestAsyncPublisher_DrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewAsync(store, WithBufferSize(100), WithFlushInterval(time.Hour))

	for range 10 {
		pub.Emit(context.Background(), audit.Event{Stage: audit.StageFieldDecoded})
	}
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())

	assert.Equal(t, 10, store.Len(), "all events should be drained on close")
	assert.Equal(t, 0, pub.Pending())
}

func TestAsyncPublisher_FullBatchWakesWorker(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewAsync(store, WithBatchSize(5), WithFlushInterval(time.Hour))
	defer pub.Close()

	for range 5 {
		pub.Emit(context.Background(), audit.Event{Stage: audit.StageFieldDecoded})
	}
	require.Eventually(t, func() bool { return store.Len() == 5 }, time.Second, 5*time.Millisecond)
}

func TestAsyncPublisher_BufferFullDropsOldest(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := memory.NewInMemoryStore()
	pub := NewAsync(store, WithBufferSize(2), WithBatchSize(100), WithFlushInterval(time.Hour), WithMetrics(metrics))

	for i := range 5 {
		pub.Emit(context.Background(), audit.Event{Stage: audit.StageFieldDecoded, Count: i})
	}
	require.NoError(t, pub.Close())

	events := store.ListAll()
	require.Len(t, events, 2)
	assert.Equal(t, 3, events[0].Count)
	assert.Equal(t, 4, events[1].Count)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.Dropped))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Written))
	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.Emitted.WithLabelValues("pipeline")))
}

func TestAsyncPublisher_SetsTimestampAndCategory(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewInMemoryStore()
	pub := NewAsync(store, WithClock(func() time.Time { return fixed }))

	pub.Emit(context.Background(), audit.Event{Stage: audit.StageFieldIntegrityFailed, Fingerprint: "abcdefghijklmnopqrstuvwxyz"})
	custom := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	pub.Emit(context.Background(), audit.Event{Stage: audit.StageReceived, Timestamp: custom})
	require.NoError(t, pub.Close())

	events := store.ListAll()
	require.Len(t, events, 2)
	assert.Equal(t, fixed, events[0].Timestamp)
	assert.Equal(t, audit.CategoryIntegrity, events[0].Category)
	assert.Equal(t, "abcdefghijkl...", events[0].Fingerprint)
	assert.Equal(t, custom, events[1].Timestamp)
}

type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (f *failingSink) Write(context.Context, []audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("broker unreachable")
}

func TestAsyncPublisher_SinkFailureNeverBlocksEmit(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	sink := &failingSink{}
	pub := NewAsync(sink,
		WithBatchSize(1),
		WithFlushInterval(time.Millisecond),
		WithMetrics(metrics),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			pub.Emit(context.Background(), audit.Event{Stage: audit.StageReceived})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on failing sink")
	}
	require.NoError(t, pub.Close())

	assert.Positive(t, testutil.ToFloat64(metrics.SinkFailures))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.Written))
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	pub := NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))

	pub.Emit(context.Background(), audit.Event{
		Stage:     audit.StageFieldIntegrityFailed,
		RequestID: "req-9",
		Field:     "email",
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "shield stage", line["msg"])
	assert.Equal(t, "FIELD_INTEGRITY_FAILED", line["stage"])
	assert.Equal(t, "integrity", line["category"])
	assert.Equal(t, "req-9", line["request_id"])
	assert.Equal(t, "email", line["field"])
}

func TestMulti(t *testing.T) {
	a := memory.NewInMemoryStore()
	b := memory.NewInMemoryStore()
	pub := Multi{a, nil, b}

	pub.Emit(context.Background(), audit.Event{Stage: audit.StageReceived})
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())
}
