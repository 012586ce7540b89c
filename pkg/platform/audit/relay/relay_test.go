package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciler/pkg/platform/audit/store/postgres"
)

type fakeOutbox struct {
	mu        sync.Mutex
	pending   []postgres.Entry
	published map[uuid.UUID]time.Time
}

func newFakeOutbox(entries ...postgres.Entry) *fakeOutbox {
	return &fakeOutbox{pending: entries, published: map[uuid.UUID]time.Time{}}
}

func (f *fakeOutbox) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	snapshot := make(map[uuid.UUID]time.Time, len(f.published))
	for k, v := range f.published {
		snapshot[k] = v
	}
	f.mu.Unlock()

	if err := fn(ctx); err != nil {
		f.mu.Lock()
		f.published = snapshot
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeOutbox) ClaimPending(_ context.Context, limit int) ([]postgres.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []postgres.Entry
	for _, e := range f.pending {
		if _, done := f.published[e.ID]; done {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.published[id] = at
	}
	return nil
}

type recordingProducer struct {
	keys    []string
	headers []map[string]string
	failOn  int
	calls   int
}

func (p *recordingProducer) Publish(_ context.Context, key, _ []byte, headers map[string]string) error {
	p.calls++
	if p.failOn > 0 && p.calls == p.failOn {
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, string(key))
	p.headers = append(p.headers, headers)
	return nil
}

func entry(aggregate, eventType string) postgres.Entry {
	return postgres.Entry{
		ID:            uuid.New(),
		AggregateType: "identity",
		AggregateID:   aggregate,
		EventType:     eventType,
		Payload:       []byte(`{}`),
		CreatedAt:     time.Now(),
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRelayBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes pending entries keyed by aggregate", func(t *testing.T) {
		outbox := newFakeOutbox(entry("1", "contact_created"), entry("1", "contact_linked"))
		producer := &recordingProducer{}
		metrics := NewMetrics(prometheus.NewRegistry())
		r := New(outbox, producer, WithLogger(quietLogger()), WithMetrics(metrics))

		n, err := r.RelayBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"1", "1"}, producer.keys)
		assert.Equal(t, "contact_linked", producer.headers[1]["event_type"])
		assert.Len(t, outbox.published, 2)
		assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Published))

		n, err = r.RelayBatch(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("respects batch size", func(t *testing.T) {
		outbox := newFakeOutbox(entry("1", "a"), entry("2", "b"), entry("3", "c"))
		r := New(outbox, &recordingProducer{}, WithLogger(quietLogger()), WithBatchSize(2))

		n, err := r.RelayBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("publish failure leaves the batch pending", func(t *testing.T) {
		outbox := newFakeOutbox(entry("1", "a"), entry("2", "b"))
		producer := &recordingProducer{failOn: 2}
		metrics := NewMetrics(prometheus.NewRegistry())
		r := New(outbox, producer, WithLogger(quietLogger()), WithMetrics(metrics))

		_, err := r.RelayBatch(ctx)
		require.Error(t, err)
		assert.Empty(t, outbox.published)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PublishFailures))
	})
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	outbox := newFakeOutbox(entry("1", "contact_created"))
	producer := &recordingProducer{}
	r := New(outbox, producer, WithLogger(quietLogger()), WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		outbox.mu.Lock()
		defer outbox.mu.Unlock()
		return len(outbox.published) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}
