package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/NordCoder/Zepatrol/internal/domain/alert"
	"github.com/NordCoder/Zepatrol/internal/domain/outbox"
	"github.com/NordCoder/Zepatrol/internal/obs/retry"
)

type fakeRepo struct {
	mu      sync.Mutex
	pending []outbox.Message
	done    []string
	pickErr error
}

func (f *fakeRepo) Enqueue(_ context.Context, key string, kind outbox.Kind, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, outbox.Message{IdempotencyKey: key, Kind: kind, Data: data, Status: outbox.StatusCreated})
	return nil
}

func (f *fakeRepo) PickBatch(_ context.Context, batch int, _ time.Duration) ([]outbox.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pickErr != nil {
		return nil, f.pickErr
	}
	n := min(batch, len(f.pending))
	out := append([]outbox.Message(nil), f.pending[:n]...)
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeRepo) MarkSuccess(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = append(f.done, keys...)
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	got  []alert.Alert
	fail int
}

func (p *fakePublisher) PublishAlertRaised(_ context.Context, a *alert.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail > 0 {
		p.fail--
		return errors.New("broker unavailable")
	}
	p.got = append(p.got, *a)
	return nil
}

func quickPolicy() retry.Policy {
	return retry.Policy{Name: "test", Attempts: 3, Backoff: retry.Constant(time.Millisecond),
		Retryable: func(err error) bool { return !errors.Is(err, retry.ErrPermanent) }}
}

func alertPayload(t *testing.T, id int64) []byte {
	t.Helper()
	b, err := json.Marshal(alert.Alert{ID: id, TargetID: 9, Kind: alert.KindDowntime, Message: "Node n is down: x"})
	require.NoError(t, err)
	return b
}

func newRunner(t *testing.T, repo outbox.Repository, pub *fakePublisher) *Runner {
	return NewOutboxRunner(zaptest.NewLogger(t), repo, MakeGlobalOutboxHandler(pub, quickPolicy()),
		Config{BatchSize: 10}, prometheus.NewRegistry())
}

func TestTick_PublishesAndMarks(t *testing.T) {
	repo := &fakeRepo{}
	ctx := context.Background()
	require.NoError(t, repo.Enqueue(ctx, "alert:1", outbox.KindAlertRaised, alertPayload(t, 1)))
	require.NoError(t, repo.Enqueue(ctx, "alert:2", outbox.KindAlertRaised, alertPayload(t, 2)))

	pub := &fakePublisher{}
	r := newRunner(t, repo, pub)
	r.Tick(ctx)

	assert.Equal(t, []string{"alert:1", "alert:2"}, repo.done)
	require.Len(t, pub.got, 2)
	assert.Equal(t, int64(1), pub.got[0].ID)
	assert.InDelta(t, 2, testutil.ToFloat64(r.mOk), 0)
}

func TestTick_RetriesTransientFailure(t *testing.T) {
	repo := &fakeRepo{}
	require.NoError(t, repo.Enqueue(context.Background(), "alert:1", outbox.KindAlertRaised, alertPayload(t, 1)))

	pub := &fakePublisher{fail: 2}
	r := newRunner(t, repo, pub)
	r.Tick(context.Background())

	assert.Equal(t, []string{"alert:1"}, repo.done)
	assert.Len(t, pub.got, 1)
}

func TestTick_ExhaustedLeavesPending(t *testing.T) {
	repo := &fakeRepo{}
	require.NoError(t, repo.Enqueue(context.Background(), "alert:1", outbox.KindAlertRaised, alertPayload(t, 1)))

	pub := &fakePublisher{fail: 10}
	r := newRunner(t, repo, pub)
	r.Tick(context.Background())

	assert.Empty(t, repo.done)
	assert.InDelta(t, 1, testutil.ToFloat64(r.mErr), 0)
}

func TestTick_PermanentFailuresAreSettled(t *testing.T) {
	repo := &fakeRepo{}
	ctx := context.Background()
	require.NoError(t, repo.Enqueue(ctx, "alert:bad", outbox.KindAlertRaised, []byte("{not json")))
	require.NoError(t, repo.Enqueue(ctx, "other:1", outbox.Kind(99), []byte("{}")))

	pub := &fakePublisher{}
	r := newRunner(t, repo, pub)
	r.Tick(ctx)

	assert.ElementsMatch(t, []string{"alert:bad", "other:1"}, repo.done)
	assert.Empty(t, pub.got)
	assert.InDelta(t, 2, testutil.ToFloat64(r.mErr), 0)
}

func TestTick_PickError(t *testing.T) {
	repo := &fakeRepo{pickErr: errors.New("db down")}
	r := newRunner(t, repo, &fakePublisher{})
	r.Tick(context.Background())
	assert.InDelta(t, 1, testutil.ToFloat64(r.mErr), 0)
}

func TestStart_ReturnsOnCancel(t *testing.T) {
	repo := &fakeRepo{}
	require.NoError(t, repo.Enqueue(context.Background(), "alert:1", outbox.KindAlertRaised, alertPayload(t, 1)))
	pub := &fakePublisher{}
	r := NewOutboxRunner(zaptest.NewLogger(t), repo, MakeGlobalOutboxHandler(pub, quickPolicy()),
		Config{Workers: 2, Wait: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.done) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
