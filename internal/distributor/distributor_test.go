package distributor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appointment-sync/internal/distributor"
	"appointment-sync/internal/model"
	"appointment-sync/internal/notify"
	"appointment-sync/internal/reconcile"
	"appointment-sync/internal/store"
)

type countingSyncer struct {
	calls atomic.Int32
	err   error
}

func (s *countingSyncer) Sync(context.Context, string) (int, error) {
	s.calls.Add(1)
	return 0, s.err
}

type collector struct {
	mu    sync.Mutex
	lists [][]model.Appointment
}

func (c *collector) add(l []model.Appointment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists = append(c.lists, l)
}

func (c *collector) last() []model.Appointment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lists) == 0 {
		return nil
	}
	return c.lists[len(c.lists)-1]
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lists)
}

func appt(uri string, status model.Status) model.Appointment {
	start := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	return model.Appointment{UserID: "u1", EventURI: uri, StartTime: start, EndTime: start.Add(time.Hour), Status: status}
}

func TestFirstSubscribeSweepsOnce(t *testing.T) {
	hub := notify.NewHub()
	syncer := &countingSyncer{}
	d := distributor.New(hub, store.NewMemory(), syncer, zerolog.Nop())

	var a, b collector
	stopA, err := d.Subscribe(context.Background(), "u1", a.add)
	require.NoError(t, err)
	defer stopA()
	stopB, err := d.Subscribe(context.Background(), "u1", b.add)
	require.NoError(t, err)
	defer stopB()

	require.Eventually(t, func() bool { return a.len() > 0 && b.len() > 0 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, syncer.calls.Load())
	assert.Empty(t, a.last())
}

func TestSweepFailureStillEmits(t *testing.T) {
	syncer := &countingSyncer{err: errors.New("provider down")}
	d := distributor.New(notify.NewHub(), store.NewMemory(), syncer, zerolog.Nop())

	var c collector
	stop, err := d.Subscribe(context.Background(), "u1", c.add)
	require.NoError(t, err)
	defer stop()
	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFailedSweepIsRetriedOnNextSubscribe(t *testing.T) {
	syncer := &countingSyncer{err: errors.New("provider down")}
	d := distributor.New(notify.NewHub(), store.NewMemory(), syncer, zerolog.Nop())

	var a collector
	stopA, err := d.Subscribe(context.Background(), "u1", a.add)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.len() == 1 }, time.Second, 5*time.Millisecond)
	stopA()

	var b collector
	stopB, err := d.Subscribe(context.Background(), "u1", b.add)
	require.NoError(t, err)
	defer stopB()
	require.Eventually(t, func() bool { return b.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, syncer.calls.Load())
}

func TestCanceledSweepIsRetriedOnNextSubscribe(t *testing.T) {
	syncer := &blockingSyncer{started: make(chan struct{}, 2)}
	d := distributor.New(notify.NewHub(), store.NewMemory(), syncer, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	stopA, err := d.Subscribe(ctx, "u1", func([]model.Appointment) {})
	require.NoError(t, err)
	defer stopA()
	<-syncer.started
	cancel()

	// the released claim is visible once the first sweep has returned
	require.Eventually(t, func() bool {
		var c collector
		stop, err := d.Subscribe(context.Background(), "u1", c.add)
		if err != nil {
			return false
		}
		defer stop()
		select {
		case <-syncer.started:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

// blockingSyncer blocks until its context is done.
type blockingSyncer struct {
	started chan struct{}
}

func (s *blockingSyncer) Sync(ctx context.Context, _ string) (int, error) {
	s.started <- struct{}{}
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestReemitsOnChange(t *testing.T) {
	hub := notify.NewHub()
	st := store.NewMemory()
	rec := reconcile.New(st, hub, zerolog.Nop())
	d := distributor.New(hub, st, nil, zerolog.Nop())

	var c collector
	stop, err := d.Subscribe(context.Background(), "u1", c.add)
	require.NoError(t, err)
	defer stop()
	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)

	_, err = rec.Reconcile(context.Background(), appt("e1", model.StatusBooked))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(c.last()) == 1 }, time.Second, 5*time.Millisecond)

	_, err = rec.Reconcile(context.Background(), appt("e1", model.StatusCanceled))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		l := c.last()
		return len(l) == 1 && l[0].Status == model.StatusCanceled
	}, time.Second, 5*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := notify.NewHub()
	d := distributor.New(hub, store.NewMemory(), nil, zerolog.Nop())

	var c collector
	stop, err := d.Subscribe(context.Background(), "u1", c.add)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)

	stop()
	stop()
	require.Eventually(t, func() bool { return hub.Subscribers("u1") == 0 }, time.Second, 5*time.Millisecond)
	hub.Dispatch("u1")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.len())
}

func TestContextCancelEndsSubscription(t *testing.T) {
	hub := notify.NewHub()
	d := distributor.New(hub, store.NewMemory(), nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := d.Subscribe(ctx, "u1", func([]model.Appointment) {})
	require.NoError(t, err)
	cancel()
	require.Eventually(t, func() bool { return hub.Subscribers("u1") == 0 }, time.Second, 5*time.Millisecond)
}
