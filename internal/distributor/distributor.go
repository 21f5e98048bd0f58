// Package distributor pushes a user's full appointment list to live readers
// whenever the notify bus signals a change for that user.
package distributor

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"appointment-sync/internal/model"
	"appointment-sync/internal/notify"
)

type Lister interface {
	ListAppointments(ctx context.Context, userID string) ([]model.Appointment, error)
}

type Syncer interface {
	Sync(ctx context.Context, userID string) (int, error)
}

type Distributor struct {
	bus    notify.Bus
	store  Lister
	syncer Syncer
	logger zerolog.Logger

	mu    sync.Mutex
	swept map[string]bool
}

func New(bus notify.Bus, st Lister, syncer Syncer, logger zerolog.Logger) *Distributor {
	return &Distributor{
		bus:    bus,
		store:  st,
		syncer: syncer,
		logger: logger.With().Str("component", "distributor").Logger(),
		swept:  map[string]bool{},
	}
}

// claimSweep reports whether this is the first subscription for userID in
// this process.
func (d *Distributor) claimSweep(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.swept[userID] {
		return false
	}
	d.swept[userID] = true
	return true
}

// releaseSweep lets the next subscription for userID sweep again after a
// failed or abandoned one.
func (d *Distributor) releaseSweep(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.swept, userID)
}

// Subscribe calls fn with the user's current list, then again after every
// change. Calls for one subscription never overlap. The subscription ends
// when ctx is done or the returned func is called.
func (d *Distributor) Subscribe(ctx context.Context, userID string, fn func([]model.Appointment)) (func(), error) {
	if userID == "" {
		return nil, errors.New("subscribe: empty user id")
	}
	signals, unsub := d.bus.Subscribe(userID)
	ctx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			unsub()
		})
	}

	sweep := d.claimSweep(userID)
	go func() {
		defer stop()
		if sweep && d.syncer != nil {
			if n, err := d.syncer.Sync(ctx, userID); err != nil {
				d.releaseSweep(userID)
				d.logger.Warn().Err(err).Str("user_id", userID).Msg("initial sweep failed")
			} else {
				d.logger.Debug().Str("user_id", userID).Int("synced", n).Msg("initial sweep done")
			}
		}
		d.emit(ctx, userID, fn)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				d.emit(ctx, userID, fn)
			}
		}
	}()
	return stop, nil
}

func (d *Distributor) emit(ctx context.Context, userID string, fn func([]model.Appointment)) {
	if ctx.Err() != nil {
		return
	}
	list, err := d.store.ListAppointments(ctx, userID)
	if err != nil {
		d.logger.Warn().Err(err).Str("user_id", userID).Msg("list failed")
		return
	}
	if list == nil {
		list = []model.Appointment{}
	}
	fn(list)
}
