// Package sweeper returns seats of lapsed reservation holds to inventory.
package sweeper

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/store"
	"golang.org/x/sync/errgroup"
)

const leaseKey = "sweeper:lease"

type Expirer interface {
	Expire(ctx context.Context, orderNo string, now time.Time) (bool, error)
}

// Lease lets instances take turns. Holding it is an optimization only: a duplicate
// sweep is harmless because Expire re-checks every order under lock.
type Lease interface {
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
}

type Sweeper struct {
	store       store.Store
	orders      Expirer
	logger      observability.Logger
	batch       int
	concurrency int
	lease       Lease
	owner       string
	now         func() time.Time
}

type Option func(*Sweeper)

func WithBatch(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithLease(l Lease, owner string) Option {
	return func(s *Sweeper) {
		s.lease = l
		s.owner = owner
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func New(st store.Store, orders Expirer, logger observability.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:       st,
		orders:      orders,
		logger:      logger,
		batch:       100,
		concurrency: 4,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep expires every PENDING order whose hold lapsed before now and returns how many it
// expired. Orders that fail are logged and left for the next sweep.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	defer func() { observability.SweepDuration.Observe(time.Since(start).Seconds()) }()

	total := 0
	for {
		ids, err := s.store.ListExpiredOrders(ctx, now, s.batch)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		var expired int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, orderNo := range ids {
			g.Go(func() error {
				ok, err := s.orders.Expire(gctx, orderNo, now)
				if err != nil {
					s.logger.WithError(err).WithField("order_no", orderNo).Warn("expire order failed")
					return nil
				}
				if ok {
					atomic.AddInt64(&expired, 1)
				}
				return nil
			})
		}
		_ = g.Wait()
		total += int(expired)

		// A short page means the backlog is drained; a page with no progress means the rest
		// are failing and will be retried next cycle.
		if len(ids) < s.batch || expired == 0 {
			return total, ctx.Err()
		}
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.WithField("interval", interval.String()).Info("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx, interval)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context, interval time.Duration) {
	if s.lease != nil {
		ok, err := s.lease.AcquireLease(ctx, leaseKey, s.owner, interval)
		if err != nil {
			s.logger.WithError(err).Warn("sweeper lease unavailable, sweeping anyway")
		} else if !ok {
			s.logger.Debug("sweeper lease held elsewhere")
			return
		}
	}
	n, err := s.Sweep(ctx, s.now())
	if err != nil {
		s.logger.WithError(err).Error("expiry sweep failed")
		return
	}
	if n > 0 {
		s.logger.WithField("expired", n).Info("expired orders released")
	}
}
