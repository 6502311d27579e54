package subscription

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically expires subscriptions whose validity window has
// passed. Expiry is conditional on the record still being ACTIVE, so
// overlapping sweeps never double-transition a record.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewSweeper creates an expiration sweeper.
func NewSweeper(service *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	SweepsTotal.Inc()

	count, err := s.service.ExpireDue(ctx)
	if err != nil {
		s.logger.Warn("subscription sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("expired subscriptions", "count", count)
	}
}
