package service

import (
	"context"
	"time"
)

// StartSweeper expires lapsed offers on a fixed interval until the context is
// cancelled. The sweep is idempotent and purely catch-up: reads already
// filter expired offers out, so the sweep only finalizes status for history.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "offer sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "offer sweeper stopped")
			return
		case <-ticker.C:
			expired, err := s.SweepExpiredOffers(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "offer sweep failed", "error", err)
				continue
			}
			if expired > 0 {
				s.logger.InfoContext(ctx, "expired lapsed offers", "count", expired)
			}
		}
	}
}
