package apply

import (
	"context"
	"sync"
	"time"

	"grimm.is/tablectl/internal/config"
)

// Watch re-applies every domain-backed table of cfg on its refresh interval
// until ctx is cancelled. Each refresh opens its own device handle. The
// initial load is left to Apply.
func (s *Service) Watch(ctx context.Context, cfg *config.Config) error {
	var wg sync.WaitGroup
	found := false
	for _, a := range cfg.Anchors {
		for _, t := range a.Tables {
			if len(t.Domains) == 0 {
				continue
			}
			found = true
			wg.Add(1)
			go func(anchor string, t config.Table) {
				defer wg.Done()
				s.manageTable(ctx, cfg, anchor, t, t.Interval())
			}(a.Name, t)
		}
	}

	if !found {
		s.logger.Info("No DNS-backed tables configured")
		return nil
	}

	wg.Wait()
	return ctx.Err()
}

func (s *Service) manageTable(ctx context.Context, cfg *config.Config, anchor string, t config.Table, interval time.Duration) {
	s.logger.Info("Managing DNS table", "anchor", anchor, "table", t.Name, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ApplyTable(ctx, cfg, anchor, t); err != nil {
				s.logger.Error("DNS table refresh failed", "anchor", anchor, "table", t.Name, "error", err)
			}
		}
	}
}
