package audit

import (
	"github.com/robfig/cron/v3"
)

// StartRetentionSchedule re-runs the retention sweep every night so a
// long-lived session does not accumulate past the horizon. Returns the
// scheduler; callers stop it on shutdown.
func (s *Store) StartRetentionSchedule(retentionDays int) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc("@midnight", func() {
		deleted, err := s.Sweep(retentionDays)
		if err != nil {
			s.logger.Warn("scheduled retention sweep failed", "error", err)
			return
		}
		if deleted > 0 {
			s.logger.Info("scheduled retention sweep", "deleted", deleted)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
