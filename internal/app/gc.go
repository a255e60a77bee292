package app

import (
	"time"

	"log/slog"

	"github.com/robfig/cron/v3"
)

// JobReaper is the slice of the job manager the GC schedule needs.
type JobReaper interface {
	Cleanup(maxAge time.Duration) int
}

// StartJobGC schedules periodic removal of terminal jobs older than ttl.
// Returns the running scheduler; callers stop it on shutdown.
func StartJobGC(jobs JobReaper, schedule string, ttl time.Duration) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if removed := jobs.Cleanup(ttl); removed > 0 {
			slog.Info("job gc pass", slog.Int("removed", removed))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
