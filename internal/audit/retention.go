package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// StartRetentionLoop schedules a daily prune of audit events older than
// retentionDays. Returns a stop function. retentionDays <= 0 disables
// pruning and returns a no-op stop.
func StartRetentionLoop(store *Store, retentionDays int) (stop func()) {
	if retentionDays <= 0 {
		return func() {}
	}

	c := cron.New()
	_, err := c.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		n, err := store.Prune(ctx, cutoff)
		if err != nil {
			log.Warn().Err(err).Msg("audit_retention_prune_failed")
			return
		}
		if n > 0 {
			log.Info().Int64("pruned", n).Time("cutoff", cutoff).Msg("audit_retention_pruned")
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("audit_retention_schedule_failed")
		return func() {}
	}

	c.Start()
	return func() { c.Stop() }
}
