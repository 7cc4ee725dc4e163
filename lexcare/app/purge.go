package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
)

// purgeTimeout bounds one scheduled purge.
const purgeTimeout = time.Minute

// NewPurgeScheduler returns a stopped cron scheduler that deletes expired turn
// records on spec. Call Start and Stop on the result.
func NewPurgeScheduler(spec string, turns ports.TurnStore, logger zerolog.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()
		// Log but don't fail
		_, _ = PurgeExpired(ctx, turns, time.Now(), logger)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", spec, err)
	}
	return c, nil
}

// PurgeExpired deletes turn records whose TTL has passed.
func PurgeExpired(ctx context.Context, turns ports.TurnStore, now time.Time, logger zerolog.Logger) (int64, error) {
	n, err := turns.PurgeExpired(ctx, now)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to purge expired turns")
		return 0, err
	}
	logger.Info().Int64("purged", n).Msg("Purged expired turns")
	return n, nil
}
