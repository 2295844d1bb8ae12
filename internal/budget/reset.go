package budget

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Start begins the periodic tracker-reset scheduler (spec.md §4.I
// "Resets": daily at local midnight, weekly on the week boundary, monthly
// on the month boundary). Runs every minute and is idempotent within a
// given minute via the last*Reset markers so a missed or duplicate tick
// never double-resets a window.
func (e *Engine) Start() {
	e.cron = cron.New()
	_, _ = e.cron.AddFunc("* * * * *", e.runResetTick)
	e.cron.Start()
}

// Stop halts the reset scheduler.
func (e *Engine) Stop() {
	if e.cron != nil {
		e.cron.Stop()
	}
}

func (e *Engine) runResetTick() {
	now := time.Now()
	marker := now.Format("2006-01-02")

	if now.Hour() == 0 && now.Minute() == 0 && e.lastDailyReset != marker {
		if err := e.store.ResetDailyTrackers(context.Background(), now); err != nil {
			e.logger.Error().Err(err).Msg("daily tracker reset failed")
		} else {
			e.lastDailyReset = marker
			e.logger.Info().Msg("daily spending trackers reset")
		}
	}

	if now.Weekday() == time.Monday && now.Hour() == 0 && now.Minute() == 0 && e.lastWeeklyReset != marker {
		if err := e.store.ResetWeeklyTrackers(context.Background(), now); err != nil {
			e.logger.Error().Err(err).Msg("weekly tracker reset failed")
		} else {
			e.lastWeeklyReset = marker
			e.logger.Info().Msg("weekly spending trackers reset")
		}
	}

	if now.Day() == 1 && now.Hour() == 0 && now.Minute() == 0 && e.lastMonthlyReset != marker {
		if err := e.store.ResetMonthlyTrackers(context.Background(), now); err != nil {
			e.logger.Error().Err(err).Msg("monthly tracker reset failed")
		} else {
			e.lastMonthlyReset = marker
			e.logger.Info().Msg("monthly spending trackers reset")
		}
	}
}
