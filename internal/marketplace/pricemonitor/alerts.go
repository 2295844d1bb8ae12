package pricemonitor

import (
	"context"
	"time"

	"github.com/riskgateway/platform/internal/store"
)

// evaluateAlerts walks every active price alert, fetches the current
// cached state for its moment, and triggers any predicate that matches
// (spec.md §4.G: "price_drop/price_increase/volume_spike alert types,
// triggered at most once until reset").
func (m *Monitor) evaluateAlerts(ctx context.Context) error {
	alerts, err := m.store.ListActivePriceAlerts(ctx)
	if err != nil {
		return err
	}

	for _, alert := range alerts {
		if alert.Triggered {
			continue
		}
		state, ok := m.loadState(ctx, alert.MomentID)
		if !ok {
			continue
		}
		if !m.alertMatches(alert, state) {
			continue
		}
		m.triggerAlert(ctx, alert, state)
	}
	return nil
}

func (m *Monitor) alertMatches(alert *store.PriceAlert, state PriceState) bool {
	switch alert.Type {
	case "price_drop":
		return state.Current.LessThan(alert.Threshold)
	case "price_increase":
		return state.Current.GreaterThan(alert.Threshold)
	case "volume_spike":
		mean := state.sevenDayVolumeMean()
		return mean > 0 && float64(state.Volume24h)/mean >= m.cfg.VolumeSpikeMultiple
	default:
		return false
	}
}

func (m *Monitor) triggerAlert(ctx context.Context, alert *store.PriceAlert, state PriceState) {
	now := time.Now().UTC()
	alert.Triggered = true
	alert.TriggeredAt = &now
	alert.Current = state.Current
	alert.Active = false
	alert.UpdatedAt = now

	if err := m.store.UpdatePriceAlert(ctx, alert); err != nil {
		m.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to persist triggered alert")
		return
	}

	m.publish("price_alert_triggered", map[string]any{
		"alertId":  alert.ID,
		"momentId": alert.MomentID,
		"type":     alert.Type,
		"current":  state.Current,
	}, alert.UserID)
}
