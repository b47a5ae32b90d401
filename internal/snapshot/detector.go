package snapshot

import (
	"fmt"
	"math"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
)

// Per-metric significance thresholds. Any single crossing triggers
// re-analysis; there is no weighted score.
const (
	WeightThresholdKg  = 0.5
	RHRThresholdBpm    = 5.0
	HRVThresholdPct    = 10.0
	SleepThresholdMins = 60.0
)

// ChangeResult is the outcome of comparing a new snapshot against the most
// recently persisted one.
type ChangeResult struct {
	Triggered bool               `json:"triggered"`
	Reasons   []string           `json:"reasons,omitempty"`
	Deltas    map[string]float64 `json:"deltas"`
}

// DetectChange compares the new snapshot against the prior persisted metrics.
// A nil prior means cold start, which always triggers. A delta is zero when
// either side is null: missing data never counts as change. HRV is compared
// as a percentage of the prior value, the rest as absolute deltas.
func DetectChange(prior, next *storage.Snapshot) ChangeResult {
	if prior == nil {
		return ChangeResult{
			Triggered: true,
			Reasons:   []string{"no prior measurement history"},
			Deltas:    map[string]float64{},
		}
	}

	res := ChangeResult{Deltas: map[string]float64{}}

	weight := delta(prior.WeightKg, next.WeightKg)
	res.Deltas["weight_kg"] = weight
	if math.Abs(weight) >= WeightThresholdKg {
		res.Reasons = append(res.Reasons, fmt.Sprintf("weight changed %.2f kg", weight))
	}

	rhr := delta(prior.HeartPulseBpm, next.HeartPulseBpm)
	res.Deltas["heart_pulse_bpm"] = rhr
	if math.Abs(rhr) >= RHRThresholdBpm {
		res.Reasons = append(res.Reasons, fmt.Sprintf("resting heart rate changed %.1f bpm", rhr))
	}

	hrvPct := percentDelta(prior.HRV, next.HRV)
	res.Deltas["hrv_pct"] = hrvPct
	if math.Abs(hrvPct) >= HRVThresholdPct {
		res.Reasons = append(res.Reasons, fmt.Sprintf("HRV changed %.1f%%", hrvPct))
	}

	sleep := delta(prior.SleepDurationMinutes, next.SleepDurationMinutes)
	res.Deltas["sleep_duration_minutes"] = sleep
	if math.Abs(sleep) >= SleepThresholdMins {
		res.Reasons = append(res.Reasons, fmt.Sprintf("sleep duration changed %.0f min", sleep))
	}

	res.Triggered = len(res.Reasons) > 0
	return res
}

func delta(prior, next *float64) float64 {
	if prior == nil || next == nil {
		return 0
	}
	return *next - *prior
}

func percentDelta(prior, next *float64) float64 {
	if prior == nil || next == nil || *prior == 0 {
		return 0
	}
	return (*next - *prior) / *prior * 100
}
