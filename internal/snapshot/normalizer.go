// Package snapshot merges heterogeneous provider measurement groups and sleep
// sessions into one canonical per-day snapshot, and decides when a new
// snapshot differs enough from history to warrant re-analysis.
package snapshot

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/config"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/logging"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
	"github.com/ronkazari-wq/lifemaster-health-api/internal/withings"
)

// measureSyncLookbackDays widens the measurement window behind the target day
// to absorb provider sync lag and timezone skew.
const measureSyncLookbackDays = 3

type metricMapping struct {
	Key  string
	Unit string
}

// metricTable is the fixed type -> (key, unit) mapping. Blood-pressure types
// produce data points but have no snapshot slot.
var metricTable = map[int]metricMapping{
	withings.TypeWeight:      {"weight_kg", "kg"},
	withings.TypeDiastolicBP: {"diastolic_bp_mmhg", "mmHg"},
	withings.TypeSystolicBP:  {"systolic_bp_mmhg", "mmHg"},
	withings.TypeHeartPulse:  {"heart_pulse_bpm", "bpm"},
	withings.TypeSpO2:        {"spo2_pct", "%"},
	withings.TypeHRVSDNN:     {"hrv_sdnn_ms", "ms"},
}

// DataPoint is one normalized, sourced, timestamped raw reading.
type DataPoint struct {
	Key    string      `json:"key"`
	Value  float64     `json:"value"`
	Unit   string      `json:"unit"`
	TS     int64       `json:"ts"` // epoch seconds, provider-reported
	Source string      `json:"source"`
	Raw    interface{} `json:"raw"` // opaque original record for audit
}

// WindowMeta describes the query windows used for one snapshot.
type WindowMeta struct {
	Date         string `json:"date"`
	Timezone     string `json:"timezone"`
	DayStart     int64  `json:"day_start"`
	DayEnd       int64  `json:"day_end"`
	MeasureStart int64  `json:"measure_start"`
	MeasureEnd   int64  `json:"measure_end"`
}

// DebugInfo carries raw counts for the debug view of the daily endpoint.
type DebugInfo struct {
	MeasureGroups int `json:"measure_groups"`
	SleepSessions int `json:"sleep_sessions"`
}

// Result is the normalized outcome for one (date, timezone) query.
type Result struct {
	Snapshot   *storage.Snapshot `json:"snapshot"`
	DataPoints []DataPoint       `json:"data_points"`
	Window     WindowMeta        `json:"window"`
	Debug      DebugInfo         `json:"-"`
}

// Normalizer fetches raw provider records and folds them into snapshots.
type Normalizer struct {
	api    *withings.Client
	policy config.FetchPolicy
}

// NewNormalizer creates a normalizer with the given measurement-fetch policy
func NewNormalizer(api *withings.Client, policy config.FetchPolicy) *Normalizer {
	return &Normalizer{api: api, policy: policy}
}

// ResolveDate parses a target date string ("" and "today" mean the current
// day in loc) into the start of that calendar day.
func ResolveDate(dateStr string, loc *time.Location) (time.Time, error) {
	if dateStr == "" || dateStr == "today" {
		now := time.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc), nil
	}

	parsed, err := time.ParseInLocation("2006-01-02", dateStr, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format, expected YYYY-MM-DD: %q", dateStr)
	}
	return parsed, nil
}

// DailySnapshot produces the canonical snapshot for one calendar day.
// Measurement-fetch errors follow the configured policy; sleep-fetch errors
// are always tolerated so sleep absence never blocks the measurement snapshot.
func (n *Normalizer) DailySnapshot(ctx context.Context, accessToken string, dayStart time.Time, loc *time.Location) (*Result, error) {
	dayEnd := dayStart.AddDate(0, 0, 1)
	measureStart := dayStart.AddDate(0, 0, -measureSyncLookbackDays)
	measureEnd := dayEnd

	result := &Result{
		Snapshot: &storage.Snapshot{},
		Window: WindowMeta{
			Date:         dayStart.Format("2006-01-02"),
			Timezone:     loc.String(),
			DayStart:     dayStart.Unix(),
			DayEnd:       dayEnd.Unix(),
			MeasureStart: measureStart.Unix(),
			MeasureEnd:   measureEnd.Unix(),
		},
	}

	types := make([]int, 0, len(metricTable))
	for t := range metricTable {
		types = append(types, t)
	}
	sort.Ints(types)

	groups, err := n.api.GetMeasures(ctx, accessToken, types, measureStart, measureEnd)
	if err != nil {
		if n.policy == config.FetchStrict {
			return nil, err
		}
		logging.Warn("Measurement fetch failed, continuing with empty result (lenient policy): %v", err)
		groups = nil
	}
	result.Debug.MeasureGroups = len(groups)

	n.foldMeasurements(result, groups)

	sessions, err := n.api.GetSleepSummaries(ctx, accessToken, dayStart.Format("2006-01-02"), dayStart.Format("2006-01-02"))
	if err != nil {
		logging.Warn("Sleep fetch failed, snapshot continues without sleep: %v", err)
		sessions = nil
	}
	result.Debug.SleepSessions = len(sessions)

	n.foldSleep(result, sessions, dayStart, dayEnd)

	return result, nil
}

type retainedReading struct {
	group   withings.MeasureGroup
	measure withings.Measure
}

// foldMeasurements keeps, per metric type, only the reading with the greatest
// group timestamp. When two groups of the same type share that timestamp the
// higher group id wins; this tie-break is deterministic but carries no
// provider-side meaning.
func (n *Normalizer) foldMeasurements(result *Result, groups []withings.MeasureGroup) {
	best := make(map[int]retainedReading)

	for _, grp := range groups {
		for _, m := range grp.Measures {
			if _, known := metricTable[m.Type]; !known {
				continue
			}
			cur, seen := best[m.Type]
			if !seen || grp.Date > cur.group.Date ||
				(grp.Date == cur.group.Date && grp.GrpID > cur.group.GrpID) {
				best[m.Type] = retainedReading{group: grp, measure: m}
			}
		}
	}

	retainedTypes := make([]int, 0, len(best))
	for t := range best {
		retainedTypes = append(retainedTypes, t)
	}
	sort.Ints(retainedTypes)

	for _, t := range retainedTypes {
		r := best[t]
		mapping := metricTable[t]
		value := actualValue(r.measure)

		result.DataPoints = append(result.DataPoints, DataPoint{
			Key:    mapping.Key,
			Value:  value,
			Unit:   mapping.Unit,
			TS:     r.group.Date,
			Source: storage.SourceWithings,
			Raw: map[string]interface{}{
				"grpid": r.group.GrpID,
				"value": r.measure.Value,
				"type":  r.measure.Type,
				"unit":  r.measure.Unit,
			},
		})

		v := value
		switch t {
		case withings.TypeWeight:
			result.Snapshot.WeightKg = &v
		case withings.TypeHeartPulse:
			result.Snapshot.HeartPulseBpm = &v
		case withings.TypeSpO2:
			result.Snapshot.SpO2Pct = &v
		case withings.TypeHRVSDNN:
			result.Snapshot.HRV = &v
		}
	}
}

// foldSleep selects the session with the maximum overlap against the day
// window. Only strictly greater overlap replaces the current best, so the
// first session wins ties, and a zero-overlap session is never selected.
func (n *Normalizer) foldSleep(result *Result, sessions []withings.SleepSummary, dayStart, dayEnd time.Time) {
	var best *withings.SleepSummary
	bestOverlap := int64(0)

	windowStart := dayStart.Unix()
	windowEnd := dayEnd.Unix()

	for i := range sessions {
		s := sessions[i]
		overlap := overlapSeconds(s.StartDate, s.EndDate, windowStart, windowEnd)
		if overlap > bestOverlap {
			best = &sessions[i]
			bestOverlap = overlap
		}
	}

	if best == nil {
		return
	}

	if best.Data.SleepScore != nil {
		score := *best.Data.SleepScore
		result.Snapshot.SleepScore = &score
	}

	durationSec := best.Data.TotalSleepTime
	if durationSec == nil {
		durationSec = best.Data.TotalTimeInBed
	}
	if durationSec != nil {
		minutes := math.Round(*durationSec / 60)
		result.Snapshot.SleepDurationMinutes = &minutes
	}
}

// actualValue decodes the provider's power-of-ten encoding
func actualValue(m withings.Measure) float64 {
	return float64(m.Value) * math.Pow(10, float64(m.Unit))
}

func overlapSeconds(start, end, windowStart, windowEnd int64) int64 {
	lo := start
	if windowStart > lo {
		lo = windowStart
	}
	hi := end
	if windowEnd < hi {
		hi = windowEnd
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}
