package storage

import (
	"fmt"
	"time"
)

// Entry types for progress history rows.
const (
	EntryMeasurement  = "measurement"
	EntryEvent        = "event"
	EntryInsight      = "insight"
	EntryAdherence    = "adherence"
	EntryIntervention = "intervention"
	EntryDecision     = "decision"
)

// Entry sources.
const (
	SourceWithings = "withings"
	SourceManual   = "manual"
	SourceAgent    = "agent"
	SourceUser     = "user"
)

// Snapshot is the canonical per-day mapping of biometric keys to nullable
// values. A field is non-nil only if a matching raw record existed in the
// query window; absence is explicit, never a zero.
type Snapshot struct {
	WeightKg             *float64 `json:"weight_kg"`
	HeartPulseBpm        *float64 `json:"heart_pulse_bpm"`
	SpO2Pct              *float64 `json:"spo2_pct"`
	HRV                  *float64 `json:"hrv"`
	SleepScore           *float64 `json:"sleep_score"`
	SleepDurationMinutes *float64 `json:"sleep_duration_minutes"`
}

// HasData reports whether any snapshot field carries a value.
func (s *Snapshot) HasData() bool {
	if s == nil {
		return false
	}
	return s.WeightKg != nil || s.HeartPulseBpm != nil || s.SpO2Pct != nil ||
		s.HRV != nil || s.SleepScore != nil || s.SleepDurationMinutes != nil
}

// Consent records explicit user approval attached to a decision entry.
type Consent struct {
	Status    string `json:"status"`
	GrantedAt string `json:"granted_at,omitempty"`
	Scope     string `json:"scope,omitempty"`
}

// ProgressEntry is one immutable row of coaching history. Rows are created
// once and never mutated or deleted; history is reconstructed by ordering
// on entry_ts.
type ProgressEntry struct {
	ID               string              `json:"id"`
	EntryType        string              `json:"entry_type"`
	EntryDate        string              `json:"entry_date"`
	Source           string              `json:"source"`
	Title            string              `json:"title"`
	Summary          string              `json:"summary,omitempty"`
	Notes            string              `json:"notes,omitempty"`
	ImpactAssessment string              `json:"impact_assessment,omitempty"`
	Confidence       string              `json:"confidence,omitempty"`
	Metrics          *Snapshot           `json:"metrics,omitempty"`
	DeltaVsBaseline  map[string]*float64 `json:"delta_vs_baseline,omitempty"`
	Consent          *Consent            `json:"consent,omitempty"`
	EntryTS          time.Time           `json:"entry_ts"`
}

// TokenRecord is the singleton OAuth token row. Mutated in place on refresh.
type TokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // absolute epoch milliseconds
}

// PersistenceError wraps a storage failure with the store's native detail so
// callers can alert instead of silently losing history.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store defines the persistence contract for progress history and the
// provider token record.
type Store interface {
	// InsertEntry appends one progress entry, stamping ID and EntryTS
	// server-side when unset.
	InsertEntry(entry *ProgressEntry) error

	// ListEntries returns entries newest-first. A zero since means no lower
	// bound; limit <= 0 means no limit.
	ListEntries(limit int, since time.Time) ([]*ProgressEntry, error)

	// LatestEntryWithMetrics returns the most recent entry whose metrics
	// carry at least one non-null value, or nil when none exists.
	LatestEntryWithMetrics() (*ProgressEntry, error)

	// Token record (singleton). GetToken returns nil when no record exists.
	GetToken() (*TokenRecord, error)
	SaveToken(rec *TokenRecord) error

	Close() error
}
