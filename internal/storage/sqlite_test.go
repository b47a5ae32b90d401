package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func f(v float64) *float64 { return &v }

func TestInsertEntryStampsIDAndTimestamp(t *testing.T) {
	store := setupTestStore(t)

	entry := &ProgressEntry{
		EntryType: EntryEvent,
		EntryDate: "2026-08-30",
		Source:    SourceManual,
		Title:     "Started morning walks",
	}
	require.NoError(t, store.InsertEntry(entry))

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.EntryTS.IsZero())

	entries, err := store.ListEntries(0, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.Equal(t, "Started morning walks", entries[0].Title)
	assert.Nil(t, entries[0].Metrics)
}

func TestListEntriesNewestFirst(t *testing.T) {
	store := setupTestStore(t)

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertEntry(&ProgressEntry{
			EntryType: EntryEvent,
			EntryDate: "2026-08-28",
			Source:    SourceManual,
			Title:     "entry",
			EntryTS:   base.Add(time.Duration(i) * time.Hour),
		}))
	}

	entries, err := store.ListEntries(0, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].EntryTS.After(entries[1].EntryTS))
	assert.True(t, entries[1].EntryTS.After(entries[2].EntryTS))

	limited, err := store.ListEntries(2, time.Time{})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	since, err := store.ListEntries(0, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Len(t, since, 1)
}

func TestListEntriesStableOrderOnEqualTimestamps(t *testing.T) {
	store := setupTestStore(t)

	ts := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	first := &ProgressEntry{EntryType: EntryEvent, EntryDate: "2026-08-28", Source: SourceManual, Title: "first", EntryTS: ts}
	second := &ProgressEntry{EntryType: EntryEvent, EntryDate: "2026-08-28", Source: SourceManual, Title: "second", EntryTS: ts}
	require.NoError(t, store.InsertEntry(first))
	require.NoError(t, store.InsertEntry(second))

	entries, err := store.ListEntries(0, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Same entry_ts; the later insert wins the tie.
	assert.Equal(t, "second", entries[0].Title)
	assert.Equal(t, "first", entries[1].Title)
}

func TestLatestEntryWithMetricsSkipsMetricless(t *testing.T) {
	store := setupTestStore(t)

	latest, err := store.LatestEntryWithMetrics()
	require.NoError(t, err)
	assert.Nil(t, latest)

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertEntry(&ProgressEntry{
		EntryType: EntryMeasurement,
		EntryDate: "2026-08-28",
		Source:    SourceWithings,
		Title:     "with metrics",
		Metrics:   &Snapshot{WeightKg: f(82.5)},
		EntryTS:   base,
	}))
	require.NoError(t, store.InsertEntry(&ProgressEntry{
		EntryType: EntryEvent,
		EntryDate: "2026-08-29",
		Source:    SourceManual,
		Title:     "no metrics",
		EntryTS:   base.Add(time.Hour),
	}))
	// All-null metrics persist as NULL, so they never count as latest.
	require.NoError(t, store.InsertEntry(&ProgressEntry{
		EntryType: EntryEvent,
		EntryDate: "2026-08-29",
		Source:    SourceManual,
		Title:     "empty metrics",
		Metrics:   &Snapshot{},
		EntryTS:   base.Add(2 * time.Hour),
	}))

	latest, err = store.LatestEntryWithMetrics()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "with metrics", latest.Title)
	require.NotNil(t, latest.Metrics)
	require.NotNil(t, latest.Metrics.WeightKg)
	assert.Equal(t, 82.5, *latest.Metrics.WeightKg)
}

func TestEntryRoundTripPreservesNestedFields(t *testing.T) {
	store := setupTestStore(t)

	entry := &ProgressEntry{
		EntryType:        EntryDecision,
		EntryDate:        "2026-08-30",
		Source:           SourceAgent,
		Title:            "Reduce evening snacks",
		Summary:          "Weight trending up",
		ImpactAssessment: "moderate",
		Confidence:       "high",
		Metrics:          &Snapshot{WeightKg: f(83.1), SleepDurationMinutes: f(412)},
		DeltaVsBaseline:  map[string]*float64{"weight_kg": f(1.1), "hrv": nil},
		Consent:          &Consent{Status: "granted", GrantedAt: "2026-08-30T18:00:00Z", Scope: "nutrition"},
	}
	require.NoError(t, store.InsertEntry(entry))

	entries, err := store.ListEntries(1, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, "Weight trending up", got.Summary)
	assert.Equal(t, "high", got.Confidence)
	require.NotNil(t, got.Metrics)
	assert.Equal(t, 412.0, *got.Metrics.SleepDurationMinutes)
	assert.Nil(t, got.Metrics.HeartPulseBpm)
	require.NotNil(t, got.Consent)
	assert.Equal(t, "granted", got.Consent.Status)
	require.Contains(t, got.DeltaVsBaseline, "hrv")
	assert.Nil(t, got.DeltaVsBaseline["hrv"])
	assert.Equal(t, 1.1, *got.DeltaVsBaseline["weight_kg"])
}

func TestTokenSingletonUpsert(t *testing.T) {
	store := setupTestStore(t)

	rec, err := store.GetToken()
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, store.SaveToken(&TokenRecord{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    1000,
	}))
	require.NoError(t, store.SaveToken(&TokenRecord{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresAt:    2000,
	}))

	rec, err = store.GetToken()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "access-2", rec.AccessToken)
	assert.Equal(t, "refresh-2", rec.RefreshToken)
	assert.Equal(t, int64(2000), rec.ExpiresAt)
}

func TestSnapshotHasData(t *testing.T) {
	var nilSnap *Snapshot
	assert.False(t, nilSnap.HasData())
	assert.False(t, (&Snapshot{}).HasData())
	assert.True(t, (&Snapshot{HRV: f(48)}).HasData())
}
