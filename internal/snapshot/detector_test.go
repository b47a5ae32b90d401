package snapshot

import (
	"testing"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/storage"
)

func fp(v float64) *float64 { return &v }

func TestDetectChangeColdStart(t *testing.T) {
	res := DetectChange(nil, &storage.Snapshot{WeightKg: fp(80)})
	if !res.Triggered {
		t.Fatal("Expected cold start to trigger")
	}
	if len(res.Reasons) != 1 || res.Reasons[0] != "no prior measurement history" {
		t.Errorf("Unexpected reasons: %v", res.Reasons)
	}
}

func TestDetectChangeWeightThreshold(t *testing.T) {
	prior := &storage.Snapshot{WeightKg: fp(80.0)}

	res := DetectChange(prior, &storage.Snapshot{WeightKg: fp(80.4)})
	if res.Triggered {
		t.Errorf("0.4 kg delta should not trigger, got reasons %v", res.Reasons)
	}
	if res.Deltas["weight_kg"] != 0.4 {
		t.Errorf("Expected delta 0.4, got %v", res.Deltas["weight_kg"])
	}

	res = DetectChange(prior, &storage.Snapshot{WeightKg: fp(80.5)})
	if !res.Triggered {
		t.Error("0.5 kg delta should trigger at the threshold")
	}

	res = DetectChange(prior, &storage.Snapshot{WeightKg: fp(79.4)})
	if !res.Triggered {
		t.Error("Negative delta past the threshold should trigger")
	}
}

func TestDetectChangeHRVIsPercentBased(t *testing.T) {
	prior := &storage.Snapshot{HRV: fp(50)}

	res := DetectChange(prior, &storage.Snapshot{HRV: fp(54.9)})
	if res.Triggered {
		t.Errorf("9.8%% HRV change should not trigger, got %v", res.Reasons)
	}

	res = DetectChange(prior, &storage.Snapshot{HRV: fp(55)})
	if !res.Triggered {
		t.Error("10% HRV change should trigger")
	}

	// A zero prior HRV cannot produce a percentage.
	res = DetectChange(&storage.Snapshot{HRV: fp(0)}, &storage.Snapshot{HRV: fp(60)})
	if res.Deltas["hrv_pct"] != 0 {
		t.Errorf("Expected zero delta for zero prior, got %v", res.Deltas["hrv_pct"])
	}
}

func TestDetectChangeMissingDataNeverCounts(t *testing.T) {
	prior := &storage.Snapshot{WeightKg: fp(80), HeartPulseBpm: fp(55)}
	next := &storage.Snapshot{HeartPulseBpm: nil, SleepDurationMinutes: fp(400)}

	res := DetectChange(prior, next)
	if res.Triggered {
		t.Errorf("Null-sided metrics should not trigger, got %v", res.Reasons)
	}
	for key, d := range res.Deltas {
		if d != 0 {
			t.Errorf("Expected zero delta for %s, got %v", key, d)
		}
	}
}

func TestDetectChangeMultipleReasons(t *testing.T) {
	prior := &storage.Snapshot{
		WeightKg:             fp(80),
		HeartPulseBpm:        fp(55),
		SleepDurationMinutes: fp(420),
	}
	next := &storage.Snapshot{
		WeightKg:             fp(81),
		HeartPulseBpm:        fp(61),
		SleepDurationMinutes: fp(350),
	}

	res := DetectChange(prior, next)
	if !res.Triggered {
		t.Fatal("Expected trigger")
	}
	if len(res.Reasons) != 3 {
		t.Errorf("Expected 3 reasons, got %v", res.Reasons)
	}
}
