package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Profile is the coaching context injected into analyzer prompts: baseline
// biometrics, goals and constraints. Loaded once at startup, never a hidden
// literal inside a prompt string.
type Profile struct {
	Name     string   `yaml:"name"`
	Age      int      `yaml:"age"`
	HeightCm float64  `yaml:"height_cm"`
	Goals    []string `yaml:"goals"`

	Baseline struct {
		WeightKg      *float64 `yaml:"weight_kg"`
		RestingHRBpm  *float64 `yaml:"resting_hr_bpm"`
		HRVMs         *float64 `yaml:"hrv_ms"`
		SleepHours    *float64 `yaml:"sleep_hours"`
		TargetWeight  *float64 `yaml:"target_weight_kg"`
		TargetSleepHr *float64 `yaml:"target_sleep_hours"`
	} `yaml:"baseline"`

	Constraints []string `yaml:"constraints"`
}

// DefaultProfile is used when no profile file is configured.
func DefaultProfile() *Profile {
	p := &Profile{
		Goals: []string{
			"gradual fat loss while preserving lean mass",
			"improve sleep consistency",
		},
		Constraints: []string{
			"no crash diets",
			"training volume changes must be gradual",
		},
	}
	return p
}

// LoadProfile reads the coaching profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return DefaultProfile(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid profile yaml: %w", err)
	}
	return &p, nil
}

// PromptContext renders the profile as prompt-ready plain text.
func (p *Profile) PromptContext() string {
	var b strings.Builder

	if p.Name != "" {
		fmt.Fprintf(&b, "Client: %s", p.Name)
		if p.Age > 0 {
			fmt.Fprintf(&b, ", age %d", p.Age)
		}
		if p.HeightCm > 0 {
			fmt.Fprintf(&b, ", %.0f cm", p.HeightCm)
		}
		b.WriteString("\n")
	}

	baseline := []string{}
	if v := p.Baseline.WeightKg; v != nil {
		baseline = append(baseline, fmt.Sprintf("weight %.1f kg", *v))
	}
	if v := p.Baseline.RestingHRBpm; v != nil {
		baseline = append(baseline, fmt.Sprintf("resting HR %.0f bpm", *v))
	}
	if v := p.Baseline.HRVMs; v != nil {
		baseline = append(baseline, fmt.Sprintf("HRV %.0f ms", *v))
	}
	if v := p.Baseline.SleepHours; v != nil {
		baseline = append(baseline, fmt.Sprintf("sleep %.1f h/night", *v))
	}
	if len(baseline) > 0 {
		fmt.Fprintf(&b, "Baseline: %s\n", strings.Join(baseline, ", "))
	}

	targets := []string{}
	if v := p.Baseline.TargetWeight; v != nil {
		targets = append(targets, fmt.Sprintf("weight %.1f kg", *v))
	}
	if v := p.Baseline.TargetSleepHr; v != nil {
		targets = append(targets, fmt.Sprintf("sleep %.1f h/night", *v))
	}
	if len(targets) > 0 {
		fmt.Fprintf(&b, "Targets: %s\n", strings.Join(targets, ", "))
	}

	if len(p.Goals) > 0 {
		fmt.Fprintf(&b, "Goals:\n")
		for _, g := range p.Goals {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	if len(p.Constraints) > 0 {
		fmt.Fprintf(&b, "Constraints:\n")
		for _, c := range p.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
