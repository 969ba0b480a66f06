package mockbackend

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/plantwatch/console/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures/default.yaml
var defaultFixtures []byte

// Fixtures seed the mock backend's state, keyed by operator username where
// the real backend is per-operator.
type Fixtures struct {
	Plants    map[string]models.PlantRecord `yaml:"plants"`
	Faults    map[string][]FaultFixture     `yaml:"faults"`
	Machines  []models.MachineStatus        `yaml:"machines"`
	Analytics map[string]AnalyticsFixture   `yaml:"analytics"`
}

type FaultFixture struct {
	ID          string `yaml:"fault_id"`
	MachineName string `yaml:"machine_name"`
	FaultTime   string `yaml:"fault_time"`
}

// AnalyticsFixture carries the scalar part of an analytics result. Series and
// plots are not served by the mock.
type AnalyticsFixture struct {
	MachineName          string         `yaml:"machine_name"`
	RunningPercentage    float64        `yaml:"running_percentage"`
	NotRunningPercentage float64        `yaml:"not_running_percentage"`
	HealthyPercentage    float64        `yaml:"healthy_percentage"`
	FaultyPercentage     float64        `yaml:"faulty_percentage"`
	NilPercentage        float64        `yaml:"nil_percentage"`
	FaultCounts          map[string]int `yaml:"fault_counts"`
}

func (a AnalyticsFixture) result() models.MachineAnalytics {
	counts := make(map[string]int, len(a.FaultCounts))
	for k, v := range a.FaultCounts {
		counts[k] = v
	}
	return models.MachineAnalytics{
		MachineName:          a.MachineName,
		RunningPercentage:    a.RunningPercentage,
		NotRunningPercentage: a.NotRunningPercentage,
		HealthyPercentage:    a.HealthyPercentage,
		FaultyPercentage:     a.FaultyPercentage,
		NilPercentage:        a.NilPercentage,
		FaultCounts:          counts,
	}
}

// ParseFixtures decodes YAML fixtures.
func ParseFixtures(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixtures: %w", err)
	}
	for user, faults := range f.Faults {
		for i, fault := range faults {
			if _, err := models.ParseTimestamp(fault.FaultTime); err != nil {
				return nil, fmt.Errorf("fixtures: fault %d of %s: %w", i, user, err)
			}
		}
	}
	return &f, nil
}

// LoadFixtures reads YAML fixtures from path.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// DefaultFixtures returns the built-in demo data.
func DefaultFixtures() *Fixtures {
	f, err := ParseFixtures(defaultFixtures)
	if err != nil {
		panic(err)
	}
	return f
}
