package models

import (
	"math"
	"time"

	"github.com/irfndi/esp-selector-go/internal/utils"
)

// Curve data sources.
const (
	DataSourceVendor    = "vendor"
	DataSourceField     = "field_test"
	DataSourceSynthetic = "synthetic"
)

// CurvePoint is one measured sample of a pump performance curve.
type CurvePoint struct {
	Flow       float64 `json:"flow" db:"flow"`
	Head       float64 `json:"head" db:"head"`
	Power      float64 `json:"power" db:"power"`
	Efficiency float64 `json:"efficiency" db:"efficiency"`
}

// PerformanceCurve holds ordered (flow, head, power, efficiency) samples of a pump.
// Values are treated as immutable: engine operations always return new curves.
type PerformanceCurve struct {
	PumpID         string       `json:"pump_id" db:"pump_id"`
	Points         []CurvePoint `json:"points" db:"points"`
	RatedFrequency float64      `json:"rated_frequency" db:"rated_frequency"`
	// BaseStages is the stage count the points were measured with (1 for per-stage curves).
	BaseStages int       `json:"base_stages" db:"base_stages"`
	DataSource string    `json:"data_source" db:"data_source"`
	Version    int       `json:"version" db:"version"`
	VersionTag string    `json:"version_tag,omitempty" db:"version_tag"`
	Synthetic  bool      `json:"synthetic"`
	CreatedAt  time.Time `json:"created_at,omitempty" db:"created_at"`
}

// AdjustedCurve is a PerformanceCurve produced for a concrete stage count and drive frequency.
type AdjustedCurve struct {
	PerformanceCurve
	Stages    int     `json:"stages"`
	Frequency float64 `json:"frequency"`
	Strategy  string  `json:"strategy"`
}

// NewPerformanceCurve copies the supplied points and validates the curve invariants.
// A zero baseStages defaults to 1.
func NewPerformanceCurve(pumpID string, points []CurvePoint, ratedFrequency float64, baseStages int) (*PerformanceCurve, error) {
	if baseStages == 0 {
		baseStages = 1
	}
	curve := &PerformanceCurve{
		PumpID:         pumpID,
		Points:         append([]CurvePoint(nil), points...),
		RatedFrequency: ratedFrequency,
		BaseStages:     baseStages,
		DataSource:     DataSourceVendor,
	}
	if err := curve.Validate(); err != nil {
		return nil, err
	}
	return curve, nil
}

// Validate checks the structural invariants of the curve.
func (c *PerformanceCurve) Validate() error {
	if len(c.Points) < 2 {
		return utils.InvalidCurvef("need at least 2 points, got %d", len(c.Points))
	}
	if !(c.RatedFrequency > 0) || math.IsInf(c.RatedFrequency, 0) {
		return utils.InvalidCurvef("rated frequency must be positive, got %v", c.RatedFrequency)
	}
	if c.BaseStages < 1 {
		return utils.InvalidCurvef("base stages must be >= 1, got %d", c.BaseStages)
	}
	for i, p := range c.Points {
		if !finite(p.Flow) || !finite(p.Head) || !finite(p.Power) || !finite(p.Efficiency) {
			return utils.InvalidCurvef("non-finite sample at index %d", i)
		}
		if p.Flow < 0 {
			return utils.InvalidCurvef("negative flow %v at index %d", p.Flow, i)
		}
		if p.Head < 0 || p.Power < 0 || p.Efficiency < 0 {
			return utils.InvalidCurvef("negative head/power/efficiency at index %d", i)
		}
		if p.Efficiency > 100 {
			return utils.InvalidCurvef("efficiency %v above 100 at index %d", p.Efficiency, i)
		}
		if i > 0 && p.Flow <= c.Points[i-1].Flow {
			return utils.InvalidCurvef("flow not strictly increasing at index %d", i)
		}
	}
	return nil
}

// Clone returns a deep copy of the curve.
func (c *PerformanceCurve) Clone() *PerformanceCurve {
	out := *c
	out.Points = append([]CurvePoint(nil), c.Points...)
	return &out
}

func (c *PerformanceCurve) Flows() []float64 {
	return c.column(func(p CurvePoint) float64 { return p.Flow })
}

func (c *PerformanceCurve) Heads() []float64 {
	return c.column(func(p CurvePoint) float64 { return p.Head })
}

func (c *PerformanceCurve) Powers() []float64 {
	return c.column(func(p CurvePoint) float64 { return p.Power })
}

func (c *PerformanceCurve) Efficiencies() []float64 {
	return c.column(func(p CurvePoint) float64 { return p.Efficiency })
}

func (c *PerformanceCurve) column(get func(CurvePoint) float64) []float64 {
	out := make([]float64, len(c.Points))
	for i, p := range c.Points {
		out[i] = get(p)
	}
	return out
}

// MinFlow returns the lowest sampled flow.
func (c *PerformanceCurve) MinFlow() float64 {
	return c.Points[0].Flow
}

// MaxFlow returns the highest sampled flow.
func (c *PerformanceCurve) MaxFlow() float64 {
	return c.Points[len(c.Points)-1].Flow
}

// BEPIndex returns the index of the best efficiency point. Ties resolve to the lowest flow.
func (c *PerformanceCurve) BEPIndex() int {
	best := 0
	for i, p := range c.Points {
		if p.Efficiency > c.Points[best].Efficiency {
			best = i
		}
	}
	return best
}

// BEP returns the best efficiency point sample.
func (c *PerformanceCurve) BEP() CurvePoint {
	return c.Points[c.BEPIndex()]
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
