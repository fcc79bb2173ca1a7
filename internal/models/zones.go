package models

// ZoneName labels an operating band of the flow axis.
type ZoneName string

const (
	ZoneOptimal    ZoneName = "optimal"
	ZoneAcceptable ZoneName = "acceptable"
	ZoneDangerLow  ZoneName = "danger_low"
	ZoneDangerHigh ZoneName = "danger_high"
)

// Risk tags attached to the dangerous bands.
const (
	RiskCavitation       = "cavitation"
	RiskExcessRadialLoad = "excess_radial_load"
	RiskLowEfficiency    = "low_efficiency"
	RiskOverload         = "overload"
	RiskBearingWear      = "bearing_wear"
	RiskVibration        = "vibration"
)

// FlowRange is a closed interval on the flow axis.
type FlowRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether flow lies in [Min, Max].
func (r FlowRange) Contains(flow float64) bool {
	return flow >= r.Min && flow <= r.Max
}

// Width returns Max-Min, or 0 for an empty range.
func (r FlowRange) Width() float64 {
	if r.Max < r.Min {
		return 0
	}
	return r.Max - r.Min
}

// Zone is a flow band with the risks of operating inside it.
type Zone struct {
	Name     ZoneName  `json:"name"`
	Range    FlowRange `json:"range"`
	RiskTags []string  `json:"risk_tags,omitempty"`
}

// OperatingZones partitions a curve's flow axis around the best efficiency point.
type OperatingZones struct {
	BEPIndex      int     `json:"bep_index"`
	BEPFlow       float64 `json:"bep_flow"`
	BEPEfficiency float64 `json:"bep_efficiency"`
	Optimal       Zone    `json:"optimal"`
	Acceptable    Zone    `json:"acceptable"`
	DangerLow     Zone    `json:"danger_low"`
	DangerHigh    Zone    `json:"danger_high"`
}

// Classify returns the zone a flow falls into. Optimal wins over acceptable.
func (z OperatingZones) Classify(flow float64) ZoneName {
	switch {
	case z.Optimal.Range.Contains(flow):
		return ZoneOptimal
	case z.Acceptable.Range.Contains(flow):
		return ZoneAcceptable
	case flow < z.Acceptable.Range.Min:
		return ZoneDangerLow
	default:
		return ZoneDangerHigh
	}
}
