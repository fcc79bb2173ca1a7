package models

// OperatingPoint is a resolved pump/system intersection or an interpolated curve evaluation.
type OperatingPoint struct {
	Flow       float64  `json:"flow"`
	Head       float64  `json:"head"`
	Power      float64  `json:"power"`
	Efficiency float64  `json:"efficiency"`
	Zone       ZoneName `json:"zone"`
	// HeadMismatch is |pump head - system head| at Flow; zero for plain curve evaluations.
	HeadMismatch float64 `json:"head_mismatch"`
}

// Reasons an operating point could not be resolved.
const (
	NoPointEmptyOverlap     = "empty_overlap"
	NoPointOutsideTolerance = "outside_tolerance"
)

// OperatingPointResult is the transport shape of find_operating_point.
type OperatingPointResult struct {
	Found  bool            `json:"found"`
	Point  *OperatingPoint `json:"point,omitempty"`
	Reason string          `json:"reason,omitempty"`
	// Synthetic marks results computed on a placeholder curve.
	Synthetic bool `json:"synthetic"`
}
