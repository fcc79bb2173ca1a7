package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BaseMetrics are the year-0 operating figures a degradation forecast starts from.
// Zero performance fields are filled from the curve's best efficiency point.
type BaseMetrics struct {
	Efficiency            float64         `json:"efficiency" validate:"gte=0,lte=100"`
	Power                 float64         `json:"power" validate:"gte=0"`
	Flow                  float64         `json:"flow" validate:"gte=0"`
	Head                  float64         `json:"head" validate:"gte=0"`
	OperatingHoursPerYear float64         `json:"operating_hours_per_year" validate:"gte=0,lte=8784"`
	ElectricityRate       decimal.Decimal `json:"electricity_rate"`
	InitialCost           decimal.Decimal `json:"initial_cost"`
	BaseMaintenanceCost   decimal.Decimal `json:"base_maintenance_cost"`
}

// YearlySnapshot is the predicted state of the pump at the end of a service year.
type YearlySnapshot struct {
	Year            int             `json:"year"`
	Efficiency      float64         `json:"efficiency"`
	Power           float64         `json:"power"`
	Flow            float64         `json:"flow"`
	Head            float64         `json:"head"`
	WearFactor      float64         `json:"wear_factor"`
	Degradation     float64         `json:"degradation"`
	Reliability     float64         `json:"reliability"`
	MaintenanceCost decimal.Decimal `json:"maintenance_cost"`
	EnergyCost      decimal.Decimal `json:"energy_cost"`
}

// LifecycleCostSummary aggregates the forecast costs.
type LifecycleCostSummary struct {
	InitialCost     decimal.Decimal `json:"initial_cost"`
	EnergyCost      decimal.Decimal `json:"energy_cost"`
	MaintenanceCost decimal.Decimal `json:"maintenance_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	NetPresentValue decimal.Decimal `json:"net_present_value"`
	DiscountRate    float64         `json:"discount_rate"`
	AnnualizedCost  decimal.Decimal `json:"annualized_cost"`
}

// DegradationTrend summarises per-metric linear slopes over the forecast horizon.
type DegradationTrend struct {
	EfficiencySlope float64 `json:"efficiency_slope"`
	PowerSlope      float64 `json:"power_slope"`
	FlowSlope       float64 `json:"flow_slope"`
	HeadSlope       float64 `json:"head_slope"`
	// CriticalYear is the first year efficiency falls below the floor; nil if never.
	CriticalYear    *int    `json:"critical_year,omitempty"`
	EfficiencyFloor float64 `json:"efficiency_floor"`
	// HistoryBias is the multiplier applied to the analytic degradation from field history.
	HistoryBias float64 `json:"history_bias"`
}

// Maintenance actions recommended by the forecast.
const (
	ActionContinue = "continue"
	ActionOverhaul = "overhaul"
	ActionReplace  = "replace"
)

// Recommendation is the operator-facing outcome of a forecast.
type Recommendation struct {
	Action string `json:"action"`
	Year   int    `json:"year,omitempty"`
	Reason string `json:"reason"`
}

// DegradationForecast is the full output of the degradation model.
type DegradationForecast struct {
	ID             string               `json:"id"`
	PumpID         string               `json:"pump_id,omitempty"`
	Years          int                  `json:"years"`
	Snapshots      []YearlySnapshot     `json:"snapshots"`
	Lifecycle      LifecycleCostSummary `json:"lifecycle"`
	Trend          DegradationTrend     `json:"trend"`
	Recommendation Recommendation       `json:"recommendation"`
	Synthetic      bool                 `json:"synthetic"`
	GeneratedAt    time.Time            `json:"generated_at"`
}

// MaintenanceRecord is a historical field observation for a pump.
type MaintenanceRecord struct {
	ID              int64           `json:"id" db:"id"`
	PumpID          string          `json:"pump_id" db:"pump_id"`
	RecordedAt      time.Time       `json:"recorded_at" db:"recorded_at"`
	YearsInService  float64         `json:"years_in_service" db:"years_in_service"`
	Efficiency      float64         `json:"efficiency" db:"efficiency"`
	MaintenanceCost decimal.Decimal `json:"maintenance_cost" db:"maintenance_cost"`
	Notes           string          `json:"notes,omitempty" db:"notes"`
}
