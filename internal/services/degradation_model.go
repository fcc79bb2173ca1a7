package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/irfndi/esp-selector-go/internal/config"
	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/internal/utils"
)

const (
	reliabilityBase  = 0.95
	reliabilityDecay = 0.05
	reliabilityFloor = 0.7

	// Performance shifts at full wear.
	wearPowerGain = 0.15
	wearFlowLoss  = 0.10
	wearHeadLoss  = 0.12

	overhaulWear   = 0.8
	historyPeriod  = 3
	minHistoryBias = 0.5
	maxHistoryBias = 2.0
)

// DegradationModel extrapolates pump performance and cost over a multi-year horizon.
type DegradationModel struct {
	DesignLifeYears         float64
	WearCeiling             float64
	DegradationCap          float64
	CriticalEfficiencyRatio float64
	DiscountRate            float64
	MaxYears                int

	// Defaults for base metrics the caller leaves at zero.
	OperatingHoursPerYear float64
	ElectricityRate       decimal.Decimal
	BaseMaintenanceCost   decimal.Decimal
	InitialCost           decimal.Decimal

	logger *slog.Logger
}

// NewDegradationModel creates a model from configuration.
func NewDegradationModel(cfg config.DegradationConfig, logger *slog.Logger) *DegradationModel {
	if logger == nil {
		logger = slog.Default()
	}
	m := &DegradationModel{
		DesignLifeYears:         cfg.DesignLifeYears,
		WearCeiling:             cfg.WearCeiling,
		DegradationCap:          cfg.DegradationCap,
		CriticalEfficiencyRatio: cfg.CriticalEfficiencyRatio,
		DiscountRate:            cfg.DiscountRate,
		MaxYears:                cfg.MaxYears,
		OperatingHoursPerYear:   cfg.OperatingHoursPerYear,
		ElectricityRate:         decimal.NewFromFloat(cfg.ElectricityRate),
		BaseMaintenanceCost:     decimal.NewFromFloat(cfg.BaseMaintenanceCost),
		InitialCost:             decimal.NewFromFloat(cfg.InitialCost),
		logger:                  logger,
	}
	if m.DesignLifeYears <= 0 {
		m.DesignLifeYears = 10
	}
	if m.WearCeiling <= 0 || m.WearCeiling > 1 {
		m.WearCeiling = 0.95
	}
	if m.DegradationCap <= 0 || m.DegradationCap > 1 {
		m.DegradationCap = 0.30
	}
	if m.CriticalEfficiencyRatio <= 0 || m.CriticalEfficiencyRatio > 1 {
		m.CriticalEfficiencyRatio = 0.60
	}
	if m.MaxYears <= 0 {
		m.MaxYears = 50
	}
	return m
}

// WearFactor is the S-shaped cumulative wear at the end of year y. Year 0 is unworn.
func (m *DegradationModel) WearFactor(y int) float64 {
	if y <= 0 {
		return 0
	}
	w := 1 / (1 + math.Exp(-5*(float64(y)/m.DesignLifeYears-0.5)))
	return math.Min(m.WearCeiling, w)
}

// Degradation is the fractional efficiency loss at year y, scaled by bias and capped.
func (m *DegradationModel) Degradation(y int, bias float64) float64 {
	if y <= 0 {
		return 0
	}
	fy := float64(y)
	return math.Min(m.DegradationCap, (0.01*fy+0.002*fy*fy)*bias)
}

// Reliability is the survival probability at year y, floored.
func (m *DegradationModel) Reliability(y int) float64 {
	return math.Max(reliabilityFloor, reliabilityBase*math.Pow(1-reliabilityDecay, float64(y)))
}

// Forecast produces yearly snapshots for years 0..years, lifecycle costs, trends and a
// maintenance recommendation. history may be empty.
func (m *DegradationModel) Forecast(ctx context.Context, curve *models.PerformanceCurve, base models.BaseMetrics, years int, history []models.MaintenanceRecord) (*models.DegradationForecast, error) {
	if years < 0 {
		return nil, utils.InvalidConfigurationf("years must be >= 0, got %d", years)
	}
	if years > m.MaxYears {
		return nil, utils.InvalidConfigurationf("years must be <= %d, got %d", m.MaxYears, years)
	}

	base, err := m.completeBase(curve, base)
	if err != nil {
		return nil, err
	}

	bias := m.historyBias(base, history)

	snapshots := make([]models.YearlySnapshot, 0, years+1)
	for y := 0; y <= years; y++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("degradation forecast cancelled at year %d: %w", y, err)
		}
		snapshots = append(snapshots, m.snapshot(y, base, bias))
	}

	forecast := &models.DegradationForecast{
		ID:          uuid.New().String(),
		Years:       years,
		Snapshots:   snapshots,
		Lifecycle:   m.lifecycle(base, snapshots),
		Trend:       m.trend(snapshots, bias),
		GeneratedAt: time.Now().UTC(),
	}
	if curve != nil {
		forecast.PumpID = curve.PumpID
		forecast.Synthetic = curve.Synthetic
	}
	forecast.Recommendation = m.recommend(snapshots, forecast.Trend)
	return forecast, nil
}

func (m *DegradationModel) snapshot(y int, base models.BaseMetrics, bias float64) models.YearlySnapshot {
	wear := m.WearFactor(y)
	deg := m.Degradation(y, bias)
	power := base.Power * (1 + wearPowerGain*wear)

	maintenance := base.BaseMaintenanceCost.
		Mul(decimal.NewFromFloat(1 + 0.1*float64(y))).
		Mul(decimal.NewFromFloat(1 + wear))
	energy := decimal.NewFromFloat(power).
		Mul(decimal.NewFromFloat(base.OperatingHoursPerYear)).
		Mul(base.ElectricityRate)

	return models.YearlySnapshot{
		Year:            y,
		Efficiency:      base.Efficiency * (1 - deg),
		Power:           power,
		Flow:            base.Flow * (1 - wearFlowLoss*wear),
		Head:            base.Head * (1 - wearHeadLoss*wear),
		WearFactor:      wear,
		Degradation:     deg,
		Reliability:     m.Reliability(y),
		MaintenanceCost: maintenance.Round(2),
		EnergyCost:      energy.Round(2),
	}
}

// lifecycle sums the costs of years 1..n on top of the initial cost. Year 0 is the
// commissioning baseline and carries no operating cost.
func (m *DegradationModel) lifecycle(base models.BaseMetrics, snapshots []models.YearlySnapshot) models.LifecycleCostSummary {
	energy, maintenance := decimal.Zero, decimal.Zero
	npv := base.InitialCost
	for _, s := range snapshots[1:] {
		energy = energy.Add(s.EnergyCost)
		maintenance = maintenance.Add(s.MaintenanceCost)
		factor := decimal.NewFromFloat(math.Pow(1+m.DiscountRate, float64(s.Year)))
		npv = npv.Add(s.EnergyCost.Add(s.MaintenanceCost).Div(factor))
	}
	total := base.InitialCost.Add(energy).Add(maintenance)

	annualized := total
	if n := len(snapshots) - 1; n > 0 {
		annualized = npv.Mul(decimal.NewFromFloat(capitalRecoveryFactor(m.DiscountRate, n)))
	}

	return models.LifecycleCostSummary{
		InitialCost:     base.InitialCost.Round(2),
		EnergyCost:      energy.Round(2),
		MaintenanceCost: maintenance.Round(2),
		TotalCost:       total.Round(2),
		NetPresentValue: npv.Round(2),
		DiscountRate:    m.DiscountRate,
		AnnualizedCost:  annualized.Round(2),
	}
}

func capitalRecoveryFactor(rate float64, years int) float64 {
	if rate <= 0 {
		return 1 / float64(years)
	}
	g := math.Pow(1+rate, float64(years))
	return rate * g / (g - 1)
}

func (m *DegradationModel) trend(snapshots []models.YearlySnapshot, bias float64) models.DegradationTrend {
	eff0 := snapshots[0].Efficiency
	t := models.DegradationTrend{
		EfficiencyFloor: m.CriticalEfficiencyRatio * eff0,
		HistoryBias:     bias,
	}
	for _, s := range snapshots[1:] {
		if s.Efficiency < t.EfficiencyFloor {
			year := s.Year
			t.CriticalYear = &year
			break
		}
	}
	if len(snapshots) < 2 {
		return t
	}

	xs := make([]float64, len(snapshots))
	eff := make([]float64, len(snapshots))
	power := make([]float64, len(snapshots))
	flow := make([]float64, len(snapshots))
	head := make([]float64, len(snapshots))
	for i, s := range snapshots {
		xs[i] = float64(s.Year)
		eff[i], power[i], flow[i], head[i] = s.Efficiency, s.Power, s.Flow, s.Head
	}
	_, t.EfficiencySlope = stat.LinearRegression(xs, eff, nil, false)
	_, t.PowerSlope = stat.LinearRegression(xs, power, nil, false)
	_, t.FlowSlope = stat.LinearRegression(xs, flow, nil, false)
	_, t.HeadSlope = stat.LinearRegression(xs, head, nil, false)
	return t
}

func (m *DegradationModel) recommend(snapshots []models.YearlySnapshot, t models.DegradationTrend) models.Recommendation {
	if t.CriticalYear != nil {
		return models.Recommendation{
			Action: models.ActionReplace,
			Year:   *t.CriticalYear,
			Reason: fmt.Sprintf("efficiency falls below %.1f%% (%.0f%% of commissioning) in year %d",
				t.EfficiencyFloor, m.CriticalEfficiencyRatio*100, *t.CriticalYear),
		}
	}
	for _, s := range snapshots[1:] {
		if s.WearFactor >= overhaulWear {
			return models.Recommendation{
				Action: models.ActionOverhaul,
				Year:   s.Year,
				Reason: fmt.Sprintf("wear factor reaches %.2f in year %d", s.WearFactor, s.Year),
			}
		}
		if s.Reliability <= reliabilityFloor {
			return models.Recommendation{
				Action: models.ActionOverhaul,
				Year:   s.Year,
				Reason: fmt.Sprintf("reliability reaches the %.2f floor in year %d", reliabilityFloor, s.Year),
			}
		}
	}
	return models.Recommendation{
		Action: models.ActionContinue,
		Reason: "performance stays within limits over the forecast horizon",
	}
}

// completeBase fills zero base metrics from the curve's BEP and the configured cost defaults.
func (m *DegradationModel) completeBase(curve *models.PerformanceCurve, base models.BaseMetrics) (models.BaseMetrics, error) {
	for _, v := range []float64{base.Efficiency, base.Power, base.Flow, base.Head, base.OperatingHoursPerYear} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return base, utils.InvalidConfigurationf("base metrics must be finite and non-negative")
		}
	}
	if base.Efficiency > 100 {
		return base, utils.InvalidConfigurationf("base efficiency %v above 100", base.Efficiency)
	}

	var missing []string
	if curve != nil {
		bep := curve.BEP()
		if base.Efficiency == 0 {
			base.Efficiency = bep.Efficiency
			missing = append(missing, "efficiency")
		}
		if base.Power == 0 {
			base.Power = bep.Power
			missing = append(missing, "power")
		}
		if base.Flow == 0 {
			base.Flow = bep.Flow
			missing = append(missing, "flow")
		}
		if base.Head == 0 {
			base.Head = bep.Head
			missing = append(missing, "head")
		}
	}
	if base.OperatingHoursPerYear == 0 {
		base.OperatingHoursPerYear = m.OperatingHoursPerYear
		missing = append(missing, "operating_hours_per_year")
	}
	if base.ElectricityRate.IsZero() {
		base.ElectricityRate = m.ElectricityRate
		missing = append(missing, "electricity_rate")
	}
	if base.BaseMaintenanceCost.IsZero() {
		base.BaseMaintenanceCost = m.BaseMaintenanceCost
		missing = append(missing, "base_maintenance_cost")
	}
	if base.InitialCost.IsZero() {
		base.InitialCost = m.InitialCost
		missing = append(missing, "initial_cost")
	}
	if len(missing) > 0 {
		m.logger.Warn("Base metrics incomplete, using defaults", "fields", missing)
	}
	return base, nil
}

// historyBias compares the field efficiency trend with the analytic model over the
// same span. Fewer than historyPeriod records leave the model unbiased.
func (m *DegradationModel) historyBias(base models.BaseMetrics, history []models.MaintenanceRecord) float64 {
	if len(history) < historyPeriod || base.Efficiency <= 0 {
		return 1
	}

	records := append([]models.MaintenanceRecord(nil), history...)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].YearsInService < records[j].YearsInService
	})

	xs := make([]float64, len(records))
	eff := make([]float64, len(records))
	for i, r := range records {
		xs[i] = r.YearsInService
		eff[i] = r.Efficiency
	}

	sma := trend.NewSmaWithPeriod[float64](historyPeriod)
	smoothed := helper.ChanToSlice(sma.Compute(helper.SliceToChan(eff)))
	if len(smoothed) < 2 {
		return 1
	}
	xs = xs[len(xs)-len(smoothed):]
	if xs[0] == xs[len(xs)-1] {
		return 1
	}

	_, slope := stat.LinearRegression(xs, smoothed, nil, false)
	observed := -slope / base.Efficiency

	mid := stat.Mean(xs, nil)
	modelled := 0.01 + 0.004*mid
	bias := observed / modelled
	switch {
	case math.IsNaN(bias):
		bias = 1
	case bias < minHistoryBias:
		bias = minHistoryBias
	case bias > maxHistoryBias:
		bias = maxHistoryBias
	}
	m.logger.Debug("Degradation bias derived from field history",
		"records", len(records), "observed_rate", observed, "bias", bias)
	return bias
}
