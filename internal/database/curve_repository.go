package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/internal/utils"
	"github.com/irfndi/esp-selector-go/pkg/interfaces"
)

// defaultRatedFrequency replaces a stored rated frequency that is NaN or not positive.
const defaultRatedFrequency = 60.0

var _ interfaces.CurveStore = (*CurveRepository)(nil)

// CurveRepository is the PostgreSQL CurveStore.
type CurveRepository struct {
	pool   DatabasePool
	logger *slog.Logger
}

func NewCurveRepository(pool DatabasePool, logger *slog.Logger) *CurveRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &CurveRepository{pool: pool, logger: logger}
}

const curveColumns = `pump_id, version, COALESCE(version_tag, ''), points, rated_frequency, base_stages, data_source, created_at`

// GetActiveCurve returns the active curve version of pumpID.
func (r *CurveRepository) GetActiveCurve(ctx context.Context, pumpID string) (*models.PerformanceCurve, error) {
	query := `SELECT ` + curveColumns + ` FROM pump_curves WHERE pump_id = $1 AND active`

	curve, err := r.scanCurve(r.pool.QueryRow(ctx, query, pumpID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active curve for pump %s", utils.ErrNotFound, pumpID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active curve: %w", err)
	}
	return curve, nil
}

// ListCurveVersions returns every stored version of pumpID, newest first.
func (r *CurveRepository) ListCurveVersions(ctx context.Context, pumpID string) ([]models.PerformanceCurve, error) {
	query := `SELECT ` + curveColumns + ` FROM pump_curves WHERE pump_id = $1 ORDER BY version DESC`

	rows, err := r.pool.Query(ctx, query, pumpID)
	if err != nil {
		return nil, fmt.Errorf("failed to list curve versions: %w", err)
	}
	defer rows.Close()

	var curves []models.PerformanceCurve
	for rows.Next() {
		curve, err := r.scanCurve(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan curve version: %w", err)
		}
		curves = append(curves, *curve)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating curve versions: %w", err)
	}
	return curves, nil
}

// SaveCurve deactivates the current version and inserts curve as the next one.
func (r *CurveRepository) SaveCurve(ctx context.Context, curve *models.PerformanceCurve) (*models.PerformanceCurve, error) {
	if err := curve.Validate(); err != nil {
		return nil, err
	}
	points, err := json.Marshal(curve.Points)
	if err != nil {
		return nil, fmt.Errorf("failed to encode curve points: %w", err)
	}
	saved := curve.Clone()
	saved.Synthetic = false
	if saved.DataSource == "" {
		saved.DataSource = models.DataSourceVendor
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE pump_curves SET active = FALSE WHERE pump_id = $1 AND active`, saved.PumpID); err != nil {
		return nil, fmt.Errorf("failed to deactivate previous curve: %w", err)
	}

	insert := `INSERT INTO pump_curves (pump_id, version, version_tag, points, rated_frequency, base_stages, data_source, active)
		SELECT $1, COALESCE(MAX(version), 0) + 1, NULLIF($2, ''), $3, $4, $5, $6, TRUE FROM pump_curves WHERE pump_id = $1
		RETURNING version, created_at`
	err = tx.QueryRow(ctx, insert,
		saved.PumpID, saved.VersionTag, points, saved.RatedFrequency, saved.BaseStages, saved.DataSource,
	).Scan(&saved.Version, &saved.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert curve: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit curve: %w", err)
	}
	return saved, nil
}

// GetEnhancedParameters returns the stored set for the exact curve version.
func (r *CurveRepository) GetEnhancedParameters(ctx context.Context, pumpID string, curveVersion int) (*models.EnhancedParameterSet, error) {
	query := `SELECT records, computed_at FROM enhanced_parameters WHERE pump_id = $1 AND curve_version = $2`

	var (
		raw        []byte
		computedAt time.Time
	)
	err := r.pool.QueryRow(ctx, query, pumpID, curveVersion).Scan(&raw, &computedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: enhanced parameters for pump %s version %d", utils.ErrNotFound, pumpID, curveVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enhanced parameters: %w", err)
	}

	set := &models.EnhancedParameterSet{
		PumpID:       pumpID,
		CurveVersion: curveVersion,
		Source:       models.EnhancedSourceStore,
		ComputedAt:   computedAt,
	}
	if err := json.Unmarshal(raw, &set.Records); err != nil {
		return nil, fmt.Errorf("failed to decode enhanced parameters: %w", err)
	}
	return set, nil
}

// SaveEnhancedParameters upserts the set for its pump and curve version.
func (r *CurveRepository) SaveEnhancedParameters(ctx context.Context, set *models.EnhancedParameterSet) error {
	records, err := json.Marshal(set.Records)
	if err != nil {
		return fmt.Errorf("failed to encode enhanced parameters: %w", err)
	}
	computedAt := set.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}

	query := `INSERT INTO enhanced_parameters (pump_id, curve_version, records, computed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pump_id, curve_version) DO UPDATE SET records = EXCLUDED.records, computed_at = EXCLUDED.computed_at`
	if _, err := r.pool.Exec(ctx, query, set.PumpID, set.CurveVersion, records, computedAt); err != nil {
		return fmt.Errorf("failed to save enhanced parameters: %w", err)
	}
	return nil
}

// GetMaintenanceHistory returns the field records of pumpID ordered by service age.
// Records without an efficiency reading are skipped.
func (r *CurveRepository) GetMaintenanceHistory(ctx context.Context, pumpID string) ([]models.MaintenanceRecord, error) {
	query := `SELECT id, pump_id, recorded_at, years_in_service, efficiency, maintenance_cost, COALESCE(notes, '')
		FROM maintenance_records WHERE pump_id = $1 ORDER BY years_in_service ASC`

	rows, err := r.pool.Query(ctx, query, pumpID)
	if err != nil {
		return nil, fmt.Errorf("failed to get maintenance history: %w", err)
	}
	defer rows.Close()

	var (
		records []models.MaintenanceRecord
		skipped int
	)
	for rows.Next() {
		var (
			record     models.MaintenanceRecord
			efficiency *float64
		)
		if err := rows.Scan(&record.ID, &record.PumpID, &record.RecordedAt, &record.YearsInService,
			&efficiency, &record.MaintenanceCost, &record.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan maintenance record: %w", err)
		}
		if efficiency == nil || math.IsNaN(*efficiency) {
			skipped++
			continue
		}
		record.Efficiency = *efficiency
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating maintenance records: %w", err)
	}
	if skipped > 0 {
		r.logger.Warn("Skipped maintenance records without efficiency", "pump_id", pumpID, "skipped", skipped)
	}
	return records, nil
}

// AddMaintenanceRecord inserts a field observation and returns it with its id.
func (r *CurveRepository) AddMaintenanceRecord(ctx context.Context, record models.MaintenanceRecord) (*models.MaintenanceRecord, error) {
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	query := `INSERT INTO maintenance_records (pump_id, recorded_at, years_in_service, efficiency, maintenance_cost, notes)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id`
	err := r.pool.QueryRow(ctx, query,
		record.PumpID, record.RecordedAt, record.YearsInService, record.Efficiency, record.MaintenanceCost, record.Notes,
	).Scan(&record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to add maintenance record: %w", err)
	}
	return &record, nil
}

// SavePrediction stores payload as JSONB under a new id.
func (r *CurveRepository) SavePrediction(ctx context.Context, pumpID, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode prediction: %w", err)
	}
	query := `INSERT INTO predictions (id, pump_id, kind, payload) VALUES ($1, $2, $3, $4)`
	if _, err := r.pool.Exec(ctx, query, uuid.New(), pumpID, kind, raw); err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}
	return nil
}

// storedPoint mirrors models.CurvePoint with nullable fields so gaps in imported data can be detected.
type storedPoint struct {
	Flow       *float64 `json:"flow"`
	Head       *float64 `json:"head"`
	Power      *float64 `json:"power"`
	Efficiency *float64 `json:"efficiency"`
}

func (r *CurveRepository) scanCurve(row pgx.Row) (*models.PerformanceCurve, error) {
	var (
		curve models.PerformanceCurve
		raw   []byte
	)
	if err := row.Scan(&curve.PumpID, &curve.Version, &curve.VersionTag, &raw,
		&curve.RatedFrequency, &curve.BaseStages, &curve.DataSource, &curve.CreatedAt); err != nil {
		return nil, err
	}

	var stored []storedPoint
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode curve points: %w", err)
	}

	points, repaired := repairPoints(stored)
	if repaired > 0 {
		r.logger.Warn("Repaired incomplete curve samples",
			"pump_id", curve.PumpID, "version", curve.Version, "repaired", repaired)
	}
	curve.Points = points

	if math.IsNaN(curve.RatedFrequency) || curve.RatedFrequency <= 0 {
		r.logger.Warn("Invalid stored rated frequency, using default",
			"pump_id", curve.PumpID, "stored", curve.RatedFrequency, "default", defaultRatedFrequency)
		curve.RatedFrequency = defaultRatedFrequency
	}
	if curve.BaseStages < 1 {
		curve.BaseStages = 1
	}

	if err := curve.Validate(); err != nil {
		return nil, err
	}
	return &curve, nil
}

// repairPoints drops samples without a flow and zero-fills missing head, power or efficiency.
// It returns the number of samples touched.
func repairPoints(stored []storedPoint) ([]models.CurvePoint, int) {
	points := make([]models.CurvePoint, 0, len(stored))
	repaired := 0
	for _, sp := range stored {
		if sp.Flow == nil || math.IsNaN(*sp.Flow) {
			repaired++
			continue
		}
		p := models.CurvePoint{Flow: *sp.Flow}
		touched := false
		p.Head, touched = valueOrZero(sp.Head, touched)
		p.Power, touched = valueOrZero(sp.Power, touched)
		p.Efficiency, touched = valueOrZero(sp.Efficiency, touched)
		if touched {
			repaired++
		}
		points = append(points, p)
	}
	return points, repaired
}

func valueOrZero(v *float64, touched bool) (float64, bool) {
	if v == nil || math.IsNaN(*v) {
		return 0, true
	}
	return *v, touched
}
