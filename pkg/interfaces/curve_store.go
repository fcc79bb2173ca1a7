package interfaces

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/irfndi/esp-selector-go/internal/models"
	"github.com/irfndi/esp-selector-go/internal/utils"
)

// CurveStore persists pump curves and the data derived from them.
// Implementations return an error wrapping utils.ErrNotFound for unknown pumps.
type CurveStore interface {
	GetActiveCurve(ctx context.Context, pumpID string) (*models.PerformanceCurve, error)
	SaveCurve(ctx context.Context, curve *models.PerformanceCurve) (*models.PerformanceCurve, error)
	ListCurveVersions(ctx context.Context, pumpID string) ([]models.PerformanceCurve, error)
	GetEnhancedParameters(ctx context.Context, pumpID string, curveVersion int) (*models.EnhancedParameterSet, error)
	SaveEnhancedParameters(ctx context.Context, set *models.EnhancedParameterSet) error
	GetMaintenanceHistory(ctx context.Context, pumpID string) ([]models.MaintenanceRecord, error)
	AddMaintenanceRecord(ctx context.Context, record models.MaintenanceRecord) (*models.MaintenanceRecord, error)
	SavePrediction(ctx context.Context, pumpID, kind string, payload any) error
}

// DerivedCache caches derived data in front of the CurveStore. Misses return (nil, false).
type DerivedCache interface {
	GetEnhancedParameters(ctx context.Context, pumpID string, curveVersion int) (*models.EnhancedParameterSet, bool)
	SetEnhancedParameters(ctx context.Context, set *models.EnhancedParameterSet)
	Invalidate(ctx context.Context, pumpID string)
}

// Prediction kinds recorded through SavePrediction.
const (
	PredictionDegradation  = "degradation"
	PredictionOptimization = "optimization"
)

// StoredPrediction is a persisted forecast or optimization payload.
type StoredPrediction struct {
	PumpID    string          `json:"pump_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// DefaultMaxStoredPredictions bounds the predictions a MemoryCurveStore keeps.
const DefaultMaxStoredPredictions = 1000

// MemoryCurveStore is an in-process CurveStore. It backs the service when no
// database is configured and stands in for Postgres in tests.
type MemoryCurveStore struct {
	mu          sync.RWMutex
	curves      map[string][]models.PerformanceCurve
	enhanced    map[string]models.EnhancedParameterSet
	maintenance map[string][]models.MaintenanceRecord
	predictions []StoredPrediction
	// maxPredictions caps predictions; the oldest entries are dropped first.
	maxPredictions int
}

// NewMemoryCurveStore creates an empty store.
func NewMemoryCurveStore() *MemoryCurveStore {
	return &MemoryCurveStore{
		curves:      make(map[string][]models.PerformanceCurve),
		enhanced:    make(map[string]models.EnhancedParameterSet),
		maintenance: make(map[string][]models.MaintenanceRecord),

		maxPredictions: DefaultMaxStoredPredictions,
	}
}

func (m *MemoryCurveStore) GetActiveCurve(_ context.Context, pumpID string) (*models.PerformanceCurve, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.curves[pumpID]
	if len(versions) == 0 {
		return nil, utils.ErrNotFound
	}
	return versions[len(versions)-1].Clone(), nil
}

// SaveCurve stores curve as the new active version.
func (m *MemoryCurveStore) SaveCurve(_ context.Context, curve *models.PerformanceCurve) (*models.PerformanceCurve, error) {
	if err := curve.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := curve.Clone()
	saved.Version = len(m.curves[curve.PumpID]) + 1
	saved.Synthetic = false
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}
	m.curves[curve.PumpID] = append(m.curves[curve.PumpID], *saved)
	return saved.Clone(), nil
}

func (m *MemoryCurveStore) ListCurveVersions(_ context.Context, pumpID string) ([]models.PerformanceCurve, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.curves[pumpID]
	out := make([]models.PerformanceCurve, len(versions))
	for i := range versions {
		out[len(versions)-1-i] = *versions[i].Clone()
	}
	return out, nil
}

func (m *MemoryCurveStore) GetEnhancedParameters(_ context.Context, pumpID string, curveVersion int) (*models.EnhancedParameterSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.enhanced[pumpID]
	if !ok || set.CurveVersion != curveVersion {
		return nil, utils.ErrNotFound
	}
	set.Records = append([]models.EnhancedParameters(nil), set.Records...)
	set.Source = models.EnhancedSourceStore
	return &set, nil
}

// SaveEnhancedParameters upserts; the last writer wins.
func (m *MemoryCurveStore) SaveEnhancedParameters(_ context.Context, set *models.EnhancedParameterSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *set
	stored.Records = append([]models.EnhancedParameters(nil), set.Records...)
	m.enhanced[set.PumpID] = stored
	return nil
}

func (m *MemoryCurveStore) GetMaintenanceHistory(_ context.Context, pumpID string) ([]models.MaintenanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := append([]models.MaintenanceRecord(nil), m.maintenance[pumpID]...)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].YearsInService < records[j].YearsInService
	})
	return records, nil
}

// AddMaintenanceRecord appends a field observation.
func (m *MemoryCurveStore) AddMaintenanceRecord(_ context.Context, record models.MaintenanceRecord) (*models.MaintenanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ID = int64(len(m.maintenance[record.PumpID]) + 1)
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	m.maintenance[record.PumpID] = append(m.maintenance[record.PumpID], record)
	return &record, nil
}

func (m *MemoryCurveStore) SavePrediction(_ context.Context, pumpID, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions = append(m.predictions, StoredPrediction{
		PumpID:    pumpID,
		Kind:      kind,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	})
	if over := len(m.predictions) - m.maxPredictions; m.maxPredictions > 0 && over > 0 {
		m.predictions = append([]StoredPrediction(nil), m.predictions[over:]...)
	}
	return nil
}

// Predictions returns the stored predictions for pumpID, oldest first.
func (m *MemoryCurveStore) Predictions(pumpID string) []StoredPrediction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StoredPrediction
	for _, p := range m.predictions {
		if p.PumpID == pumpID {
			out = append(out, p)
		}
	}
	return out
}
