package services

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/irfndi/esp-selector-go/internal/config"
	"github.com/irfndi/esp-selector-go/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// threePointCurve is the reference curve of the intersection scenario.
func threePointCurve(t *testing.T) *models.PerformanceCurve {
	t.Helper()
	curve, err := models.NewPerformanceCurve("ESP-A", []models.CurvePoint{
		{Flow: 0, Head: 300, Power: 20, Efficiency: 0},
		{Flow: 1000, Head: 250, Power: 40, Efficiency: 65},
		{Flow: 2000, Head: 100, Power: 55, Efficiency: 40},
	}, 60, 1)
	require.NoError(t, err)
	return curve
}

// stageCurve is a single-stage curve for affinity-scaled optimisation.
func stageCurve(t *testing.T) *models.PerformanceCurve {
	t.Helper()
	curve, err := models.NewPerformanceCurve("ESP-S", []models.CurvePoint{
		{Flow: 0, Head: 12, Power: 1.0, Efficiency: 0},
		{Flow: 1000, Head: 10, Power: 1.5, Efficiency: 60},
		{Flow: 2000, Head: 7, Power: 1.9, Efficiency: 70},
		{Flow: 3000, Head: 3, Power: 2.1, Efficiency: 45},
	}, 60, 1)
	require.NoError(t, err)
	return curve
}

func testConfig() *config.Config {
	return config.Defaults()
}
