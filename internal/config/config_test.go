package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "pass_through", cfg.Engine.ScalingStrategy)
	assert.Equal(t, 1000, cfg.Engine.Intersection.GridPoints)
	assert.Equal(t, 5.0, cfg.Engine.Intersection.Tolerance)
	assert.Equal(t, 10.0, cfg.Engine.Degradation.DesignLifeYears)
	assert.Equal(t, 0.95, cfg.Engine.Degradation.WearCeiling)
	assert.Equal(t, 0.30, cfg.Engine.Degradation.DegradationCap)
	assert.Equal(t, 0.60, cfg.Engine.Degradation.CriticalEfficiencyRatio)
	assert.Equal(t, 60, cfg.Engine.Optimizer.MaxGenerations)
	assert.Equal(t, 5, cfg.Engine.Optimizer.Alternatives)
	assert.Equal(t, uint64(42), cfg.Engine.Optimizer.Seed)
	assert.Equal(t, "24h", cfg.Cache.EnhancedTTL)
	assert.True(t, cfg.Redis.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("ENGINE_SCALING_STRATEGY", "affinity")
	t.Setenv("ENGINE_INTERSECTION_TOLERANCE", "2.5")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "affinity", cfg.Engine.ScalingStrategy)
	assert.Equal(t, 2.5, cfg.Engine.Intersection.Tolerance)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_RequiresJWTSecretOutsideDevelopment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("ENVIRONMENT", "Production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	viper.Reset()
	t.Setenv("JWT_SECRET", "a-secret-that-is-long-enough")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"bad strategy", func(c *Config) { c.Engine.ScalingStrategy = "linear" }, "scaling_strategy"},
		{"grid too small", func(c *Config) { c.Engine.Intersection.GridPoints = 1 }, "grid_points"},
		{"zero tolerance", func(c *Config) { c.Engine.Intersection.Tolerance = 0 }, "tolerance"},
		{"bad duration", func(c *Config) { c.Tasks.Retention = "forever" }, "tasks.retention"},
		{"zero design life", func(c *Config) { c.Engine.Degradation.DesignLifeYears = 0 }, "design_life_years"},
		{"no generations", func(c *Config) { c.Engine.Optimizer.MaxGenerations = 0 }, "max_generations"},
		{"bad exporter", func(c *Config) { c.Telemetry.Exporter = "zipkin" }, "telemetry.exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, Duration("30s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("soon", time.Minute))
}
