package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Security    SecurityConfig  `mapstructure:"security"`
	Engine      EngineConfig    `mapstructure:"engine"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Tasks       TasksConfig     `mapstructure:"tasks"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Exporter       string `mapstructure:"exporter"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	LogsEnabled    bool   `mapstructure:"logs_enabled"`
}

type SecurityConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	JWTExpiry   string `mapstructure:"jwt_expiry"`
	AdminAPIKey string `mapstructure:"admin_api_key" json:"-" yaml:"-"`
}

// EngineConfig groups the tunables of the pump performance engine.
type EngineConfig struct {
	ScalingStrategy string             `mapstructure:"scaling_strategy"`
	Intersection    IntersectionConfig `mapstructure:"intersection"`
	Enhanced        EnhancedConfig     `mapstructure:"enhanced"`
	Degradation     DegradationConfig  `mapstructure:"degradation"`
	Optimizer       OptimizerConfig    `mapstructure:"optimizer"`
}

type IntersectionConfig struct {
	GridPoints int     `mapstructure:"grid_points"`
	Tolerance  float64 `mapstructure:"tolerance"`
}

// EnhancedConfig holds the empirical coefficients of the secondary-parameter estimator.
type EnhancedConfig struct {
	NPSHA              float64 `mapstructure:"npsh_a"`
	NPSHB              float64 `mapstructure:"npsh_b"`
	NPSHBase           float64 `mapstructure:"npsh_base"`
	NPSHAvailable      float64 `mapstructure:"npsh_available"`
	TemperatureCoeff   float64 `mapstructure:"temperature_coeff"`
	TemperatureRefFlow float64 `mapstructure:"temperature_ref_flow"`
	VibrationBase      float64 `mapstructure:"vibration_base"`
	VibrationCoeff     float64 `mapstructure:"vibration_coeff"`
	NoiseBase          float64 `mapstructure:"noise_base"`
	NoiseCoeff         float64 `mapstructure:"noise_coeff"`
	WearBase           float64 `mapstructure:"wear_base"`
	RadialCoeff        float64 `mapstructure:"radial_coeff"`
	AxialCoeff         float64 `mapstructure:"axial_coeff"`
	SectionModulus     float64 `mapstructure:"section_modulus"`
}

type DegradationConfig struct {
	DesignLifeYears         float64 `mapstructure:"design_life_years"`
	WearCeiling             float64 `mapstructure:"wear_ceiling"`
	DegradationCap          float64 `mapstructure:"degradation_cap"`
	CriticalEfficiencyRatio float64 `mapstructure:"critical_efficiency_ratio"`
	DiscountRate            float64 `mapstructure:"discount_rate"`
	OperatingHoursPerYear   float64 `mapstructure:"operating_hours_per_year"`
	ElectricityRate         float64 `mapstructure:"electricity_rate"`
	BaseMaintenanceCost     float64 `mapstructure:"base_maintenance_cost"`
	InitialCost             float64 `mapstructure:"initial_cost"`
	MaxYears                int     `mapstructure:"max_years"`
}

type OptimizerConfig struct {
	MaxGenerations        int     `mapstructure:"max_generations"`
	PopulationSize        int     `mapstructure:"population_size"`
	Alternatives          int     `mapstructure:"alternatives"`
	Seed                  uint64  `mapstructure:"seed"`
	StageCost             float64 `mapstructure:"stage_cost"`
	StepSize              float64 `mapstructure:"step_size"`
	Timeout               string  `mapstructure:"timeout"`
	OperatingHoursPerYear float64 `mapstructure:"operating_hours_per_year"`
	ElectricityRate       float64 `mapstructure:"electricity_rate"`
}

type CacheConfig struct {
	EnhancedTTL string `mapstructure:"enhanced_ttl"`
}

type TasksConfig struct {
	MaxConcurrent       int    `mapstructure:"max_concurrent"`
	OptimizationTimeout string `mapstructure:"optimization_timeout"`
	ForecastTimeout     string `mapstructure:"forecast_timeout"`
	Retention           string `mapstructure:"retention"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults(viper.GetViper())

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("security.jwt_secret", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind JWT_SECRET environment variable: %w", err)
	}
	if err := viper.BindEnv("security.admin_api_key", "ADMIN_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind ADMIN_API_KEY environment variable: %w", err)
	}
	if err := viper.BindEnv("database.database_url", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind DATABASE_URL environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the values Load cannot repair on its own.
func (c *Config) Validate() error {
	if c.Environment != "development" && c.Security.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required in non-development environments")
	}

	durations := map[string]string{
		"security.jwt_expiry":        c.Security.JWTExpiry,
		"engine.optimizer.timeout":   c.Engine.Optimizer.Timeout,
		"cache.enhanced_ttl":         c.Cache.EnhancedTTL,
		"tasks.optimization_timeout": c.Tasks.OptimizationTimeout,
		"tasks.forecast_timeout":     c.Tasks.ForecastTimeout,
		"tasks.retention":            c.Tasks.Retention,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s duration: %w", key, err)
		}
	}

	switch c.Engine.ScalingStrategy {
	case "pass_through", "affinity":
	default:
		return fmt.Errorf("unknown engine.scaling_strategy %q", c.Engine.ScalingStrategy)
	}
	if c.Engine.Intersection.GridPoints < 2 {
		return fmt.Errorf("engine.intersection.grid_points must be >= 2, got %d", c.Engine.Intersection.GridPoints)
	}
	if c.Engine.Intersection.Tolerance <= 0 {
		return fmt.Errorf("engine.intersection.tolerance must be positive, got %v", c.Engine.Intersection.Tolerance)
	}
	if c.Engine.Degradation.DesignLifeYears <= 0 {
		return fmt.Errorf("engine.degradation.design_life_years must be positive, got %v", c.Engine.Degradation.DesignLifeYears)
	}
	if c.Engine.Optimizer.MaxGenerations < 1 {
		return fmt.Errorf("engine.optimizer.max_generations must be >= 1, got %d", c.Engine.Optimizer.MaxGenerations)
	}
	switch c.Telemetry.Exporter {
	case "", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown telemetry.exporter %q", c.Telemetry.Exporter)
	}
	return nil
}

// Duration parses a duration string, returning fallback when empty or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "esp_selector")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.database_url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "300s")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "esp-selector")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.logs_enabled", false)

	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_expiry", "24h")
	v.SetDefault("security.admin_api_key", "")

	v.SetDefault("engine.scaling_strategy", "pass_through")
	v.SetDefault("engine.intersection.grid_points", 1000)
	v.SetDefault("engine.intersection.tolerance", 5.0)

	// Empirical estimator coefficients. Flow in m³/d, head in m, power in kW.
	v.SetDefault("engine.enhanced.npsh_a", 1e-6)
	v.SetDefault("engine.enhanced.npsh_b", 0.002)
	v.SetDefault("engine.enhanced.npsh_base", 2.0)
	v.SetDefault("engine.enhanced.npsh_available", 10.0)
	v.SetDefault("engine.enhanced.temperature_coeff", 0.5)
	v.SetDefault("engine.enhanced.temperature_ref_flow", 1000.0)
	v.SetDefault("engine.enhanced.vibration_base", 1.5)
	v.SetDefault("engine.enhanced.vibration_coeff", 6.0)
	v.SetDefault("engine.enhanced.noise_base", 70.0)
	v.SetDefault("engine.enhanced.noise_coeff", 8.0)
	v.SetDefault("engine.enhanced.wear_base", 0.01)
	v.SetDefault("engine.enhanced.radial_coeff", 0.05)
	v.SetDefault("engine.enhanced.axial_coeff", 0.2)
	v.SetDefault("engine.enhanced.section_modulus", 10.0)

	v.SetDefault("engine.degradation.design_life_years", 10.0)
	v.SetDefault("engine.degradation.wear_ceiling", 0.95)
	v.SetDefault("engine.degradation.degradation_cap", 0.30)
	v.SetDefault("engine.degradation.critical_efficiency_ratio", 0.60)
	v.SetDefault("engine.degradation.discount_rate", 0.08)
	v.SetDefault("engine.degradation.operating_hours_per_year", 8760.0)
	v.SetDefault("engine.degradation.electricity_rate", 0.10)
	v.SetDefault("engine.degradation.base_maintenance_cost", 5000.0)
	v.SetDefault("engine.degradation.initial_cost", 150000.0)
	v.SetDefault("engine.degradation.max_years", 50)

	v.SetDefault("engine.optimizer.max_generations", 60)
	v.SetDefault("engine.optimizer.population_size", 0)
	v.SetDefault("engine.optimizer.alternatives", 5)
	v.SetDefault("engine.optimizer.seed", 42)
	v.SetDefault("engine.optimizer.stage_cost", 400.0)
	v.SetDefault("engine.optimizer.step_size", 0.3)
	v.SetDefault("engine.optimizer.timeout", "30s")
	v.SetDefault("engine.optimizer.operating_hours_per_year", 8760.0)
	v.SetDefault("engine.optimizer.electricity_rate", 0.10)

	v.SetDefault("cache.enhanced_ttl", "24h")

	v.SetDefault("tasks.max_concurrent", 0)
	v.SetDefault("tasks.optimization_timeout", "2m")
	v.SetDefault("tasks.forecast_timeout", "30s")
	v.SetDefault("tasks.retention", "1h")
}

// Defaults returns a Config populated only from defaults. Used by tests and tools
// that run the engine without a config file.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return &config
}
