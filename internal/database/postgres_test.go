package database

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/esp-selector-go/internal/config"
)

func TestBuildDSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host: "db", Port: 5433, User: "esp", Password: "secret", DBName: "curves", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5433 user=esp password=secret dbname=curves sslmode=disable", BuildDSN(cfg))

	cfg.DatabaseURL = "postgres://esp:secret@db:5433/curves"
	assert.Equal(t, cfg.DatabaseURL, BuildDSN(cfg))
}

func TestPoolConfig(t *testing.T) {
	poolCfg, err := PoolConfig(config.DatabaseConfig{
		DatabaseURL:     "postgres://esp:secret@db:5433/curves?sslmode=disable",
		MaxOpenConns:    7,
		ConnMaxLifetime: "90s",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(7), poolCfg.MaxConns)
	assert.Equal(t, 90*time.Second, poolCfg.MaxConnLifetime)
	assert.Equal(t, "curves", poolCfg.ConnConfig.Database)

	_, err = PoolConfig(config.DatabaseConfig{DatabaseURL: "postgres://%zz"})
	assert.Error(t, err)
}

func TestNewRedisConnection(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisConnection(context.Background(), config.RedisConfig{
		Host: mr.Host(), Port: mustPort(t, mr.Port()),
	}, quietLogrus())
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.HealthCheck(context.Background()))
}

func TestNewRedisConnection_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port := mr.Host(), mustPort(t, mr.Port())
	mr.Close()

	_, err := NewRedisConnection(context.Background(), config.RedisConfig{Host: host, Port: port}, quietLogrus())
	assert.ErrorContains(t, err, "failed to connect to Redis")
}

func mustPort(t *testing.T, port string) int {
	t.Helper()
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return p
}

func TestPostgresDB_CloseNilPool(t *testing.T) {
	db := &PostgresDB{}
	assert.NotPanics(t, db.Close)
}
