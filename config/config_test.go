package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ormbatch/batch"
	"ormbatch/batch/diagnostics"
	"ormbatch/data/db/dialect"
	"ormbatch/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, ":memory:", cfg.Database.Database)
	assert.Equal(t, batch.DefaultBatchSize, cfg.Batch.BatchSize)
	assert.Equal(t, batch.DefaultTimeout, cfg.Batch.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, []string{SinkLog}, cfg.Diagnostics.Sinks)
	assert.Equal(t, "ormbatch:diagnostics", cfg.Diagnostics.Redis.Stream)
	assert.Equal(t, int64(10000), cfg.Diagnostics.Redis.MaxLen)

	// 内存库固定单连接
	assert.Equal(t, 1, cfg.Database.DBConfig().MaxOpenConns)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeFile(t, "ormbatch.yaml", `
database:
  driver: postgres
  host: db.internal
  database: shop
  conn_max_lifetime: 90s
batch:
  batch_size: 500
  timeout: 30s
  enable_update_fallback: true
  table_lock: true
logging:
  level: debug
diagnostics:
  sinks: [log, none]
`)
	t.Setenv("BATCH_SIZE", "700")
	t.Setenv("DB_DSN", "postgres://u:p@db.internal/shop")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://u:p@db.internal/shop", cfg.Database.DSN, "envAlt")
	assert.Equal(t, 700, cfg.Batch.BatchSize, "env overrides file")
	assert.Equal(t, 30*time.Second, cfg.Batch.Timeout)
	assert.True(t, cfg.Batch.EnableUpdateFallback)
	assert.Equal(t, []string{SinkLog, SinkNone}, cfg.Diagnostics.Sinks)

	dbc := cfg.Database.DBConfig()
	assert.Equal(t, 90, dbc.ConnMaxLifetime)
	assert.Zero(t, dbc.MaxOpenConns)

	ec := cfg.Batch.Configuration()
	assert.Equal(t, 700, ec.BatchSize)
	assert.True(t, ec.CopyOptions.TableLock)
	assert.False(t, ec.CopyOptions.KeepIdentity)

	assert.NotContains(t, cfg.String(), "u:p@")
}

func TestLoad_EnvFile(t *testing.T) {
	t.Cleanup(func() {
		_ = os.Unsetenv("DIAGNOSTICS_SINKS")
		_ = os.Unsetenv("REDIS_ADDR")
	})
	env := writeFile(t, ".env", "DIAGNOSTICS_SINKS=log, redis\nREDIS_ADDR=127.0.0.1:6379\n")

	cfg, err := Load("", env, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, []string{SinkLog, SinkRedis}, cfg.Diagnostics.Sinks)
	assert.Equal(t, "127.0.0.1:6379", cfg.Diagnostics.Redis.Addr)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Run("env", func(t *testing.T) {
		t.Setenv("BATCH_TIMEOUT", "soon")
		_, err := Load("")
		require.Error(t, err)
		assert.True(t, errors.IsConfiguration(err))
		assert.Contains(t, err.Error(), "BATCH_TIMEOUT")
	})
	t.Run("yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "bad.yaml", "batch: [1, 2"))
		assert.True(t, errors.IsConfiguration(err))
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.True(t, errors.IsConfiguration(err))
	})
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database.Driver = "oracle"
	cfg.Database.Port = 70000
	cfg.Batch.BatchSize = 0
	cfg.Batch.Timeout = -time.Second
	cfg.Logging.Level = "verbose"
	cfg.Diagnostics.Sinks = []string{SinkRedis, "kafka"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	for _, field := range []string{"database.driver", "database.port", "batch.batch_size", "batch.timeout", "logging.level", "diagnostics.sinks", "diagnostics.redis.addr"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestValidate_NATSNeedsSubject(t *testing.T) {
	cfg := validConfig(t)
	cfg.Diagnostics.Sinks = []string{SinkNATS}
	cfg.Diagnostics.NATS.Subject = " "
	err := cfg.Validate()
	assert.True(t, errors.IsConfiguration(err))
	assert.True(t, strings.Contains(err.Error(), "diagnostics.nats.subject"))
}

func TestSink(t *testing.T) {
	cfg := validConfig(t)

	cfg.Diagnostics.Sinks = []string{SinkNone}
	s, err := cfg.Sink(nil)
	require.NoError(t, err)
	assert.NotNil(t, s)

	cfg.Diagnostics.Sinks = []string{SinkLog}
	s, err = cfg.Sink(nil)
	require.NoError(t, err)
	assert.IsType(t, &diagnostics.LoggerSink{}, s)

	// go-redis 在首次命令时才建立连接
	cfg.Diagnostics.Sinks = []string{SinkLog, SinkRedis}
	cfg.Diagnostics.Redis.Addr = "127.0.0.1:0"
	s, err = cfg.Sink(nil)
	require.NoError(t, err)
	assert.IsType(t, diagnostics.SinkFunc(nil), s)

	cfg.Diagnostics.Sinks = []string{"kafka"}
	_, err = cfg.Sink(nil)
	assert.True(t, errors.IsConfiguration(err))
}

func TestEngine(t *testing.T) {
	cfg := validConfig(t)
	cfg.Batch.BatchSize = 10
	cfg.Batch.DisableDefaultFallback = true
	cfg.Batch.KeepNulls = true

	engine, err := cfg.Engine(nil)
	require.NoError(t, err)
	ec := engine.Configuration()
	assert.Equal(t, 10, ec.BatchSize)
	assert.True(t, ec.DisableDefaultFallback)
	assert.True(t, ec.CopyOptions.KeepNulls)
	assert.Len(t, engine.Registry().Providers(), 3)
}

func TestOpenDatabase_SQLite(t *testing.T) {
	cfg := validConfig(t)
	db, err := cfg.OpenDatabase(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, dialect.NameSQLite, dialect.FromDatabase(db).Name())
}
