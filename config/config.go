// Package config 批量引擎的运行配置。
//
// 加载顺序：struct tag 默认值、YAML 文件、.env 文件与环境变量（后者覆盖前者），
// 最后统一校验。环境变量名由 env tag 指定，envAlt 为备选名。
package config

import (
	"fmt"
	"strings"
	"time"

	"ormbatch/batch"
	"ormbatch/batch/provider"
	core "ormbatch/data/db"
	"ormbatch/data/db/dialect"
)

// 诊断出口类型
const (
	SinkLog   = "log"
	SinkRedis = "redis"
	SinkNATS  = "nats"
	SinkNone  = "none"
)

// Config 全部配置
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Batch       BatchConfig       `yaml:"batch"`
	Logging     LoggingConfig     `yaml:"logging"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// DatabaseConfig 数据库连接
type DatabaseConfig struct {
	// Driver sqlite、postgres 或 sqlserver；postgres 使用 pgx 连接池
	Driver string `yaml:"driver" env:"DB_DRIVER" default:"sqlite"`
	// DSN 非空时忽略分项配置
	DSN      string `yaml:"dsn" env:"DATABASE_URL" envAlt:"DB_DSN"`
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	Database string `yaml:"database" env:"DB_NAME" default:":memory:"`
	Username string `yaml:"username" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME"`
}

// DBConfig 转为数据库层配置；SQLite 内存库固定为单连接
func (d DatabaseConfig) DBConfig() core.DBConfig {
	if dialect.New(d.Driver).Name() == dialect.NameSQLite && d.DSN == "" && d.Database == ":memory:" {
		// 每条连接各自一个内存库
		d.MaxOpenConns = 1
	}
	return core.DBConfig{
		Driver:          d.Driver,
		Host:            d.Host,
		Port:            d.Port,
		Database:        d.Database,
		Username:        d.Username,
		Password:        d.Password,
		DSN:             d.DSN,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: int(d.ConnMaxLifetime / time.Second),
		ConnMaxIdleTime: int(d.ConnMaxIdleTime / time.Second),
	}
}

// BatchConfig 引擎行为
type BatchConfig struct {
	DisableDefaultFallback bool          `yaml:"disable_default_fallback" env:"BATCH_DISABLE_DEFAULT_FALLBACK"`
	EnableUpdateFallback   bool          `yaml:"enable_update_fallback" env:"BATCH_ENABLE_UPDATE_FALLBACK"`
	BatchSize              int           `yaml:"batch_size" env:"BATCH_SIZE" default:"15000"`
	Timeout                time.Duration `yaml:"timeout" env:"BATCH_TIMEOUT" default:"10m"`

	KeepIdentity     bool `yaml:"keep_identity" env:"BATCH_KEEP_IDENTITY"`
	CheckConstraints bool `yaml:"check_constraints" env:"BATCH_CHECK_CONSTRAINTS"`
	TableLock        bool `yaml:"table_lock" env:"BATCH_TABLE_LOCK"`
	KeepNulls        bool `yaml:"keep_nulls" env:"BATCH_KEEP_NULLS"`
	FireTriggers     bool `yaml:"fire_triggers" env:"BATCH_FIRE_TRIGGERS"`
}

// Configuration 转为引擎配置
func (b BatchConfig) Configuration() batch.Configuration {
	return batch.Configuration{
		DisableDefaultFallback: b.DisableDefaultFallback,
		EnableUpdateFallback:   b.EnableUpdateFallback,
		BatchSize:              b.BatchSize,
		Timeout:                b.Timeout,
		CopyOptions: provider.CopyOptions{
			KeepIdentity:     b.KeepIdentity,
			CheckConstraints: b.CheckConstraints,
			TableLock:        b.TableLock,
			KeepNulls:        b.KeepNulls,
			FireTriggers:     b.FireTriggers,
		},
	}
}

// LoggingConfig 日志
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" default:"info"`
	Prefix string `yaml:"prefix" env:"LOG_PREFIX" default:"[ormbatch]"`
}

// DiagnosticsConfig 诊断出口；Sinks 可组合，例如 log,redis
type DiagnosticsConfig struct {
	Sinks []string    `yaml:"sinks" env:"DIAGNOSTICS_SINKS" default:"log"`
	Redis RedisConfig `yaml:"redis"`
	NATS  NATSConfig  `yaml:"nats"`
}

// Has 是否启用了指定出口
func (d DiagnosticsConfig) Has(kind string) bool {
	for _, s := range d.Sinks {
		if s == kind {
			return true
		}
	}
	return false
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Username string `yaml:"username" env:"REDIS_USERNAME"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Stream   string `yaml:"stream" env:"DIAGNOSTICS_REDIS_STREAM" default:"ormbatch:diagnostics"`
	MaxLen   int64  `yaml:"max_len" env:"DIAGNOSTICS_REDIS_MAXLEN" default:"10000"`
}

type NATSConfig struct {
	URL     string `yaml:"url" env:"NATS_URL"`
	Subject string `yaml:"subject" env:"DIAGNOSTICS_NATS_SUBJECT" default:"ormbatch.diagnostics"`
}

// String 日志安全的摘要，不输出密码与 DSN
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Database: {Driver: %q, Host: %q, Database: %q, DSN: [MASKED]}, ", c.Database.Driver, c.Database.Host, c.Database.Database)
	fmt.Fprintf(&b, "Batch: {BatchSize: %d, Timeout: %s, DisableDefaultFallback: %v, EnableUpdateFallback: %v}, ",
		c.Batch.BatchSize, c.Batch.Timeout, c.Batch.DisableDefaultFallback, c.Batch.EnableUpdateFallback)
	fmt.Fprintf(&b, "Logging: {Level: %q}, ", c.Logging.Level)
	fmt.Fprintf(&b, "Diagnostics: {Sinks: %v}", c.Diagnostics.Sinks)
	b.WriteString("}")
	return b.String()
}
