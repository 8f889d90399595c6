package config

import (
	"context"

	_ "modernc.org/sqlite"

	"ormbatch/batch"
	"ormbatch/batch/diagnostics"
	"ormbatch/batch/diagnostics/natssink"
	"ormbatch/batch/diagnostics/redissink"
	core "ormbatch/data/db"
	dbbasic "ormbatch/data/db/basic"
	"ormbatch/data/db/dialect"
	"ormbatch/data/db/pgxdb"
	"ormbatch/errors"
	"ormbatch/logging"
)

// Logger 按日志级别与前缀创建日志器
func (c *Config) Logger() logging.Logger {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.NewStdLogger(c.Logging.Prefix).WithLevel(level)
}

// OpenDatabase postgres 使用 pgx 连接池（支持 COPY），其余经 database/sql
func (c *Config) OpenDatabase(ctx context.Context) (core.IDatabase, error) {
	dbc := c.Database.DBConfig()
	if dialect.New(dbc.Driver).Name() == dialect.NamePostgres {
		db, err := pgxdb.New(ctx, dbc)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	db, err := dbbasic.New(dbc)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Sink 按 diagnostics.sinks 组合诊断出口；没有启用任何出口时丢弃事件
func (c *Config) Sink(logger logging.Logger) (diagnostics.Sink, error) {
	if logger == nil {
		logger = c.Logger()
	}
	var sinks []diagnostics.Sink
	for _, kind := range c.Diagnostics.Sinks {
		switch kind {
		case SinkLog:
			sinks = append(sinks, diagnostics.NewLoggerSink(logger.WithFields(logging.Component("batch"))))
		case SinkRedis:
			r := c.Diagnostics.Redis
			sinks = append(sinks, redissink.New(redissink.Config{
				Addr:     r.Addr,
				Username: r.Username,
				Password: r.Password,
				DB:       r.DB,
				Stream:   r.Stream,
				MaxLen:   r.MaxLen,
				Logger:   logger.WithFields(logging.Component("diagnostics.redis")),
			}))
		case SinkNATS:
			s, err := natssink.New(natssink.Config{
				URL:     c.Diagnostics.NATS.URL,
				Subject: c.Diagnostics.NATS.Subject,
				Logger:  logger.WithFields(logging.Component("diagnostics.nats")),
			})
			if err != nil {
				return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "connect nats diagnostics sink")
			}
			sinks = append(sinks, s)
		case SinkNone:
		default:
			return nil, errors.Configuration("unknown diagnostics sink %q", kind)
		}
	}

	switch len(sinks) {
	case 0:
		return diagnostics.Nop, nil
	case 1:
		return sinks[0], nil
	default:
		return diagnostics.Multi(sinks...), nil
	}
}

// Engine 按配置组装批量引擎
func (c *Config) Engine(logger logging.Logger) (*batch.Engine, error) {
	sink, err := c.Sink(logger)
	if err != nil {
		return nil, err
	}
	return batch.NewEngine(
		batch.WithConfiguration(c.Batch.Configuration()),
		batch.WithSink(sink),
	), nil
}
