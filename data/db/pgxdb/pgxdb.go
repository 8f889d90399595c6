// Package pgxdb 以 jackc/pgx 连接池实现 db.IDatabase。
//
// 与 database/sql 版本相比多出 COPY 能力：Raw() 返回的句柄满足 Copier，
// PostgreSQL 批量插入直接走 CopyFrom。
package pgxdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	core "ormbatch/data/db"
	"ormbatch/data/db/dialect"
)

// DBTX 数据库操作接口，*pgxpool.Pool、*pgxpool.Conn 与 pgx.Tx 都满足
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Copier COPY FROM 能力
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var pg = dialect.New("postgres")

// DB 连接池级实现
type DB struct {
	pool *pgxpool.Pool
}

// New 按 DBConfig 建立连接池；DSN 为空时由分项拼接
func New(ctx context.Context, config core.DBConfig) (*DB, error) {
	dsn := config.DSN
	if dsn == "" {
		port := config.Port
		if port == 0 {
			port = 5432
		}
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s", config.Username, config.Password, config.Host, port, config.Database)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = time.Duration(config.ConnMaxLifetime) * time.Second
	}
	if config.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = time.Duration(config.ConnMaxIdleTime) * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{pool: pool}, nil
}

// Wrap 包装已有连接池
func Wrap(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	return queryOn(ctx, d.pool, query, args)
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: d.pool.QueryRow(ctx, pg.Rebind(query), args...)}
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return execOn(ctx, d.pool, query, args)
}

func (d *DB) Begin(ctx context.Context) (core.ITransaction, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	tx, err := d.pool.BeginTx(ctx, toTxOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Session 从连接池占用一条连接，release 归还
func (d *DB) Session(ctx context.Context) (core.IDatabase, func() error, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	release := func() error {
		conn.Release()
		return nil
	}
	return &Conn{conn: conn}, release, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.pool.Ping(ctx) }

func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

// Raw 返回 *pgxpool.Pool
func (d *DB) Raw() any               { return d.pool }
func (d *DB) GetDialectName() string { return string(dialect.NamePostgres) }

// Conn 固定连接会话
type Conn struct {
	conn *pgxpool.Conn
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	return queryOn(ctx, c.conn, query, args)
}

func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: c.conn.QueryRow(ctx, pg.Rebind(query), args...)}
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return execOn(ctx, c.conn, query, args)
}

func (c *Conn) Begin(ctx context.Context) (core.ITransaction, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	tx, err := c.conn.BeginTx(ctx, toTxOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (c *Conn) Ping(ctx context.Context) error { return c.conn.Ping(ctx) }
func (c *Conn) Close() error                   { return nil }

// Raw 返回 *pgxpool.Conn
func (c *Conn) Raw() any               { return c.conn }
func (c *Conn) GetDialectName() string { return string(dialect.NamePostgres) }

// Tx 事务
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	return queryOn(ctx, t.tx, query, args)
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: t.tx.QueryRow(ctx, pg.Rebind(query), args...)}
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return execOn(ctx, t.tx, query, args)
}

func (t *Tx) Begin(ctx context.Context) (core.ITransaction, error) {
	return nil, fmt.Errorf("pgxdb.Tx: nested transactions are not supported")
}

func (t *Tx) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	return nil, fmt.Errorf("pgxdb.Tx: nested transactions are not supported")
}

func (t *Tx) Ping(ctx context.Context) error { return t.tx.Conn().Ping(ctx) }
func (t *Tx) Close() error                   { return nil }

// Raw 返回 pgx.Tx
func (t *Tx) Raw() any               { return t.tx }
func (t *Tx) GetDialectName() string { return string(dialect.NamePostgres) }

func (t *Tx) Commit() error   { return t.tx.Commit(context.Background()) }
func (t *Tx) Rollback() error { return t.tx.Rollback(context.Background()) }

func queryOn(ctx context.Context, q DBTX, query string, args []any) (core.IRows, error) {
	rows, err := q.Query(ctx, pg.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func execOn(ctx context.Context, q DBTX, query string, args []any) (sql.Result, error) {
	tag, err := q.Exec(ctx, pg.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return commandResult(tag), nil
}

func toTxOptions(opts *sql.TxOptions) pgx.TxOptions {
	var o pgx.TxOptions
	if opts == nil {
		return o
	}
	switch opts.Isolation {
	case sql.LevelReadUncommitted:
		o.IsoLevel = pgx.ReadUncommitted
	case sql.LevelReadCommitted:
		o.IsoLevel = pgx.ReadCommitted
	case sql.LevelRepeatableRead, sql.LevelSnapshot:
		o.IsoLevel = pgx.RepeatableRead
	case sql.LevelSerializable, sql.LevelLinearizable:
		o.IsoLevel = pgx.Serializable
	}
	if opts.ReadOnly {
		o.AccessMode = pgx.ReadOnly
	}
	return o
}

// commandResult 把 pgconn.CommandTag 适配为 sql.Result
type commandResult pgconn.CommandTag

func (r commandResult) LastInsertId() (int64, error) {
	return 0, fmt.Errorf("pgxdb: LastInsertId is not supported, use RETURNING")
}

func (r commandResult) RowsAffected() (int64, error) {
	return pgconn.CommandTag(r).RowsAffected(), nil
}

// Rows 包装 pgx.Rows
type Rows struct {
	rows pgx.Rows
}

func (r *Rows) Next() bool             { return r.rows.Next() }
func (r *Rows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *Rows) Err() error             { return r.rows.Err() }

func (r *Rows) Close() error {
	r.rows.Close()
	return r.rows.Err()
}

func (r *Rows) Columns() ([]string, error) {
	fds := r.rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}
	return cols, nil
}

// Row 包装 pgx.Row
type Row struct {
	row pgx.Row
}

func (r *Row) Scan(dest ...any) error { return r.row.Scan(dest...) }
func (r *Row) Err() error             { return nil }

var (
	_ core.IDatabase        = (*DB)(nil)
	_ core.ISessionProvider = (*DB)(nil)
	_ core.ITransaction     = (*Tx)(nil)
	_ core.IDatabase        = (*Conn)(nil)
	_ DBTX                  = (*pgxpool.Pool)(nil)
	_ DBTX                  = (*pgxpool.Conn)(nil)
	_ Copier                = (*pgxpool.Pool)(nil)
	_ Copier                = (*pgxpool.Conn)(nil)
)
