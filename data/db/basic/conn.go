package basic

import (
	"context"
	"database/sql"

	core "ormbatch/data/db"
	"ormbatch/data/db/dialect"
)

// Conn 固定在一条物理连接上的会话，由 DB.Session 创建。
// 关闭由 Session 返回的 release 负责，Close 本身不归还连接。
type Conn struct {
	conn    *sql.Conn
	dialect dialect.Dialect
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := c.conn.QueryContext(ctx, c.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: c.conn.QueryRowContext(ctx, c.dialect.Rebind(query), args...)}
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, c.dialect.Rebind(query), args...)
}

func (c *Conn) Begin(ctx context.Context) (core.ITransaction, error) {
	return c.BeginTx(ctx, nil)
}

func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	tx, err := c.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &connTx{Tx: Tx{tx: tx, dialect: c.dialect}, conn: c.conn}, nil
}

func (c *Conn) Ping(ctx context.Context) error { return c.conn.PingContext(ctx) }
func (c *Conn) Close() error                   { return nil }
func (c *Conn) Raw() any                       { return c.conn }

func (c *Conn) GetDialectName() string {
	return string(c.dialect.Name())
}

// connTx 在固定连接上开启的事务，Ping 走所属连接
type connTx struct {
	Tx
	conn *sql.Conn
}

func (t *connTx) Ping(ctx context.Context) error { return t.conn.PingContext(ctx) }
