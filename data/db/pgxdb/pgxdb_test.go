package pgxdb

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "ormbatch/data/db"
)

func TestToTxOptions(t *testing.T) {
	assert.Equal(t, pgx.TxOptions{}, toTxOptions(nil))

	o := toTxOptions(&sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true})
	assert.Equal(t, pgx.Serializable, o.IsoLevel)
	assert.Equal(t, pgx.ReadOnly, o.AccessMode)

	o = toTxOptions(&sql.TxOptions{Isolation: sql.LevelSnapshot})
	assert.Equal(t, pgx.RepeatableRead, o.IsoLevel)
}

func TestCommandResult(t *testing.T) {
	r := commandResult(pgconn.NewCommandTag("DELETE 3"))
	n, err := r.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = r.LastInsertId()
	assert.Error(t, err)
}

// 需要 ORMBATCH_PG_DSN 指向可用的 PostgreSQL，未设置时跳过
func TestDB_Integration(t *testing.T) {
	dsn := os.Getenv("ORMBATCH_PG_DSN")
	if dsn == "" {
		t.Skip("ORMBATCH_PG_DSN not set")
	}
	ctx := context.Background()
	db, err := New(ctx, core.DBConfig{DSN: dsn})
	require.NoError(t, err)
	defer db.Close()

	session, release, err := db.Session(ctx)
	require.NoError(t, err)
	defer release()

	_, err = session.Exec(ctx, "CREATE TEMP TABLE scratch (id bigint PRIMARY KEY, title text)")
	require.NoError(t, err)

	copier, ok := session.Raw().(Copier)
	require.True(t, ok)
	n, err := copier.CopyFrom(ctx, pgx.Identifier{"scratch"}, []string{"id", "title"},
		pgx.CopyFromRows([][]any{{int64(1), "T1"}, {int64(2), "T2"}}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var title string
	require.NoError(t, session.QueryRow(ctx, "SELECT title FROM scratch WHERE id = ?", 2).Scan(&title))
	assert.Equal(t, "T2", title)
}
