package redissink

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ormbatch/batch/diagnostics"
	"ormbatch/logging"
)

type fakeClient struct {
	calls []*redis.XAddArgs
	err   error
}

func (f *fakeClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.calls = append(f.calls, a)
	cmd := redis.NewStringCmd(ctx, "xadd", a.Stream)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal("1-0")
	}
	return cmd
}

func TestEmit_WritesStreamEntry(t *testing.T) {
	fc := &fakeClient{}
	s := &Sink{client: fc, stream: "batch:events", maxLen: 1000, logger: logging.NewNoopLogger()}

	e := diagnostics.NewEvent(diagnostics.KindStatement, "DeleteFromQuery", "statement executed").
		WithSQL(`DELETE FROM "main"."blogs"`)
	e.Provider = "sqlite"
	e.Rows = 4
	e.Duration = 250 * time.Millisecond
	s.Emit(context.Background(), e)

	require.Len(t, fc.calls, 1)
	args := fc.calls[0]
	assert.Equal(t, "batch:events", args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	values := args.Values.(map[string]any)
	assert.Equal(t, e.ID, values["id"])
	assert.Equal(t, "statement", values["kind"])
	assert.Equal(t, "sqlite", values["provider"])
	assert.Equal(t, e.Fingerprint, values["fingerprint"])
	assert.Equal(t, "4", values["rows"])
	assert.Equal(t, "250", values["duration_ms"])
}

func TestEmit_NoTrimWithoutMaxLen(t *testing.T) {
	fc := &fakeClient{}
	s := &Sink{client: fc, stream: "s", logger: logging.NewNoopLogger()}
	s.Emit(context.Background(), diagnostics.NewEvent(diagnostics.KindBulk, "InsertAll", "bulk"))
	require.Len(t, fc.calls, 1)
	assert.Zero(t, fc.calls[0].MaxLen)
	assert.False(t, fc.calls[0].Approx)
}

func TestEmit_FailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	fc := &fakeClient{err: fmt.Errorf("connection refused")}
	s := &Sink{client: fc, stream: "s", logger: logging.NewStdLogger("").WithOutput(&buf)}

	s.Emit(context.Background(), diagnostics.NewEvent(diagnostics.KindFallback, "UpdateAll", "fallback"))
	assert.Contains(t, buf.String(), "[redissink] xadd failed")
	assert.Contains(t, buf.String(), "connection refused")
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"})
	assert.Equal(t, "ormbatch:diagnostics", s.stream)
	assert.NotNil(t, s.client)
	assert.NotNil(t, s.logger)
}
