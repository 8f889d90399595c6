package natssink

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ormbatch/batch/diagnostics"
	"ormbatch/logging"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []message
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{subject: subject, data: data})
	return nil
}

func TestEmit_PublishesPerKindSubject(t *testing.T) {
	pub := &fakePublisher{}
	s := &Sink{pub: pub, subject: "batch", logger: logging.NewNoopLogger()}

	e := diagnostics.NewEvent(diagnostics.KindBulk, "BulkUpdate", "bulk update").WithSQL("UPDATE x")
	e.Provider = "postgres"
	e.Rows = 12
	e.Duration = 40 * time.Millisecond
	s.Emit(context.Background(), e)
	s.Emit(context.Background(), diagnostics.Event{Message: "untyped"})

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "batch.bulk", pub.msgs[0].subject)
	assert.Equal(t, "batch.unknown", pub.msgs[1].subject)

	got, err := decode(pub.msgs[0].data)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Kind, got.Kind)
	assert.Equal(t, "postgres", got.Provider)
	assert.Equal(t, e.Fingerprint, got.Fingerprint)
	assert.Equal(t, int64(12), got.Rows)
	assert.Equal(t, 40*time.Millisecond, got.Duration)
	assert.True(t, e.Time.Equal(got.Time))
}

func TestEmit_OmitsEmptyFields(t *testing.T) {
	pub := &fakePublisher{}
	s := &Sink{pub: pub, subject: "batch", logger: logging.NewNoopLogger()}
	s.Emit(context.Background(), diagnostics.NewEvent(diagnostics.KindFallback, "InsertAll", "fallback"))

	require.Len(t, pub.msgs, 1)
	assert.NotContains(t, string(pub.msgs[0].data), `"sql"`)
	assert.NotContains(t, string(pub.msgs[0].data), `"rows"`)
}

func TestEmit_PublishFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	s := &Sink{pub: &fakePublisher{err: fmt.Errorf("nats: connection closed")}, subject: "batch", logger: logging.NewStdLogger("").WithOutput(&buf)}
	s.Emit(context.Background(), diagnostics.NewEvent(diagnostics.KindStatement, "DeleteFromQuery", "x"))
	assert.Contains(t, buf.String(), "[natssink] publish failed")
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := decode([]byte("{"))
	assert.Error(t, err)
}
