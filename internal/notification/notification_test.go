package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingNotifier struct{ err error }

func (f failingNotifier) Send(context.Context, Message) error { return f.err }

func TestLoggerNotifierWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	n := NewLoggerNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := n.Send(context.Background(), Message{
		Kind:        KindTransferReceived,
		Destination: CustomerDestination(42),
		Body:        "received 10.00 USD",
	})
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "notification", record["msg"])
	assert.Equal(t, KindTransferReceived, record["kind"])
	assert.Equal(t, "customer:42", record["destination"])
}

func TestNilLoggerNotifierIsSilent(t *testing.T) {
	var n *LoggerNotifier
	assert.NoError(t, n.Send(context.Background(), Message{Kind: KindTransferSent}))
}

func TestMultiDeliversToAllAndReportsFirstError(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")
	m := Multi{
		failingNotifier{err: boom},
		NewLoggerNotifier(slog.New(slog.NewJSONHandler(&buf, nil))),
		failingNotifier{err: errors.New("second")},
	}

	err := m.Send(context.Background(), Message{Kind: KindTransactionReversed})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), KindTransactionReversed)
}
