package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/CZERTAINLY/batchdl/internal/log"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var ret []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		ret = append(ret, m)
	}
	return ret
}

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.ContextAttrs(context.Background(), slog.String("batch", "b1"))
	a := log.ContextAttrs(ctx, slog.Int("slot", 0))
	b := log.ContextAttrs(ctx, slog.Int("slot", 2))

	logger.InfoContext(a, "job started")
	logger.With("cmd", "run").InfoContext(b, "job started")
	logger.DebugContext(a, "hidden")
	logger.InfoContext(context.Background(), "plain")

	records := decode(t, &buf)
	require.Len(t, records, 3)
	require.Equal(t, "b1", records[0]["batch"])
	require.EqualValues(t, 0, records[0]["slot"])
	require.Equal(t, "b1", records[1]["batch"])
	require.EqualValues(t, 2, records[1]["slot"])
	require.Equal(t, "run", records[1]["cmd"])
	require.NotContains(t, records[2], "batch")
}

func TestVerbose(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, true)
	logger.Debug("process started", "pid", 42)

	records := decode(t, &buf)
	require.Len(t, records, 1)
	require.Equal(t, "DEBUG", records[0]["level"])
}
