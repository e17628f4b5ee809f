package log

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// capture points the global logger at a buffer for the duration of t.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	prev := GetLevel()
	Redirect(&buf)
	t.Cleanup(func() {
		Redirect(os.Stdout)
		logLevel.SetLevel(prev)
	})
	return &buf
}

func entries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestSetLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" INFO ", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"Warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"panic", zapcore.PanicLevel},
		{"fatal", zapcore.FatalLevel},
	}

	prev := GetLevel()
	t.Cleanup(func() { logLevel.SetLevel(prev) })

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			require.NoError(t, SetLevel(tc.in))
			require.Equal(t, tc.want, GetLevel())
		})
	}

	t.Run("unknown", func(t *testing.T) {
		require.NoError(t, SetLevel("error"))
		err := SetLevel("verbose")
		require.Error(t, err)
		require.Contains(t, err.Error(), "verbose")
		require.Equal(t, zapcore.ErrorLevel, GetLevel())
	})
}

func TestLevelFiltersEntries(t *testing.T) {
	buf := capture(t)
	require.NoError(t, SetLevel("warn"))

	Debug("claim polled")
	Info("job dispatched")
	Warn("lease nearly expired", "job_id", "j1")
	Error("job failed", "job_id", "j1", "code", "MODEL_ERROR")

	got := entries(t, buf)
	require.Len(t, got, 2)

	require.Equal(t, "warn", got[0]["level"])
	require.Equal(t, "lease nearly expired", got[0]["msg"])
	require.Contains(t, got[0], "timestamp")

	require.Equal(t, "error", got[1]["level"])
	require.Equal(t, "MODEL_ERROR", got[1]["code"])
}

func TestWithCarriesFields(t *testing.T) {
	buf := capture(t)
	require.NoError(t, SetLevel("debug"))

	jl := With("job_id", "j1", "job_type", "EXECUTE")
	jl.Debug("dispatching")
	jl.With("attempt", 2).Warn("retrying")

	got := entries(t, buf)
	require.Len(t, got, 2)
	for _, entry := range got {
		require.Equal(t, "j1", entry["job_id"])
		require.Equal(t, "EXECUTE", entry["job_type"])
	}
	require.NotContains(t, got[0], "attempt")
	require.EqualValues(t, 2, got[1]["attempt"])
}

func TestPanicLogsBeforePanicking(t *testing.T) {
	buf := capture(t)

	require.PanicsWithValue(t, "bad state", func() {
		Panic("bad state", "job_id", "j1")
	})

	got := entries(t, buf)
	require.Len(t, got, 1)
	require.Equal(t, "panic", got[0]["level"])
}

func TestClean(t *testing.T) {
	require.Equal(t, "debug", Clean("  DeBuG\t"))
	require.Empty(t, Clean("   "))
}
