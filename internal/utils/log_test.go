package utils

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogInterceptor(t *testing.T) {
	var out bytes.Buffer
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	li := NewLogInterceptorWithClock(&out, clock)

	n, err := li.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "seq=1 time=2024-05-01T10:00:00Z first\n", out.String())

	_, err = li.Write([]byte("ond\r\nthird"))
	require.NoError(t, err)
	require.NoError(t, li.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "seq=2 time=2024-05-01T10:00:00Z second", lines[1])
	assert.Equal(t, "seq=3 time=2024-05-01T10:00:00Z third", lines[2])

	// nothing left to flush
	require.NoError(t, li.Close())
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 3)
}

func TestMultiLogHandler(t *testing.T) {
	var debugOut, infoOut bytes.Buffer
	debug := slog.NewTextHandler(&debugOut, &slog.HandlerOptions{Level: slog.LevelDebug})
	info := slog.NewTextHandler(&infoOut, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiLogHandler(debug, info)).With("component", "test").WithGroup("g")
	logger.Debug("only debug", "k", 1)
	logger.Info("both", "k", 2)

	assert.Contains(t, debugOut.String(), "only debug")
	assert.Contains(t, debugOut.String(), "component=test g.k=2")
	assert.NotContains(t, infoOut.String(), "only debug")
	assert.Contains(t, infoOut.String(), "both")
}
