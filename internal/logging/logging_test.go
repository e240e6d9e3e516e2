package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
		err  bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"ERROR", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if c.err {
			assert.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestNewWriter_JSONAndLiveLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	log := NewWriter(&buf, lvl)

	log.Debug("hidden")
	assert.Zero(t, buf.Len())

	lvl.SetLevel(zapcore.DebugLevel)
	log.Debug("shown", zap.String("key", "friends:u1"))
	require.NoError(t, log.Sync())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "friends:u1", line["key"])
	assert.Contains(t, line, "caller")
}

func TestNew_RejectsBadLevel(t *testing.T) {
	_, _, err := New("chatty")
	require.Error(t, err)
}
