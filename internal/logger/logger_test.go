package logger

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"INFO":  zapcore.InfoLevel,
		"error": zapcore.ErrorLevel,
		"":      zapcore.InfoLevel,
		"1":     zapcore.DebugLevel,
		"4":     zapcore.Level(-4),
		"127":   zapcore.Level(-127),
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, in := range []string{"loud", "-1", "128", "200", "255", "256"} {
		_, err := ParseLevel(in)
		require.Error(t, err, in)
	}
}

func TestLevelFlag(t *testing.T) {
	log := New("test")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	log.AddLevelFlag(fs)

	require.NoError(t, fs.Parse([]string{"-v", "2"}))
	require.True(t, log.V(2).Enabled())
	require.False(t, log.V(3).Enabled())

	require.Error(t, fs.Parse([]string{"--verbosity", "nope"}))
}
