package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/HsiangNianian/uiabridge/internal/config"
	"github.com/HsiangNianian/uiabridge/internal/logger"
)

func TestFlagsOverrideConfig(t *testing.T) {
	cmd := NewRootCmd(logger.New("test"))
	require.NoError(t, cmd.ParseFlags([]string{
		"--controller-url", "ws://10.0.0.5:8020/ws/ext",
		"--status-addr", "127.0.0.1:9999",
		"-v", "debug",
	}))

	cfg := config.Default()
	cfg.Browser.DebuggerURL = "127.0.0.1:9222"

	var flags rootFlags
	flags.controllerURL, _ = cmd.Flags().GetString("controller-url")
	flags.statusAddr, _ = cmd.Flags().GetString("status-addr")
	flags.apply(cmd, &cfg)

	require.Equal(t, "ws://10.0.0.5:8020/ws/ext", cfg.ControllerURL())
	require.Equal(t, "127.0.0.1:9999", cfg.Status.ListenAddr)
	require.Equal(t, "127.0.0.1:9222", cfg.Browser.DebuggerURL)
}

func TestRejectsArguments(t *testing.T) {
	cmd := NewRootCmd(logger.New("test"))
	cmd.SetArgs([]string{"extra"})
	require.Error(t, cmd.Execute())
}
