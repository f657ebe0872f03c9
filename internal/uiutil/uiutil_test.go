package uiutil

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevelsFromVerbosity(t *testing.T) {
	require.Equal(t, hclog.Warn, NewLogger("otto", 0).GetLevel())
	require.Equal(t, hclog.Info, NewLogger("otto", 1).GetLevel())
	require.Equal(t, hclog.Debug, NewLogger("otto", 2).GetLevel())
	require.Equal(t, hclog.Trace, NewLogger("otto", 3).GetLevel())
}

func TestTaskColorCyclesPalette(t *testing.T) {
	c0 := TaskColor(0)
	c5 := TaskColor(5)
	require.Equal(t, c0, c5)
}
