package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-chainsync/types"
)

func TestManagerWritesJSONToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "chainsync.log")

	m, err := NewManager(&types.LoggerConfig{
		Level:  "warning",
		Format: "json",
		Output: "file",
		File:   file,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), types.ErrServerAlreadyRunning)

	m.Info("Cache hit", zap.String("key", "balances:0xabc"))
	m.Warn("Serving stale value", zap.String("key", "casinoStats"))
	m.ErrorWithErrStack("Fetch failed", pkgerrors.Wrap(errors.New("node down"), "eth_call"))

	require.NoError(t, m.Stop())
	assert.ErrorIs(t, m.Stop(), types.ErrServerNotRunning)

	data, err := os.ReadFile(file)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2, "info is below the configured level")
	assert.Contains(t, lines[0], `"msg":"Serving stale value"`)
	assert.Contains(t, lines[1], `"cause":"node down"`)
	assert.Contains(t, lines[1], `"stack":[`)
}

func TestManagerRejectsMissingConfig(t *testing.T) {
	_, err := NewManager(nil)
	assert.ErrorIs(t, err, types.ErrLoggerConfigInvalid)

	_, err = NewManager(&types.LoggerConfig{Level: "info", Output: "file"})
	assert.ErrorIs(t, err, types.ErrLogFileIsEmpty)
}
