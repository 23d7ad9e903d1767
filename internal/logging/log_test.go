package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(&buf, "warn"))
	t.Cleanup(func() { _ = Init(os.Stderr, "info") })

	Info("[Manager] hidden %d", 1)
	Debug("[Manager] hidden")
	Warning("[Manager] kept %d", 2)
	Error("[Manager] kept %s", "too")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN  [Manager] kept 2")
	assert.Contains(t, out, "ERROR [Manager] kept too")
	assert.True(t, Enabled(WarningLevel))
	assert.False(t, Enabled(InfoLevel))
}

func TestInitUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	err := Init(&buf, "loud")
	t.Cleanup(func() { _ = Init(os.Stderr, "info") })

	assert.ErrorContains(t, err, `"loud"`)
	assert.True(t, Enabled(InfoLevel))
	assert.False(t, Enabled(DebugLevel))
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]Level{
		"error": ErrorLevel, "WARNING": WarningLevel, "warn": WarningLevel,
		"": InfoLevel, " debug ": DebugLevel,
	} {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	assert.Equal(t, "debug", DebugLevel.String())
	assert.Equal(t, "level(9)", Level(9).String())
}
