package common

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The test binary itself is a real Go executable, so it doubles as the
// fixture for both of these checks without needing a checked-in binary.
func TestIsGoExecutable(t *testing.T) {
	self, err := os.Executable()
	require.NoError(t, err)

	got, err := IsGoExecutable(self)
	require.NoError(t, err)
	assert.True(t, got, "IsGoExecutable(%s) should be true", self)

	_, err = IsGoExecutable("/nonexistent/path/to/binary")
	assert.Error(t, err, "IsGoExecutable() on missing file should error")
}

func TestExtraceGoVersion(t *testing.T) {
	self, err := os.Executable()
	require.NoError(t, err)

	v, err := ExtraceGoVersion(self)
	require.NoError(t, err)
	assert.NotEmpty(t, v)
}

func TestGetExecutablePathFromPid(t *testing.T) {
	path, err := GetExecutablePathFromPid(os.Getpid())
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}
