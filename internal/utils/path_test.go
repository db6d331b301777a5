package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{name: "empty path", input: "", wantError: true},
		{name: "relative path", input: "./test"},
		{name: "absolute path", input: "/tmp/test"},
		{name: "home path", input: "~/Music"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolvePath(tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(result))
			assert.False(t, strings.Contains(result, "~"))
		})
	}
}

func TestEnsureParentAndDirExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a", "b", "config.json")

	assert.False(t, DirExists(filepath.Dir(file)))
	require.NoError(t, EnsureParent(file))
	assert.True(t, DirExists(filepath.Dir(file)))

	// idempotent
	require.NoError(t, EnsureDir(filepath.Dir(file)))

	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o600))
	assert.False(t, DirExists(file))
}
