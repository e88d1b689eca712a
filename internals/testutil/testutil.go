package testutil

import (
	"path/filepath"
	"testing"
)

func TempDBPath(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	return filepath.Join(root, "results.db")
}
