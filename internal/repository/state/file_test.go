package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestFileRepository_SaveLoadRoundtrip ensures a receipt survives persistence.
func TestFileRepository_SaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "install-receipt.yaml"))

	receipt := &Receipt{
		Channel:          "stable",
		Tag:              "v1.4.2",
		Source:           "release:v1.4.2",
		Digest:           "deadbeef",
		BinaryPath:       "/usr/local/bin/ottershipper",
		BackupPath:       "/usr/local/bin/ottershipper.bak.20260101-000000",
		InstalledAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		InstallerVersion: "1.0.0",
	}

	require.NoError(t, repo.Save(context.Background(), receipt))

	loaded, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, receipt, loaded)
}

// TestFileRepository_LoadMissing reports ErrNotFound before the first save.
func TestFileRepository_LoadMissing(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "install-receipt.yaml"))

	_, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}
