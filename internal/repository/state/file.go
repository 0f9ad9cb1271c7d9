package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Receipt records what the last successful installation run put on the host.
// It is informational: operators and follow-up runs can inspect it, but the
// installer never requires it to exist.
type Receipt struct {
	// Channel is the release track the artifact came from.
	Channel string `yaml:"channel"`
	// Tag is the release tag for remote sources.
	Tag string `yaml:"tag,omitempty"`
	// Source describes where the binary was obtained from.
	Source string `yaml:"source"`
	// Digest is the hex SHA-256 digest of the installed binary.
	Digest string `yaml:"digest"`
	// BinaryPath is where the binary was installed.
	BinaryPath string `yaml:"binary_path"`
	// BackupPath is the backup of the previous binary, when one existed.
	BackupPath string `yaml:"backup_path,omitempty"`
	// InstalledAt is when the run completed, in UTC.
	InstalledAt time.Time `yaml:"installed_at"`
	// InstallerVersion is the installer build that performed the run.
	InstallerVersion string `yaml:"installer_version"`
}

// Repository defines persistence operations for the install receipt.
type Repository interface {
	Load(ctx context.Context) (*Receipt, error)
	Save(ctx context.Context, receipt *Receipt) error
}

// FileRepository persists the receipt to a YAML file on disk.
type FileRepository struct {
	// path is the filesystem location of the receipt file.
	path string
	// mu protects concurrent access to the receipt file.
	mu sync.Mutex
}

// ErrNotFound is returned when no receipt has been written yet.
var ErrNotFound = errors.New("install receipt not found")

// receiptFilePermissions keeps the receipt readable for operators.
const receiptFilePermissions = 0o644

// NewFileRepository creates a repository that reads/writes YAML at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the receipt from disk.
func (r *FileRepository) Load(_ context.Context) (*Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read receipt file: %w", err)
	}

	var receipt Receipt
	if err = yaml.Unmarshal(contents, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt file: %w", err)
	}

	return &receipt, nil
}

// Save writes the receipt to disk.
func (r *FileRepository) Save(_ context.Context, receipt *Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}

	if err = os.WriteFile(r.path, data, receiptFilePermissions); err != nil {
		return fmt.Errorf("write receipt file: %w", err)
	}

	return nil
}
