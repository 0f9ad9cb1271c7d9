package installer

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ottershipper/installer/internal/release"
)

const (
	// ServiceName is the supervised service and its system user.
	ServiceName = "ottershipper"

	// configFilename is the configuration file name under the config directory.
	configFilename = "config.toml"

	// unitFilename is the systemd unit file name.
	unitFilename = ServiceName + ".service"

	// receiptFilename records the last successful installation, under the data directory.
	receiptFilename = "install-receipt.yaml"

	// Container engine the service depends on: probe binary, Debian-family
	// package and supervised unit.
	dependencyBinary  = "docker"
	dependencyPackage = "docker.io"
	dependencyUnit    = "docker"

	// backupSuffix precedes the timestamp in backup file names.
	backupSuffix = ".bak."

	// backupTimestampLayout names backups sortably by creation time.
	backupTimestampLayout = "20060102-150405"

	// binaryFileMode is the mode of the installed binary and its backups.
	binaryFileMode os.FileMode = 0o755

	// unitFileMode is the mode of the written unit file.
	unitFileMode os.FileMode = 0o644

	// configDirMode keeps the configuration directory world-readable.
	configDirMode os.FileMode = 0o755

	// dataDirMode restricts the data directory to the service user.
	dataDirMode os.FileMode = 0o750

	// Bounded waits. All suspension points use fixed small retry counts with
	// fixed delays, never unbounded blocking.
	dependencyProbeAttempts = 5
	dependencyProbeDelay    = 2 * time.Second
	healthSettleDelay       = 2 * time.Second
	healthProbeAttempts     = 5
	healthProbeDelay        = time.Second
	listenProbeAttempts     = 10
	listenProbeDelay        = 500 * time.Millisecond
	dialTimeout             = time.Second
)

// Paths groups the host locations an installation touches.
// Defaults match the production layout; tests point them at temp directories.
type Paths struct {
	// BinDir holds the installed service binary.
	BinDir string
	// ConfigDir holds the service configuration.
	ConfigDir string
	// DataDir holds the database and the install receipt, owned by the service user.
	DataDir string
	// UnitDir holds the systemd unit file.
	UnitDir string
	// LockFile guards against concurrent installer runs.
	LockFile string
}

// DefaultPaths returns the production host layout.
func DefaultPaths() Paths {
	return Paths{
		BinDir:    "/usr/local/bin",
		ConfigDir: "/etc/" + ServiceName,
		DataDir:   "/var/lib/" + ServiceName,
		UnitDir:   "/etc/systemd/system",
		LockFile:  "/run/" + ServiceName + "-install.lock",
	}
}

// BinaryPath is the install path of the service binary.
func (p Paths) BinaryPath() string {
	return filepath.Join(p.BinDir, release.BinaryBaseName)
}

// ConfigPath is the service configuration file.
func (p Paths) ConfigPath() string {
	return filepath.Join(p.ConfigDir, configFilename)
}

// UnitPath is the systemd unit file.
func (p Paths) UnitPath() string {
	return filepath.Join(p.UnitDir, unitFilename)
}

// ReceiptPath is the install receipt file.
func (p Paths) ReceiptPath() string {
	return filepath.Join(p.DataDir, receiptFilename)
}

// InstallationState collects what a run has decided and done on the host.
type InstallationState struct {
	// BinaryInstallPath is where the service binary lives.
	BinaryInstallPath string
	// ConfigPath is the service configuration file.
	ConfigPath string
	// DataDir is the service data directory.
	DataDir string
	// ServiceIdentity is the system user the service runs as.
	ServiceIdentity string
	// UnitPath is the systemd unit file.
	UnitPath string
	// BackupPath is set iff a binary existed at BinaryInstallPath before this run.
	BackupPath string
	// ConfigCreated reports whether this run wrote a fresh configuration.
	ConfigCreated bool
}

// copyFile copies a regular file, truncating the destination if it exists.
func copyFile(source, destination string, mode os.FileMode) error {
	sourceFile, err := os.Open(filepath.Clean(source))
	if err != nil {
		return err
	}

	defer func() {
		_ = sourceFile.Close()
	}()

	destinationFile, err := os.OpenFile(filepath.Clean(destination), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(destinationFile, sourceFile); err != nil {
		_ = destinationFile.Close()

		return err
	}

	return destinationFile.Close()
}
