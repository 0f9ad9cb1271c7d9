package installer

import (
	"bytes"
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/ottershipper/installer/internal/logger"

	// Ensure SHA256 is available for binary replacement validation.
	_ "crypto/sha256"
)

// replacementChecksumFunction re-validates the bytes written to the install path.
const replacementChecksumFunction crypto.Hash = crypto.SHA256

// unitTemplate is the supervised unit definition.
// %[1]s service user, %[2]s executable path, %[3]s data directory,
// %[4]s dependency unit.
const unitTemplate = `[Unit]
Description=OtterShipper server
Documentation=https://github.com/ottershipper/ottershipper
After=network-online.target %[4]s.service
Wants=network-online.target

[Service]
Type=simple
User=%[1]s
Group=%[1]s
ExecStart=%[2]s
WorkingDirectory=%[3]s
Restart=on-failure
RestartSec=5
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=full
ProtectHome=true
ReadWritePaths=%[3]s
StandardOutput=journal
StandardError=journal

[Install]
WantedBy=multi-user.target
`

// deploy drives the stop-old, replace-binary, start-new transition:
// stop previous instance (warn on failure), back up the previous binary
// (warn on failure), replace the binary, rewrite the unit, reload the
// supervisor, enable at boot (warn on failure) and start the service.
func (i *installer) deploy(ctx context.Context) error {
	i.stopPrevious(ctx)
	i.backupPrevious(ctx)

	if err := i.replaceBinary(ctx); err != nil {
		return newError(CategoryDeployment, err)
	}

	if err := i.writeUnit(ctx); err != nil {
		return newError(CategoryDeployment, err)
	}

	if err := i.runner.Run(ctx, "systemctl", "daemon-reload"); err != nil {
		return newError(CategoryDeployment, err)
	}

	if err := i.runner.Run(ctx, "systemctl", "enable", ServiceName); err != nil {
		// The install is startable without boot-time enablement; warn and move on.
		logger.WarnKV(ctx, "Could not enable service at boot", "error", err)
	}

	if err := i.runner.Run(ctx, "systemctl", "start", ServiceName); err != nil {
		return newError(CategoryDeployment, err)
	}

	logger.InfoKV(ctx, "Service started", "unit", unitFilename)

	return nil
}

// stopPrevious stops a currently active instance. Failure to stop is
// non-fatal: the unit restart after the binary replacement supersedes it.
func (i *installer) stopPrevious(ctx context.Context) {
	if err := i.runner.Run(ctx, "systemctl", "is-active", "--quiet", ServiceName); err != nil {
		return
	}

	logger.Info(ctx, "Stopping previous service instance")

	if err := i.runner.Run(ctx, "systemctl", "stop", ServiceName); err != nil {
		logger.WarnKV(ctx, "Could not stop previous instance, continuing", "error", err)
	}
}

// backupPrevious copies an existing binary to a timestamped backup before it
// is overwritten, then prunes older backups so exactly one prior version is
// retained. Backup and prune failures are non-fatal.
func (i *installer) backupPrevious(ctx context.Context) {
	if _, err := os.Stat(i.state.BinaryInstallPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.WarnKV(ctx, "Could not inspect previous binary", "error", err)
		}

		return
	}

	backupPath := i.state.BinaryInstallPath + backupSuffix + i.now().UTC().Format(backupTimestampLayout)

	if err := copyFile(i.state.BinaryInstallPath, backupPath, binaryFileMode); err != nil {
		logger.WarnKV(ctx, "Could not back up previous binary, continuing", "error", err)
		return
	}

	i.state.BackupPath = backupPath
	logger.InfoKV(ctx, "Backed up previous binary", "path", backupPath)

	i.pruneBackups(ctx, backupPath)
}

// pruneBackups removes every backup except the one just created.
func (i *installer) pruneBackups(ctx context.Context, keep string) {
	matches, err := filepath.Glob(i.state.BinaryInstallPath + backupSuffix + "*")
	if err != nil {
		return
	}

	for _, match := range matches {
		if match == keep {
			continue
		}

		if err = os.Remove(match); err != nil {
			logger.WarnKV(ctx, "Could not prune old backup", "path", match, "error", err)
			continue
		}

		logger.InfoKV(ctx, "Pruned old backup", "path", match)
	}
}

// replaceBinary installs the verified bytes at the install path.
// The checksum from the manifest is re-validated during the apply, so the
// install path can only ever receive bytes that passed verification.
func (i *installer) replaceBinary(ctx context.Context) error {
	if err := os.MkdirAll(i.paths.BinDir, configDirMode); err != nil {
		return fmt.Errorf("create %s: %w", i.paths.BinDir, err)
	}

	data, err := os.ReadFile(i.artifact.BinaryPath)
	if err != nil {
		return fmt.Errorf("read staged binary: %w", err)
	}

	if _, err = os.Stat(i.state.BinaryInstallPath); errors.Is(err, os.ErrNotExist) {
		if err = os.WriteFile(i.state.BinaryInstallPath, nil, binaryFileMode); err != nil {
			return fmt.Errorf("create %s: %w", i.state.BinaryInstallPath, err)
		}
	}

	options := goupdate.Options{
		TargetPath: i.state.BinaryInstallPath,
		TargetMode: binaryFileMode,
		Checksum:   i.digest,
		Hash:       replacementChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("apply binary: %w", err)
	}

	oldPath := i.state.BinaryInstallPath + ".old"
	if _, err = os.Stat(oldPath); err == nil {
		_ = os.Remove(oldPath)
	}

	logger.InfoKV(ctx, "Installed binary",
		"path", i.state.BinaryInstallPath, "digest", hex.EncodeToString(i.digest))

	return nil
}

// writeUnit rewrites the unit file unconditionally on every run to correct drift.
func (i *installer) writeUnit(ctx context.Context) error {
	contents := fmt.Sprintf(unitTemplate,
		i.state.ServiceIdentity, i.state.BinaryInstallPath, i.state.DataDir, dependencyUnit)

	if err := os.WriteFile(i.state.UnitPath, []byte(contents), unitFileMode); err != nil {
		return fmt.Errorf("write unit: %w", err)
	}

	logger.InfoKV(ctx, "Wrote service unit", "path", i.state.UnitPath)

	return nil
}
