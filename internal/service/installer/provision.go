package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/ottershipper/installer/internal/config"
	"github.com/ottershipper/installer/internal/logger"
)

// checkPort confirms the service port is not already bound.
// A successful short-lived bind means no other listener holds the port.
// An existing configuration decides the port; otherwise the default applies.
func (i *installer) checkPort(ctx context.Context) error {
	port := config.DefaultPort
	if cfg, err := config.Load(i.state.ConfigPath); err == nil {
		port = cfg.Server.Port
	}

	probe, err := i.listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return failf(CategoryPortConflict, "port %d is already bound: %v", port, err)
	}

	if probe != nil {
		_ = probe.Close()
	}

	logger.InfoKV(ctx, "Target port is free", "port", port)

	return nil
}

// provisionHost ensures the service identity and its directories exist with
// correct ownership. Both creations are no-ops on re-run.
func (i *installer) provisionHost(ctx context.Context) error {
	uid, gid, err := i.ensureServiceUser(ctx)
	if err != nil {
		return newError(CategoryProvisioning, err)
	}

	if err = i.ensureDirectories(ctx, uid, gid); err != nil {
		return newError(CategoryProvisioning, err)
	}

	return nil
}

// ensureServiceUser creates the unprivileged non-interactive system user
// unless it already exists, and returns its numeric IDs.
func (i *installer) ensureServiceUser(ctx context.Context) (int, int, error) {
	existing, err := i.lookupUser(i.state.ServiceIdentity)
	if err == nil {
		logger.InfoKV(ctx, "Service user already exists", "user", i.state.ServiceIdentity)
		return parseUserIDs(existing)
	}

	var unknown user.UnknownUserError
	if !errors.As(err, &unknown) {
		return 0, 0, fmt.Errorf("look up %s: %w", i.state.ServiceIdentity, err)
	}

	logger.InfoKV(ctx, "Creating service user", "user", i.state.ServiceIdentity)

	err = i.runner.Run(ctx, "useradd",
		"--system",
		"--home-dir", i.state.DataDir,
		"--no-create-home",
		"--shell", "/usr/sbin/nologin",
		i.state.ServiceIdentity)
	if err != nil {
		return 0, 0, err
	}

	created, err := i.lookupUser(i.state.ServiceIdentity)
	if err != nil {
		return 0, 0, fmt.Errorf("look up %s after creation: %w", i.state.ServiceIdentity, err)
	}

	return parseUserIDs(created)
}

// ensureDirectories creates the configuration and data directories.
// The data directory belongs to the service user; the configuration directory
// stays world-readable.
func (i *installer) ensureDirectories(ctx context.Context, uid, gid int) error {
	if err := os.MkdirAll(i.paths.ConfigDir, configDirMode); err != nil {
		return fmt.Errorf("create %s: %w", i.paths.ConfigDir, err)
	}

	if err := os.MkdirAll(i.state.DataDir, dataDirMode); err != nil {
		return fmt.Errorf("create %s: %w", i.state.DataDir, err)
	}

	if err := i.chown(i.state.DataDir, uid, gid); err != nil {
		return fmt.Errorf("chown %s: %w", i.state.DataDir, err)
	}

	logger.InfoKV(ctx, "Provisioned directories",
		"config_dir", i.paths.ConfigDir, "data_dir", i.state.DataDir)

	return nil
}

// parseUserIDs converts the string IDs of a user record to integers.
func parseUserIDs(record *user.User) (int, int, error) {
	uid, err := strconv.Atoi(record.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("parse uid %q: %w", record.Uid, err)
	}

	gid, err := strconv.Atoi(record.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("parse gid %q: %w", record.Gid, err)
	}

	return uid, gid, nil
}
