package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/ottershipper/installer/internal/logger"
)

// lockFileMode keeps the lock readable so operators can inspect the PID.
const lockFileMode os.FileMode = 0o644

var errInstallerAlreadyRunning = errors.New("another installer instance is running")

// acquireLock writes a PID lock file guarding against concurrent installer
// runs on the same host. A lock whose recorded process is no longer alive is
// treated as stale and replaced.
func acquireLock(ctx context.Context, path string) error {
	contents, err := os.ReadFile(path)

	switch {
	case err == nil:
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(contents)))
		if parseErr == nil && pid != os.Getpid() {
			process, findErr := ps.FindProcess(pid)
			if findErr == nil && process != nil {
				return fmt.Errorf("%w (pid %d)", errInstallerAlreadyRunning, pid)
			}
		}

		logger.InfoKV(ctx, "Removing stale installer lock", "path", path)

		if err = os.Remove(path); err != nil {
			return fmt.Errorf("remove stale lock: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read lock file: %w", err)
	}

	if err = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), lockFileMode); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}

	return nil
}

// releaseLock removes the lock file if it is present.
func releaseLock(path string) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
}
