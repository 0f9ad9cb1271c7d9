package installer

import (
	"context"

	"github.com/ottershipper/installer/internal/logger"
)

// dependencyState is the tri-state result of probing the container engine.
type dependencyState int

const (
	// dependencyReady means the engine is installed and responsive.
	dependencyReady dependencyState = iota
	// dependencyAbsent means the engine binary is not installed.
	dependencyAbsent
	// dependencyUnresponsive means the engine is installed but its daemon does not answer.
	dependencyUnresponsive
)

// probeDependency checks presence and responsiveness of the container engine.
func (i *installer) probeDependency(ctx context.Context) dependencyState {
	if _, err := i.runner.LookPath(dependencyBinary); err != nil {
		return dependencyAbsent
	}

	if err := i.runner.Run(ctx, dependencyBinary, "info"); err != nil {
		return dependencyUnresponsive
	}

	return dependencyReady
}

// bootstrapDependency ensures the container engine is installed and running.
// On an already-bootstrapped host this performs only the responsiveness probe,
// keeping repeated runs idempotent.
func (i *installer) bootstrapDependency(ctx context.Context) error {
	switch i.probeDependency(ctx) {
	case dependencyReady:
		logger.Info(ctx, "Container engine is installed and responsive")
		return nil

	case dependencyAbsent:
		logger.InfoKV(ctx, "Installing container engine", "package", dependencyPackage)

		if err := i.runner.Run(ctx, "apt-get", "update", "-qq"); err != nil {
			return newError(CategoryDependency, err)
		}

		if err := i.runner.Run(ctx, "apt-get", "install", "-y", dependencyPackage); err != nil {
			return newError(CategoryDependency, err)
		}

		if err := i.runner.Run(ctx, "systemctl", "enable", "--now", dependencyUnit); err != nil {
			return newError(CategoryDependency, err)
		}

	case dependencyUnresponsive:
		logger.Info(ctx, "Container engine installed but not responding, starting it")

		if err := i.runner.Run(ctx, "systemctl", "start", dependencyUnit); err != nil {
			return newError(CategoryDependency, err)
		}
	}

	for attempt := 1; attempt <= dependencyProbeAttempts; attempt++ {
		if i.probeDependency(ctx) == dependencyReady {
			logger.Info(ctx, "Container engine is responsive")
			return nil
		}

		i.sleep(dependencyProbeDelay)
	}

	return failf(CategoryDependency,
		"container engine did not become responsive after %d probes", dependencyProbeAttempts)
}
