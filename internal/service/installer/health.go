package installer

import (
	"context"
	"net"
	"strconv"

	"github.com/ottershipper/installer/internal/config"
	"github.com/ottershipper/installer/internal/logger"
)

// checkHealth confirms the started instance is alive within a bounded wait.
// An instance that never reports active is a fatal, terminal failure.
// For network-facing configurations a listen probe follows; its failure is a
// warning only, since the server may still be binding asynchronously.
func (i *installer) checkHealth(ctx context.Context) error {
	logger.Info(ctx, "Waiting for the service to report active")
	i.sleep(healthSettleDelay)

	active := false

	for attempt := 1; attempt <= healthProbeAttempts; attempt++ {
		if err := i.runner.Run(ctx, "systemctl", "is-active", "--quiet", ServiceName); err == nil {
			active = true
			break
		}

		i.sleep(healthProbeDelay)
	}

	if !active {
		return failf(CategoryHealth,
			"service did not report active after %d probes, inspect logs with: journalctl -u %s -n 50",
			healthProbeAttempts, ServiceName)
	}

	logger.Info(ctx, "Service is active")

	cfg, err := config.Load(i.state.ConfigPath)
	if err != nil {
		logger.WarnKV(ctx, "Could not read configuration for the listen probe", "error", err)
		return nil
	}

	if cfg.Server.Transport != "http" {
		return nil
	}

	i.checkListening(ctx, cfg)

	return nil
}

// checkListening polls the configured port with bounded retries.
func (i *installer) checkListening(ctx context.Context, cfg *config.Config) {
	host := cfg.Server.BindAddress
	if host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	address := net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))

	for attempt := 1; attempt <= listenProbeAttempts; attempt++ {
		conn, err := i.dial("tcp", address, dialTimeout)
		if err == nil {
			if conn != nil {
				_ = conn.Close()
			}

			logger.InfoKV(ctx, "Service is listening", "address", address)

			return
		}

		i.sleep(listenProbeDelay)
	}

	logger.WarnKV(ctx, "Service is active but not listening yet, it may still be starting",
		"address", address)
}
