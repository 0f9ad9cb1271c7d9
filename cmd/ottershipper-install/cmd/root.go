package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ottershipper/installer/internal/logger"
	"github.com/ottershipper/installer/internal/service/common"
	"github.com/ottershipper/installer/internal/service/installer"
	"github.com/ottershipper/installer/internal/version"
)

var (
	// nightly selects the rolling nightly build instead of the latest release.
	nightly bool
	// localBinary installs a pre-built binary instead of downloading one.
	localBinary string
	// logLevel controls log verbosity.
	logLevel string

	// errRootRequired signals an invocation without the privileges the run needs.
	errRootRequired = errors.New("this command must run as root")

	// rootCmd represents the base command installing or upgrading the server.
	rootCmd = &cobra.Command{
		Use:   "ottershipper-install",
		Short: "Install or upgrade the OtterShipper server on this host.",
		Long: `Installs the OtterShipper server binary and brings it under systemd supervision.

The installer resolves a release, verifies the downloaded binary against its
published checksum manifest, provisions the service user, directories and
default configuration, installs the binary and unit file, then starts the
service and waits for it to report healthy. Repeated runs are safe: existing
configuration is never overwritten and the previous binary is kept as a backup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true

			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			if !common.IsRoot() {
				return &installer.Error{
					Category: installer.CategoryUsage,
					Err:      fmt.Errorf("%w, re-run with sudo", errRootRequired),
				}
			}

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &installer.Options{
				Nightly:     nightly,
				LocalBinary: localBinary,
			}

			return installer.Run(ctx, options)
		},
	}
)

// Execute runs the ottershipper-install CLI and exits with a failure-specific
// status code on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(installer.ExitCode(err))
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().BoolVar(&nightly, "nightly", false, "install the rolling nightly build instead of the latest release")
	rootCmd.Flags().StringVar(&localBinary, "local-binary", "", "path to a pre-built binary to install instead of downloading")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
}
