package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with its subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	statusFlags := &StatusFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags),
		createValidateCommand(globalFlags),
		createStatusCommand(globalFlags, statusFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "watchdog",
		Short: "Keep long-running services alive",
		Long: `Watchdog starts a fixed set of services, probes their health over HTTP
and restarts them when they crash or stop answering.

Examples:
  watchdog run watchdog.toml
  watchdog validate watchdog.toml
  watchdog status --api-url=http://localhost:8080/api`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return root
}

// createRunCommand creates the run subcommand
func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run [config.toml]",
		Short: "Supervise the configured services",
		Long: `Start every configured service and keep it alive until SIGINT or SIGTERM.

Examples:
  watchdog run watchdog.toml
  watchdog run --config=/etc/watchdog.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchdog(cmd.Context(), resolveConfigPath(globalFlags.ConfigPath, args))
		},
	}
}

// createValidateCommand creates the validate subcommand
func createValidateCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config.toml]",
		Short: "Check a config file without starting anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd.OutOrStdout(), resolveConfigPath(globalFlags.ConfigPath, args))
		},
	}
}

// createStatusCommand creates the status subcommand
func createStatusCommand(globalFlags *GlobalFlags, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status from a running watchdog",
		Long: `Query the status API of a running watchdog.

Examples:
  watchdog status                                  # all services
  watchdog status --name=api                       # one service
  watchdog status --config=watchdog.toml           # API address from [server]
  watchdog status --api-url=http://remote:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *statusFlags
			f.ConfigPath = globalFlags.ConfigPath
			return showStatus(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVar(&statusFlags.Name, "name", "", "service name (optional)")
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "watchdog API URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", defaultAPITimeout, "request timeout")
	cmd.Flags().BoolVar(&statusFlags.Insecure, "insecure", false, "skip TLS verification for https API URLs")
	return cmd
}
