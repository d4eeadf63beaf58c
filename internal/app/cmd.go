package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// サブコマンド名。
const (
	CommandServe       = "serve"
	CommandWorker      = "worker"
	CommandMigrate     = "migrate"
	CommandHealthcheck = "healthcheck"
)

// NewRootCommand はdomainmanのコマンドツリーを構築する。
// サブコマンドを省略した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	serve := newServeCommand(w)

	root := &cobra.Command{
		Use:           "domainman",
		Short:         "Subdomain provisioning service backed by Netlify DNS",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		serve,
		newWorkerCommand(w),
		newMigrateCommand(w),
		newHealthcheckCommand(),
	)
	return root
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   CommandServe,
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			log.Info("starting application",
				slog.String("command", CommandServe),
				slog.String("port", cfg.ServerPort),
				slog.String("base_domain", cfg.NetlifyDomain),
			)
			return runServe(cmd.Context(), cfg, log)
		},
	}
}

func newWorkerCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   CommandWorker,
		Short: "Run the DNS drift audit worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			log.Info("starting application",
				slog.String("command", CommandWorker),
				slog.Duration("audit_interval", cfg.AuditInterval),
			)
			return runWorker(cmd.Context(), cfg, log)
		},
	}
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	var steps int

	migrateCmd := &cobra.Command{
		Use:   CommandMigrate,
		Short: "Apply all pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg, 0)
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the given number of migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be a positive number, got %d", steps)
			}
			cfg, _, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg, steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrateVersion(cmd.OutOrStdout(), cfg)
		},
	}

	migrateCmd.AddCommand(down, version)
	return migrateCmd
}

// newHealthcheckCommand は設定を読み込まずに/healthを確認するサブコマンドを返す。
func newHealthcheckCommand() *cobra.Command {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	cmd := &cobra.Command{
		Use:   CommandHealthcheck,
		Short: "Probe the local /health endpoint (for container health checks)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(port)
		},
	}
	cmd.Flags().StringVar(&port, "port", port, "port of the local server")
	return cmd
}
