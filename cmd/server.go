package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zacharyburnett/matrixci/api/rest"
	"github.com/zacharyburnett/matrixci/internal/engine"
	"github.com/zacharyburnett/matrixci/pkg/logger"
)

var (
	// server command flags
	serverAddress   string
	serverWorkflows string
)

// serverCmd is the server subcommand.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP service",
	Long: `Serve the runner over HTTP: event intake, run history and logs, live
run event streaming over WebSocket, and workflow management. Workflows
are loaded from the --workflows directory and their schedule triggers
fire as cron jobs.`,
	Example: `  # Serve the workflows in .ci on the default address
  matrixci server --workflows .ci

  # Custom listen address and config file
  matrixci server --workflows .ci --address :9000 --config matrixci.yaml`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// server command flags
	serverCmd.Flags().StringVar(&serverAddress, "address", "", "listen address (overrides config)")
	serverCmd.Flags().StringVarP(&serverWorkflows, "workflows", "w", "", "directory of workflow files to serve")
}

func runServer(cmd *cobra.Command, args []string) error {
	overrides := map[string]string{}
	if cmd.Flags().Changed("address") {
		overrides["server.address"] = serverAddress
	}
	cfg, err := loadConfig(overrides)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	defer logger.Sync()

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	// Configured reporters only; a console reporter would interleave run
	// summaries with the request log.
	reporters, err := buildReporters(context.Background(), cfg, nil, false)
	if err != nil {
		return err
	}
	if reporters.Count() > 0 {
		eng.WithReporters(reporters)
		defer reporters.Close(context.Background())
	}

	srv := rest.NewServer(cfg, eng, serverWorkflows)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nshutting down...")
		cancel()
	}()

	if !quiet {
		fmt.Printf("matrixci %s\n", Version)
		fmt.Printf("  listening on %s\n", cfg.Server.Address)
		if serverWorkflows != "" {
			fmt.Printf("  workflows from %s\n", serverWorkflows)
		}
		fmt.Println("  press Ctrl+C to stop")
	}

	if err := srv.StartWithContext(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
