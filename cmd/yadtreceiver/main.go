package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andante-project/yadtreceiver/pkg/agent"
	"github.com/andante-project/yadtreceiver/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "yadtreceiver",
	Short:   "yadtreceiver - host deployment agent",
	Long:    `yadtreceiver subscribes to a broadcaster bus and runs deployment requests for this host's targets, one replica at a time, via a distributed voting election.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"yadtreceiver version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent until terminated",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		a, err := agent.New(agent.Options{
			ConfigPath:  configPath,
			Version:     Version,
			MetricsAddr: metricsAddr,
		})
		if err != nil {
			return fmt.Errorf("starting agent: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			sig := <-sigCh
			log.WithComponent("agent").Info().Str("signal", sig.String()).Msg("shutdown signal received")
			cancel()
		}()

		runErrCh := make(chan error, 1)
		go func() { runErrCh <- a.Run(ctx) }()

		select {
		case err := <-runErrCh:
			if err != nil {
				return err
			}
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		a.Shutdown(shutdownCtx)
		return nil
	},
}

func init() {
	runCmd.Flags().String("config", "/etc/yadtreceiver/config.yaml", "path to the agent's YAML configuration file")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address to serve /metrics, /health, /ready, /live on (empty disables)")
}
