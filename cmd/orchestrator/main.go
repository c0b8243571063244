package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	simulate bool
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Deployment lifecycle orchestrator for OpenStack workloads",
	Long: `orchestrator drives deployments of virtual infrastructure through
their lifecycle: deploy, configure, scale, update, and delete. Workflows
run on a durable engine so interrupted operations resume instead of
leaving half-built stacks behind.

Templates are YAML files describing a network and one or more VM groups;
see the deploy command. With --simulate all backend calls go to an
in-memory cloud, which is handy for trying templates out.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	// Commands see cancellation through cmd.Context(), so an interrupt
	// unblocks result waits and lets deferred cleanup run.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"orchestrator version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./orchestrator.yaml)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "use the in-memory cloud instead of OpenStack and Ansible")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(scaleCmd)
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(cleanupCmd)
}
