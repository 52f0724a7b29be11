package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/virgo-archive/tapir/internal/cli"
)

var (
	configPath string
	verbose    bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tapir",
		Short: "A client for TAP-style astronomical archives",
		Long: `tapir drives remote archive queries through their job lifecycle and
downloads the resulting data products through a resumable local cache:
- query: submit synchronous or asynchronous queries and collect results
- download: stage and fetch bulk products, resuming interrupted transfers
- cache: inspect and clean the local product cache`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: auto-detect)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	cli.ConfigPath = &configPath
	cli.Verbose = &verbose

	cmd.AddCommand(
		cli.NewQueryCmd(),
		cli.NewJobCmd(),
		cli.NewDownloadCmd(),
		cli.NewVerifyCmd(),
		cli.NewLoginCmd(),
		cli.NewLogoutCmd(),
		cli.NewCacheCmd(),
		cli.NewVersionCmd(),
	)

	return cmd
}
