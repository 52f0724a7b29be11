package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/virgo-archive/tapir/internal/logger"
	"github.com/virgo-archive/tapir/pkg/download"
)

// NewDownloadCmd creates the download command.
func NewDownloadCmd() *cobra.Command {
	var (
		service  string
		parallel int
		failFast bool
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "download <url>...",
		Short: "Fetch product URLs through the resumable cache",
		Long: `Fetch one or more product URLs into the local cache. Cached copies are
reused without touching the network; interrupted transfers resume where
they stopped. By default every URL is attempted even when some fail.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			reqs := make([]download.Request, len(args))
			for i, u := range args {
				reqs[i] = download.Request{URL: u, Force: force}
			}
			opts := download.FetchAllOptions{
				MaxParallel: parallel,
				FailFast:    failFast,
			}
			if opts.MaxParallel <= 0 {
				opts.MaxParallel = cfg.Settings.MaxParallelDownloads
			}

			var outcomes []download.Outcome
			if service != "" {
				client, err := buildClient(cfg, service)
				if err != nil {
					return err
				}
				outcomes, err = client.Cache().FetchAll(cmd.Context(), reqs, opts)
				if err != nil {
					return err
				}
			} else {
				mgr, err := buildDownloader(cfg, "downloads")
				if err != nil {
					return err
				}
				outcomes, err = mgr.FetchAll(cmd.Context(), reqs, opts)
				if err != nil {
					return err
				}
			}

			failed := 0
			for _, oc := range outcomes {
				if oc.Err != nil {
					failed++
					logger.Error("Download failed", logger.Fields{"url": oc.Request.URL, "err": oc.Err.Error()})
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), oc.Entry.LocalPath)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d downloads failed", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&service, "service", "s", "", "configured service name (optional; routes through its cache and auth)")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "max concurrent transfers (default from config)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "cancel remaining transfers on the first failure")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-fetch even when a complete cached copy exists")

	return cmd
}
