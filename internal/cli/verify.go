package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/virgo-archive/tapir/pkg/download"
)

// NewVerifyCmd creates the verify command.
func NewVerifyCmd() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "verify <url>...",
		Short: "Check cached products against the live server",
		Long: `Verify cached entries without transferring anything: a HEAD request's
declared size and validator are compared against the local bytes. Entries
that fail the check are dropped and re-fetched whole on the next download.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var verify func(ctx context.Context, url string) (*download.Entry, bool, error)
			if service != "" {
				client, err := buildClient(cfg, service)
				if err != nil {
					return err
				}
				verify = client.Verify
			} else {
				mgr, err := buildDownloader(cfg, "downloads")
				if err != nil {
					return err
				}
				verify = func(ctx context.Context, url string) (*download.Entry, bool, error) {
					return mgr.Verify(ctx, download.Request{URL: url})
				}
			}

			stale := 0
			for _, u := range args {
				entry, ok, err := verify(cmd.Context(), u)
				switch {
				case err != nil:
					return err
				case ok:
					fmt.Fprintf(cmd.OutOrStdout(), "verified  %s\n", u)
				case !entry.FetchedAt.IsZero():
					// Had a completed copy; the server no longer agrees with
					// it and the stale bytes have been dropped.
					stale++
					fmt.Fprintf(cmd.OutOrStdout(), "stale     %s\n", u)
				default:
					stale++
					fmt.Fprintf(cmd.OutOrStdout(), "missing   %s\n", u)
				}
			}
			if stale > 0 {
				return fmt.Errorf("%d of %d entries failed verification", stale, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&service, "service", "s", "", "configured service name (optional)")
	return cmd
}
