package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/virgo-archive/tapir/pkg/download"
)

// NewCacheCmd creates the cache command with its subcommands.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clean the local product cache",
	}
	cmd.AddCommand(
		newCacheInfoCmd(),
		newCacheCleanCmd(),
	)
	return cmd
}

// cacheManager resolves the cache manager to operate on: a service's product
// cache when named, the direct-download cache otherwise.
func cacheManager(service string) (*download.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if service != "" {
		client, err := buildClient(cfg, service)
		if err != nil {
			return nil, err
		}
		return client.Cache(), nil
	}
	return buildDownloader(cfg, "downloads")
}

func newCacheInfoCmd() *cobra.Command {
	var service string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show cache location, size and entry count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := cacheManager(service)
			if err != nil {
				return err
			}
			info, err := mgr.GetInfo()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Directory: %s\nSize:      %s\nFiles:     %d\n",
				info.Directory, formatBytes(info.TotalSize), info.Files)
			return nil
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "configured service name (optional)")
	return cmd
}

func newCacheCleanCmd() *cobra.Command {
	var (
		service string
		key     string
	)
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove cached entries",
		Long: `Remove cached entries. Eviction is explicit only: the engine never
discards data on its own. With --key only that entry is removed;
otherwise the whole cache directory is emptied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := cacheManager(service)
			if err != nil {
				return err
			}
			if key != "" {
				if err := mgr.Clear(key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed entry %s\n", key)
				return nil
			}
			freed, err := mgr.ClearAll()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cache cleaned, %s freed\n", formatBytes(freed))
			return nil
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "configured service name (optional)")
	cmd.Flags().StringVar(&key, "key", "", "remove only the entry with this cache key")
	return cmd
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
