package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/duke-git/lancet/v2/formatter"
	"github.com/spf13/cobra"

	"github.com/zacharyburnett/matrixci/internal/cache"
	"github.com/zacharyburnett/matrixci/internal/config"
)

var (
	// cache prune flags
	cachePruneMaxAge   time.Duration
	cachePruneMaxBytes int64
)

// cacheCmd groups the cache subcommands.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the step cache",
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cache entries",
	Args:  cobra.NoArgs,
	RunE:  runCacheLs,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove stale cache entries",
	Long: `Remove entries older than --max-age, then the least recently used
entries until the cache fits under --max-bytes. Zero disables a limit.
Both default to the configured values.`,
	Args: cobra.NoArgs,
	RunE: runCachePrune,
}

var cacheRmCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Remove one cache entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheRm,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheLsCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheRmCmd)

	// cache prune flags
	cachePruneCmd.Flags().DurationVar(&cachePruneMaxAge, "max-age", 0, "drop entries older than this")
	cachePruneCmd.Flags().Int64Var(&cachePruneMaxBytes, "max-bytes", 0, "shrink the cache under this many bytes")
}

// openCacheStore opens the configured cache store.
func openCacheStore() (*cache.Store, *config.Config, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, nil, err
	}
	store, err := cache.NewStore(cfg.Cache.Dir)
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func runCacheLs(cmd *cobra.Command, args []string) error {
	store, _, err := openCacheStore()
	if err != nil {
		return err
	}

	entries := store.Entries()
	if len(entries) == 0 {
		fmt.Printf("cache %s is empty\n", store.Dir())
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastUsed.After(entries[j].LastUsed)
	})

	var total int64
	fmt.Printf("%-44s %10s %10s %10s\n", "KEY", "SIZE", "AGE", "LAST USED")
	for _, e := range entries {
		total += e.Size
		fmt.Printf("%-44s %10s %10s %10s\n",
			e.Key,
			formatter.DecimalBytes(float64(e.Size)),
			shortAge(time.Since(e.CreatedAt)),
			shortAge(time.Since(e.LastUsed)),
		)
	}
	fmt.Printf("\n%d entries, %s in %s\n", len(entries), formatter.DecimalBytes(float64(total)), store.Dir())
	return nil
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	store, cfg, err := openCacheStore()
	if err != nil {
		return err
	}

	maxAge := cfg.Cache.MaxAge
	if cmd.Flags().Changed("max-age") {
		maxAge = cachePruneMaxAge
	}
	maxBytes := cfg.Cache.MaxBytes
	if cmd.Flags().Changed("max-bytes") {
		maxBytes = cachePruneMaxBytes
	}

	removed, err := store.Prune(maxAge, maxBytes)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Printf("pruned %d of %d entries from %s\n", removed, removed+len(store.Entries()), store.Dir())
	}
	return nil
}

func runCacheRm(cmd *cobra.Command, args []string) error {
	store, _, err := openCacheStore()
	if err != nil {
		return err
	}
	if !store.Remove(args[0]) {
		return fmt.Errorf("no cache entry %q", args[0])
	}
	if !quiet {
		fmt.Printf("removed %s\n", args[0])
	}
	return nil
}

// shortAge renders a duration as a coarse age like "3d4h" or "12m".
func shortAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd%dh", d/(24*time.Hour), d%(24*time.Hour)/time.Hour)
	case d >= time.Hour:
		return fmt.Sprintf("%dh%dm", d/time.Hour, d%time.Hour/time.Minute)
	case d >= time.Minute:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}
