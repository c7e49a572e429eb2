package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ataomic/hotmem/slab"
)

func newStatsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Build a demo slab pool and report its page/free-page summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(v)
		},
	}
}

func runStats(v *viper.Viper) error {
	pool, cleanup, err := buildDemoPool(v)
	if err != nil {
		return err
	}
	defer cleanup()

	idx := slab.NewPageIndex(pool)

	total := pool.NumPages()
	free := idx.FreeCount()
	used := total - free

	fmt.Printf("page size:   %s\n", humanize.Bytes(uint64(pool.PageSize())))
	fmt.Printf("pages:       %d total, %d free, %d used\n", total, free, used)
	fmt.Printf("region size: %s\n", humanize.Bytes(uint64(total*pool.PageSize())))
	fmt.Printf("free bytes:  %s (%.1f%%)\n",
		humanize.Bytes(uint64(free*pool.PageSize())),
		100*float64(free)/float64(total))
	return nil
}
