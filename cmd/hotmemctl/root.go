package main

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("hotmem")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	root := &cobra.Command{
		Use:   "hotmemctl",
		Short: "Demonstration and diagnostics CLI for the hotmem allocators",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(v.GetString("log-level"))
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.Int("pagesize", 4096, "slab pool page size in bytes (power of two)")
	flags.Uint("min-shift", 3, "slab pool minimum chunk shift (min_size = 1<<min-shift)")
	flags.Int("region-pages", 64, "number of pages to mmap for the demo region")
	flags.Int("block-size", 32*1024, "session pool block size in bytes")
	flags.String("log-level", "info", "logrus level: debug, info, warn, error")
	flags.Bool("debug-fill", false, "fill newly carved slab pages with 0xA5")
	_ = v.BindPFlags(flags)

	root.AddCommand(newDemoCmd(v))
	root.AddCommand(newStatsCmd(v))
	root.AddCommand(newInspectCmd(v))
	return root
}
