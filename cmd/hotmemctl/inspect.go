package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ataomic/hotmem/slab"
)

func newInspectCmd(v *viper.Viper) *cobra.Command {
	var allocSize int
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Allocate a chunk in a demo slab pool and show the resulting free-page bitmap",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(v, allocSize)
		},
	}
	cmd.Flags().IntVar(&allocSize, "alloc", 64, "size in bytes to allocate before inspecting")
	return cmd
}

func runInspect(v *viper.Viper, allocSize int) error {
	pool, cleanup, err := buildDemoPool(v)
	if err != nil {
		return err
	}
	defer cleanup()

	idx := slab.NewPageIndex(pool)
	fmt.Printf("before alloc: %d free pages: %v\n", idx.FreeCount(), idx.FreePages())

	ptr, err := pool.Alloc(allocSize)
	if err != nil {
		return fmt.Errorf("hotmemctl: alloc %d bytes: %w", allocSize, err)
	}

	idx.Refresh(pool)
	fmt.Printf("after alloc of %d bytes: %d free pages: %v\n", allocSize, idx.FreeCount(), idx.FreePages())

	if err := pool.Free(ptr); err != nil {
		return fmt.Errorf("hotmemctl: free: %w", err)
	}
	idx.Refresh(pool)
	fmt.Printf("after free: %d free pages: %v\n", idx.FreeCount(), idx.FreePages())
	return nil
}
