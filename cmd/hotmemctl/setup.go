package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/ataomic/hotmem/internal/osops"
	"github.com/ataomic/hotmem/slab"
)

// buildDemoPool mmaps a region sized from viper config and builds a
// slab.Pool over it. The returned cleanup unmaps the region; callers
// must invoke it before exiting.
func buildDemoPool(v *viper.Viper) (pool *slab.Pool, cleanup func(), err error) {
	pageSize := v.GetInt("pagesize")
	pages := v.GetInt("region-pages")
	region, err := osops.MmapRegion(pageSize * pages)
	if err != nil {
		return nil, nil, fmt.Errorf("hotmemctl: mapping demo region: %w", err)
	}

	pool, err = slab.New(slab.Config{
		Region:    region,
		PageSize:  pageSize,
		MinShift:  v.GetUint("min-shift"),
		DebugFill: v.GetBool("debug-fill"),
		LogNoMem:  true,
		Logger:    logrus.NewEntry(logrus.StandardLogger()),
		Name:      "hotmemctl-demo",
	})
	if err != nil {
		_ = osops.Unmap(region)
		return nil, nil, fmt.Errorf("hotmemctl: initializing slab pool: %w", err)
	}

	return pool, func() { _ = osops.Unmap(region) }, nil
}
