package main

import (
	"fmt"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ataomic/hotmem/internal/atomid"
	"github.com/ataomic/hotmem/internal/ops"
	"github.com/ataomic/hotmem/sessionpool"
	"github.com/ataomic/hotmem/slab"
	"github.com/ataomic/hotmem/taskreg"
)

func newDemoCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run an end-to-end session/task lifecycle over an mmap'd region",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(v)
		},
	}
}

func runDemo(v *viper.Viper) error {
	pool, cleanup, err := buildDemoPool(v)
	if err != nil {
		return err
	}
	defer cleanup()

	sp, err := sessionpool.New(sessionpool.Config{
		Ops:       opsOverSlab(pool),
		BlockSize: v.GetInt("block-size"),
		PoolID:    1,
		Name:      "hotmemctl-session",
	})
	if err != nil {
		return fmt.Errorf("hotmemctl: initializing session pool: %w", err)
	}
	defer sp.Fini()

	reg := taskreg.NewWithOps(64, opsOverSessionPool(sp))

	fmt.Printf("region: %s across %d pages\n",
		humanize.Bytes(uint64(v.GetInt("pagesize")*v.GetInt("region-pages"))), v.GetInt("region-pages"))

	for i := 0; i < 3; i++ {
		atom := atomid.String(uuid.New().String())
		if _, err := reg.Register(atom); err != nil {
			logrus.WithError(err).Error("hotmemctl: registering demo session")
			continue
		}

		buf, err := reg.HMMalloc(atom, 1, 256)
		if err != nil {
			logrus.WithError(err).Error("hotmemctl: hm_malloc")
			continue
		}
		copy(buf, fmt.Sprintf("session %s buffer", atom))

		again, err := reg.HMMalloc(atom, 1, 256)
		if err != nil || &again[0] != &buf[0] {
			logrus.Error("hotmemctl: expected hm_malloc(1, ...) to return the same buffer")
		}

		if err := reg.HMFree(atom, buf); err != nil {
			logrus.WithError(err).Error("hotmemctl: hm_free")
		}

		fmt.Printf("session %s: allocated and freed %s\n", atom, humanize.Bytes(256))
		reg.Unregister(atom)
	}

	for _, c := range pool.Collectors() {
		_ = c // registered by a real host via prometheus.Registry.MustRegister
	}
	return nil
}

// opsOverSlab adapts a slab.Pool into the ops.Table the session pool
// needs, demonstrating the Session Pool sitting directly atop the Slab
// Pool as spec.md §2 describes ("both ultimately obtain memory from S
// or from an OS allocator").
func opsOverSlab(pool *slab.Pool) ops.Table {
	return ops.NoopLocker(
		func(size int) []byte {
			ptr, err := pool.Alloc(size)
			if err != nil {
				return nil
			}
			return pool.At(ptr, size)
		},
		func(b []byte) {
			if len(b) == 0 {
				return
			}
			_ = pool.Free(slab.Ptr(uintptr(unsafe.Pointer(&b[0]))))
		},
	)
}

// opsOverSessionPool adapts a sessionpool.Pool into the ops.Table the
// task registry uses for its per-(task,id) payloads, completing the
// T -> P -> S layering.
func opsOverSessionPool(sp *sessionpool.Pool) ops.Table {
	return ops.NoopLocker(
		func(size int) []byte {
			ptr, err := sp.Alloc(size)
			if err != nil {
				return nil
			}
			return sp.At(ptr, size)
		},
		func(b []byte) {
			if len(b) == 0 {
				return
			}
			_ = sp.Free(sessionpool.Ptr(uintptr(unsafe.Pointer(&b[0]))))
		},
	)
}
