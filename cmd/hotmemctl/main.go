// Command hotmemctl is a demonstration and diagnostics CLI for the
// hotmem allocators. It is not part of the library surface; production
// callers embed slab/sessionpool/taskreg directly and supply their own
// region and ops.Table.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("hotmemctl: command failed")
		os.Exit(1)
	}
}
