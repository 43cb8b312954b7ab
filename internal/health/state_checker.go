package health

import (
	"context"
	"fmt"
	"os"

	"github.com/felixgeelhaar/loom/internal/checkpoint"
)

// DirChecker checks that a state directory exists or can be created and
// is writable.
type DirChecker struct {
	name string
	dir  string
}

// NewDirChecker creates a checker for dir.
func NewDirChecker(name, dir string) *DirChecker {
	return &DirChecker{name: name, dir: dir}
}

// Name returns the name of this health check.
func (c *DirChecker) Name() string {
	return c.name
}

// Check creates dir if needed and writes a probe file into it.
func (c *DirChecker) Check(ctx context.Context) *Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("check cancelled").WithDetail("error", err.Error())
	}
	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return Unhealthy(fmt.Sprintf("cannot create %s", c.dir)).
			WithDetail("error", err.Error())
	}

	f, err := os.CreateTemp(c.dir, ".probe-*")
	if err != nil {
		return Unhealthy(fmt.Sprintf("%s is not writable", c.dir)).
			WithDetail("error", err.Error()).
			WithDetail("suggestion", "Check the directory permissions")
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	return Healthy(fmt.Sprintf("%s is writable", c.dir)).WithDetail("dir", c.dir)
}

// StoreChecker checks that the execution history can be read.
type StoreChecker struct {
	open func() (checkpoint.Store, error)
}

// NewStoreChecker creates a checker that opens the store with open and
// closes it after reading.
func NewStoreChecker(open func() (checkpoint.Store, error)) *StoreChecker {
	return &StoreChecker{open: open}
}

// Name returns the name of this health check.
func (c *StoreChecker) Name() string {
	return "execution-history"
}

// Check opens the store and reads a snapshot. An unreadable history is
// degraded rather than unhealthy: runs still work but execute every node.
func (c *StoreChecker) Check(ctx context.Context) *Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("check cancelled").WithDetail("error", err.Error())
	}

	store, err := c.open()
	if err != nil {
		return Degraded("execution history cannot be opened").
			WithDetail("error", err.Error()).
			WithDetail("suggestion", "Remove the history to start fresh; every node will run once")
	}
	defer func() { _ = store.Close() }()

	records, err := store.Snapshot()
	if err != nil {
		return Degraded("execution history cannot be read").
			WithDetail("error", err.Error())
	}
	return Healthy(fmt.Sprintf("%d nodes recorded", len(records))).
		WithDetail("records", len(records))
}
