// Package dist carries the explicit execution context of one training replica.
// Components receive a Context through their constructors; nothing in the
// module reads process-global device state.
package dist

import (
	"fmt"

	"github.com/cascademl/cascade/tensor"
)

// Context identifies a replica within the training job.
type Context struct {
	// Device is the accelerator index assigned to this process.
	Device int

	// Rank is the replica index within the process group.
	Rank int

	// WorldSize is the total replica count.
	WorldSize int

	// Group performs cross-replica synchronization.
	Group Collective
}

// Local returns a single-replica context on the given device.
func Local(device int) Context {
	return Context{Device: device, Rank: 0, WorldSize: 1, Group: LocalGroup{}}
}

// IsMain reports whether this replica owns rank-0 duties: checkpoint writes,
// sampling previews, progress output.
func (c Context) IsMain() bool { return c.Rank == 0 }

// CollectiveError is fatal: a partial synchronization leaves parameters
// inconsistent across replicas, so no local recovery is attempted.
type CollectiveError struct {
	Op  string
	Err error
}

func (e *CollectiveError) Error() string {
	return fmt.Sprintf("collective %s failed: %v", e.Op, e.Err)
}

func (e *CollectiveError) Unwrap() error { return e.Err }

// Collective reconciles gradients across the process group. SyncGradients
// averages the gradients of params across replicas in place and is called once
// per accumulation window, on the final micro-step; Barrier blocks until every
// replica arrives, bracketing checkpoint writes under sharded state.
type Collective interface {
	SyncGradients(params []*tensor.Tensor) error
	Barrier() error
}

// LocalGroup is the single-replica Collective: gradients are already complete
// and there is nobody to wait for.
type LocalGroup struct{}

func (LocalGroup) SyncGradients(params []*tensor.Tensor) error { return nil }

func (LocalGroup) Barrier() error { return nil }
