package loader

import (
	"sync/atomic"

	"github.com/rs/xid"
)

// loadTask is one unit of background production: resolve a key through
// the disk cache and the producer for a single slot. Tasks are created
// per request and never reused.
type loadTask struct {
	id         string
	key        string
	slot       Slot
	widthHint  int
	heightHint int
	cancelled  atomic.Bool
}

func newLoadTask(key string, slot Slot, widthHint int, heightHint int) *loadTask {
	return &loadTask{
		id:         xid.New().String(),
		key:        key,
		slot:       slot,
		widthHint:  widthHint,
		heightHint: heightHint,
	}
}

// cancel requests cooperative cancellation. The task is not interrupted;
// it observes the flag at its checkpoints.
func (task *loadTask) cancel() {
	task.cancelled.Store(true)
}

func (task *loadTask) isCancelled() bool {
	return task.cancelled.Load()
}

// attached tells whether the task is still the slot's current task. Both
// the registry binding and the slot's own marker must agree; either side
// moving on detaches the task.
func (task *loadTask) attached(registry *slotRegistry) bool {
	if task.isCancelled() {
		return false
	}
	if registry.current(task.slot) != task {
		return false
	}
	return task.slot.CurrentTaskID() == task.id
}
