package loader

import (
	"image"
	"sync"
)

// Slot is a logical consumer of a load result: the addressable endpoint
// of a request, typically a UI widget. Implementations must be safe for
// concurrent use; delivery and the task ID marker are touched from
// worker goroutines.
type Slot interface {
	// CurrentTaskID returns the ID of the task the slot currently
	// trusts, or empty. A finishing task compares its own ID against
	// this marker to decide whether it is still wanted.
	CurrentTaskID() string
	// SetCurrentTaskID records the task the slot trusts.
	SetCurrentTaskID(taskID string)
	// SetImage delivers the final value to the slot.
	SetImage(value image.Image)
}

// slotRegistry associates each slot with its in-flight task. A binding
// is dropped as soon as its task finishes, so the registry keeps
// neither slots nor tasks alive past their natural lifetime.
type slotRegistry struct {
	bindings map[Slot]*loadTask
	mutex    sync.Mutex
}

func newSlotRegistry() *slotRegistry {
	return &slotRegistry{
		bindings: map[Slot]*loadTask{},
	}
}

// current returns the task pending on the slot, nil if none.
func (registry *slotRegistry) current(slot Slot) *loadTask {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	return registry.bindings[slot]
}

// tryBind registers the task as the slot's current task and stamps the
// slot's ownership marker. When a task for the same key is already
// pending on the slot it is left in place and tryBind returns false;
// a pending task for a different key is cancelled and replaced.
func (registry *slotRegistry) tryBind(slot Slot, task *loadTask) bool {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	existing := registry.bindings[slot]
	if existing != nil {
		if existing.key == task.key {
			// the same work is already in progress
			return false
		}
		existing.cancel()
	}

	registry.bindings[slot] = task
	slot.SetCurrentTaskID(task.id)
	return true
}

// unbind drops the binding if it still points at the task.
func (registry *slotRegistry) unbind(slot Slot, task *loadTask) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	if registry.bindings[slot] == task {
		delete(registry.bindings, slot)
	}
}

// drop cancels and removes the slot's pending binding, if any. Used when
// the slot is satisfied without a task, so a later request for the
// pending task's key starts fresh instead of deduplicating against work
// that can no longer deliver.
func (registry *slotRegistry) drop(slot Slot) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	if task := registry.bindings[slot]; task != nil {
		task.cancel()
		delete(registry.bindings, slot)
	}
}

// cancelCurrent cancels the task pending on the slot, if any.
func (registry *slotRegistry) cancelCurrent(slot Slot) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	if task := registry.bindings[slot]; task != nil {
		task.cancel()
	}
}
