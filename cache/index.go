package cache

import (
	"container/list"
)

// indexEntry is one key -> file mapping tracked by the index.
type indexEntry struct {
	key      string
	filePath string
	size     int64
}

// EntryIndex is an access-ordered key -> file path mapping used for LRU
// eviction. The front of the order is the most recently used entry, the
// back the least. It keeps a running entry count and byte total and does
// no I/O of its own. EntryIndex is not safe for concurrent use; the
// owning cache engine guards it with its lock.
type EntryIndex struct {
	elements map[string]*list.Element
	order    *list.List // *indexEntry, most recently used at front
	total    int64
}

// NewEntryIndex creates an empty EntryIndex.
func NewEntryIndex() *EntryIndex {
	return &EntryIndex{
		elements: map[string]*list.Element{},
		order:    list.New(),
	}
}

// Len returns the number of entries.
func (index *EntryIndex) Len() int {
	return len(index.elements)
}

// TotalBytes returns the sum of entry sizes.
func (index *EntryIndex) TotalBytes() int64 {
	return index.total
}

// Touch looks up the file path for the key and marks the entry as the
// most recently used. It returns false if the key is unknown.
func (index *EntryIndex) Touch(key string) (string, bool) {
	element, ok := index.elements[key]
	if !ok {
		return "", false
	}

	index.order.MoveToFront(element)
	return element.Value.(*indexEntry).filePath, true
}

// Contains tells whether the key is indexed without touching its recency.
func (index *EntryIndex) Contains(key string) bool {
	_, ok := index.elements[key]
	return ok
}

// Insert adds or replaces the entry for the key and marks it as the most
// recently used. Replacing an entry first subtracts its old size.
func (index *EntryIndex) Insert(key string, filePath string, size int64) {
	if element, ok := index.elements[key]; ok {
		entry := element.Value.(*indexEntry)
		index.total -= entry.size
		entry.filePath = filePath
		entry.size = size
		index.total += size
		index.order.MoveToFront(element)
		return
	}

	entry := &indexEntry{
		key:      key,
		filePath: filePath,
		size:     size,
	}
	index.elements[key] = index.order.PushFront(entry)
	index.total += size
}

// Remove deletes the entry for the key and returns its size. It returns
// false if the key is unknown.
func (index *EntryIndex) Remove(key string) (int64, bool) {
	element, ok := index.elements[key]
	if !ok {
		return 0, false
	}

	entry := index.order.Remove(element).(*indexEntry)
	delete(index.elements, key)
	index.total -= entry.size

	return entry.size, true
}

// EvictOverBudget removes least-recently-used entries while the index is
// over either budget, removing at most maxRemovals entries per call to
// bound eviction latency. It returns the file paths of the removed
// entries; deleting those files is the caller's job. A bounded pass can
// leave the index over budget when inserts outpace evictions.
func (index *EntryIndex) EvictOverBudget(maxEntries int, maxBytes int64, maxRemovals int) []string {
	removedPaths := []string{}

	for len(removedPaths) < maxRemovals && (len(index.elements) > maxEntries || index.total > maxBytes) {
		oldest := index.order.Back()
		if oldest == nil {
			break
		}

		entry := index.order.Remove(oldest).(*indexEntry)
		delete(index.elements, entry.key)
		index.total -= entry.size

		removedPaths = append(removedPaths, entry.filePath)
	}

	return removedPaths
}

// Clear removes every entry.
func (index *EntryIndex) Clear() {
	index.elements = map[string]*list.Element{}
	index.order.Init()
	index.total = 0
}
