package loader

import (
	"image"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/pixely/imagecache/cache"
	"github.com/pixely/imagecache/codec"
	"github.com/pixely/imagecache/fetch"
	"github.com/pixely/imagecache/metrics"
	"github.com/pixely/imagecache/utils"
)

const defaultWorkers = 4

// Config configures a Loader.
type Config struct {
	// Workers is the number of goroutines running load tasks. Default 4.
	Workers int
	// OnDelivered, if set, observes every delivery to a slot.
	OnDelivered func(slot Slot, value image.Image)
	// CallbackOnly suppresses SetImage and leaves delivery to
	// OnDelivered alone.
	CallbackOnly bool
	// Metrics is optional; nil counts nothing.
	Metrics *metrics.Metrics
}

// Loader resolves image keys through memory cache, disk cache, and the
// producer, delivering each result to a consumer slot. For any slot only
// the most recently requested key is ever delivered, no matter in what
// order racing productions finish.
type Loader struct {
	config      Config
	memoryCache cache.MemoryCache // can be nil
	diskCache   *cache.DiskCache  // can be nil
	producer    fetch.Producer
	decoder     codec.Decoder
	registry    *slotRegistry
	pool        *pool

	exitTasksEarly atomic.Bool
	closed         atomic.Bool
}

// NewLoader creates a Loader. The memory and disk tiers are optional;
// a nil tier is skipped. The producer is required.
func NewLoader(config Config, memoryCache cache.MemoryCache, diskCache *cache.DiskCache, producer fetch.Producer, decoder codec.Decoder) *Loader {
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}

	imageLoader := &Loader{
		config:      config,
		memoryCache: memoryCache,
		diskCache:   diskCache,
		producer:    producer,
		decoder:     decoder,
		registry:    newSlotRegistry(),
	}

	imageLoader.pool = newPool(config.Workers, imageLoader.runTask)
	return imageLoader
}

// Load resolves the key for the slot. A memory cache hit is delivered
// synchronously. Otherwise a background task is scheduled, unless the
// slot already has one in flight for the same key; a pending task for a
// different key is cancelled first.
func (imageLoader *Loader) Load(key string, slot Slot, widthHint int, heightHint int) {
	if len(key) == 0 || slot == nil || imageLoader.closed.Load() {
		return
	}

	if imageLoader.memoryCache != nil {
		if value, ok := imageLoader.memoryCache.Get(key); ok {
			imageLoader.config.Metrics.MemoryHit()
			// the slot moves on to the hit value; a task still pending
			// for it could never deliver, so drop it rather than let a
			// re-request deduplicate against it
			imageLoader.registry.drop(slot)
			slot.SetCurrentTaskID("")
			imageLoader.deliver(slot, value)
			return
		}
	}

	task := newLoadTask(key, slot, widthHint, heightHint)
	if imageLoader.registry.tryBind(slot, task) {
		if !imageLoader.pool.submit(task) {
			imageLoader.registry.unbind(slot, task)
		}
	}
}

// LoadSync resolves the key synchronously on the calling goroutine,
// walking memory cache, disk cache, and producer, writing back into the
// caches on success. It does not involve any slot.
func (imageLoader *Loader) LoadSync(key string, widthHint int, heightHint int) (image.Image, error) {
	logger := log.WithFields(log.Fields{
		"package":  "loader",
		"struct":   "Loader",
		"function": "LoadSync",
	})

	if imageLoader.memoryCache != nil {
		if value, ok := imageLoader.memoryCache.Get(key); ok {
			imageLoader.config.Metrics.MemoryHit()
			return value, nil
		}
	}

	if value := imageLoader.loadFromDisk(key, widthHint, heightHint, logger); value != nil {
		imageLoader.writeBack(key, value, logger)
		return value, nil
	}

	imageLoader.config.Metrics.Miss()
	value, err := imageLoader.producer.Produce(key, widthHint, heightHint)
	if err != nil {
		return nil, xerrors.Errorf("failed to produce value for key %s: %w", key, err)
	}
	imageLoader.config.Metrics.Produced()

	imageLoader.writeBack(key, value, logger)
	return value, nil
}

// CancelWork cancels the slot's pending task, if any. Cancellation is
// cooperative; the task never delivers but may finish its current phase.
func (imageLoader *Loader) CancelWork(slot Slot) {
	imageLoader.registry.cancelCurrent(slot)
}

// SetExitTasksEarly makes every task short-circuit at its next
// checkpoint, delivering nothing. Used to drain work on shutdown or
// while the consumer surface is not visible.
func (imageLoader *Loader) SetExitTasksEarly(exitEarly bool) {
	imageLoader.exitTasksEarly.Store(exitEarly)
}

// Close stops accepting loads and waits for queued tasks to drain.
// Call SetExitTasksEarly(true) first to drop queued work instead of
// finishing it.
func (imageLoader *Loader) Close() {
	if imageLoader.closed.CompareAndSwap(false, true) {
		imageLoader.pool.close()
	}
}

// attached tells whether the task may keep going: not cancelled, not
// superseded, and the loader is not draining.
func (imageLoader *Loader) attached(task *loadTask) bool {
	if imageLoader.exitTasksEarly.Load() {
		return false
	}
	return task.attached(imageLoader.registry)
}

// runTask executes one production on a worker goroutine. Ownership is
// re-checked before the disk lookup, before the producer call, and
// before delivery; a task that lost its slot stops doing new work but
// still writes a finished value back into the caches.
func (imageLoader *Loader) runTask(task *loadTask) {
	logger := log.WithFields(log.Fields{
		"package":  "loader",
		"struct":   "Loader",
		"function": "runTask",
	})

	defer utils.StackTraceFromPanic(logger)
	defer imageLoader.registry.unbind(task.slot, task)

	logger.Debugf("loading %s for slot task %s", task.key, task.id)

	var value image.Image

	if imageLoader.attached(task) {
		value = imageLoader.loadFromDisk(task.key, task.widthHint, task.heightHint, logger)
	}

	if value == nil {
		if !imageLoader.attached(task) {
			return
		}

		imageLoader.config.Metrics.Miss()
		produced, err := imageLoader.producer.Produce(task.key, task.widthHint, task.heightHint)
		if err != nil {
			logger.WithError(err).Errorf("failed to produce value for key %s", task.key)
			return
		}
		imageLoader.config.Metrics.Produced()
		value = produced
	}

	// write back even when the task lost its slot meanwhile; the result
	// is stale for this slot but valid future cache content
	imageLoader.writeBack(task.key, value, logger)

	if !imageLoader.attached(task) {
		imageLoader.config.Metrics.StaleDiscard()
		return
	}

	imageLoader.deliver(task.slot, value)
}

// loadFromDisk resolves the key from the disk tier, invalidating
// undecodable entries. It returns nil on any miss.
func (imageLoader *Loader) loadFromDisk(key string, widthHint int, heightHint int, logger *log.Entry) image.Image {
	if imageLoader.diskCache == nil {
		return nil
	}

	filePath, ok := imageLoader.diskCache.FilePath(key)
	if !ok {
		return nil
	}

	value, err := imageLoader.decoder.DecodeFile(filePath, widthHint, heightHint)
	if err != nil {
		logger.WithError(err).Errorf("failed to decode cache file %s - invalidating key %s", filePath, key)
		imageLoader.diskCache.Invalidate(key)
		return nil
	}

	imageLoader.config.Metrics.DiskHit()
	return value
}

func (imageLoader *Loader) writeBack(key string, value image.Image, logger *log.Entry) {
	if imageLoader.memoryCache != nil {
		imageLoader.memoryCache.Put(key, value)
	}

	if imageLoader.diskCache != nil {
		err := imageLoader.diskCache.Put(key, value)
		if err != nil {
			// entries may silently fail to persist; the load still succeeds
			logger.WithError(err).Errorf("failed to write key %s to disk cache", key)
		}
	}
}

func (imageLoader *Loader) deliver(slot Slot, value image.Image) {
	if !imageLoader.config.CallbackOnly {
		slot.SetImage(value)
	}
	if imageLoader.config.OnDelivered != nil {
		imageLoader.config.OnDelivered(slot, value)
	}
}
