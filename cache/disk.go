package cache

import (
	"bytes"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/pixely/imagecache/codec"
	"github.com/pixely/imagecache/metrics"
	"github.com/pixely/imagecache/platform"
	"github.com/pixely/imagecache/utils"
)

const (
	defaultMaxEntries             = 64
	defaultMaxBytes               = 5 * 1024 * 1024
	defaultMaxRemovalsPerEviction = 6
	defaultFilenamePrefix         = "i_"
)

// Config configures a DiskCache. Zero fields take defaults.
type Config struct {
	// MaxEntries is the entry-count budget. Default 64.
	MaxEntries int
	// MaxBytes is the byte-size budget. Default 5 MiB.
	MaxBytes int64
	// MaxRemovalsPerEviction bounds how many entries one eviction pass
	// may remove, so a burst of inserts can leave the cache temporarily
	// over budget. Default 6.
	MaxRemovalsPerEviction int
	// FilenamePrefix marks cache files in the cache directory. Default "i_".
	FilenamePrefix string
	// Metrics is optional; nil counts nothing.
	Metrics *metrics.Metrics
}

func (config *Config) fillDefaults() {
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaultMaxEntries
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = defaultMaxBytes
	}
	if config.MaxRemovalsPerEviction <= 0 {
		config.MaxRemovalsPerEviction = defaultMaxRemovalsPerEviction
	}
	if len(config.FilenamePrefix) == 0 {
		config.FilenamePrefix = defaultFilenamePrefix
	}
}

// DiskCache is a byte-budgeted on-disk LRU cache of encoded images,
// one file per entry. The index is rebuilt lazily from the filesystem,
// so entries written by an earlier process lifetime are found again
// without a persisted index file.
type DiskCache struct {
	rootPath      string
	config        Config
	codec         codec.Codec
	index         *EntryIndex
	pendingWrites map[string]bool
	mutex         sync.Mutex // lock for index and pendingWrites
}

// OpenDiskCache creates a DiskCache rooted at the given directory. It
// returns an error when the directory cannot be created, is not
// writable, or has less usable space than the byte budget; callers must
// treat that as "no disk tier", not a fatal condition.
func OpenDiskCache(rootPath string, config Config, cacheCodec codec.Codec) (*DiskCache, error) {
	config.fillDefaults()

	err := os.MkdirAll(rootPath, 0755)
	if err != nil {
		return nil, xerrors.Errorf("failed to make cache dir %s: %w", rootPath, err)
	}

	// the probe carries the cache prefix so a leftover from a crash here
	// is still collected by Clear
	probe, err := os.CreateTemp(rootPath, config.FilenamePrefix+"probe")
	if err != nil {
		return nil, xerrors.Errorf("cache dir %s is not writable: %w", rootPath, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	if platform.UsableSpace(rootPath) < config.MaxBytes {
		return nil, xerrors.Errorf("cache dir %s has less than %d bytes usable", rootPath, config.MaxBytes)
	}

	return &DiskCache{
		rootPath:      rootPath,
		config:        config,
		codec:         cacheCodec,
		index:         NewEntryIndex(),
		pendingWrites: map[string]bool{},
	}, nil
}

// RootPath returns the cache directory.
func (diskCache *DiskCache) RootPath() string {
	return diskCache.rootPath
}

// Len returns the number of indexed entries.
func (diskCache *DiskCache) Len() int {
	diskCache.mutex.Lock()
	defer diskCache.mutex.Unlock()

	return diskCache.index.Len()
}

// TotalBytes returns the byte total of indexed entries.
func (diskCache *DiskCache) TotalBytes() int64 {
	diskCache.mutex.Lock()
	defer diskCache.mutex.Unlock()

	return diskCache.index.TotalBytes()
}

// DerivePath returns the file path the given key maps to. It is a pure
// function of the cache directory and the key, so paths survive restarts.
func (diskCache *DiskCache) DerivePath(key string) string {
	return filepath.Join(diskCache.rootPath, diskCache.config.FilenamePrefix+utils.MakeHash(key))
}

// FilePath resolves the key to an existing cache file and bumps its
// recency. A file present on disk but missing from the index is adopted
// into the index; this is the crash-recovery path.
func (diskCache *DiskCache) FilePath(key string) (string, bool) {
	diskCache.mutex.Lock()

	if filePath, ok := diskCache.index.Touch(key); ok {
		diskCache.mutex.Unlock()
		return filePath, true
	}

	filePath := diskCache.DerivePath(key)
	stat, err := os.Stat(filePath)
	if err != nil {
		diskCache.mutex.Unlock()
		return "", false
	}

	removedPaths := diskCache.insertAndEvict(key, filePath, stat.Size())
	diskCache.mutex.Unlock()

	diskCache.removeFiles(removedPaths)
	return filePath, true
}

// Contains tells whether the key has a cache entry, on the index or on disk.
func (diskCache *DiskCache) Contains(key string) bool {
	_, ok := diskCache.FilePath(key)
	return ok
}

// Get returns the decoded image for the key. A missing or undecodable
// entry is a miss; an undecodable entry is also invalidated.
func (diskCache *DiskCache) Get(key string) (image.Image, bool) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "DiskCache",
		"function": "Get",
	})

	filePath, ok := diskCache.FilePath(key)
	if !ok {
		return nil, false
	}

	value, err := diskCache.codec.DecodeFile(filePath, 0, 0)
	if err != nil {
		logger.WithError(err).Errorf("failed to decode cache file %s - invalidating", filePath)
		diskCache.Invalidate(key)
		return nil, false
	}

	return value, true
}

// Put encodes and stores the value under the key. A key already cached,
// or with a write already in flight, is skipped; the first writer wins.
// The encode and the file write happen outside the lock.
func (diskCache *DiskCache) Put(key string, value image.Image) error {
	diskCache.mutex.Lock()
	if diskCache.index.Contains(key) || diskCache.pendingWrites[key] {
		diskCache.mutex.Unlock()
		return nil
	}
	diskCache.pendingWrites[key] = true
	diskCache.mutex.Unlock()

	data, err := diskCache.codec.Encode(value)
	if err != nil {
		diskCache.clearPendingWrite(key)
		return xerrors.Errorf("failed to encode value for key %s: %w", key, err)
	}

	filePath := diskCache.DerivePath(key)
	err = atomic.WriteFile(filePath, bytes.NewReader(data))
	if err != nil {
		diskCache.clearPendingWrite(key)
		return xerrors.Errorf("failed to write cache file %s: %w", filePath, err)
	}

	diskCache.mutex.Lock()
	delete(diskCache.pendingWrites, key)
	removedPaths := diskCache.insertAndEvict(key, filePath, int64(len(data)))
	diskCache.mutex.Unlock()

	diskCache.removeFiles(removedPaths)
	return nil
}

// PutRaw stores already-encoded bytes under the key, streaming them to
// the cache file, and returns the file path. A key already cached or
// being written returns its path without a second write.
func (diskCache *DiskCache) PutRaw(key string, reader io.Reader) (string, error) {
	filePath := diskCache.DerivePath(key)

	diskCache.mutex.Lock()
	if existingPath, ok := diskCache.index.Touch(key); ok {
		diskCache.mutex.Unlock()
		return existingPath, nil
	}
	if diskCache.pendingWrites[key] {
		diskCache.mutex.Unlock()
		return filePath, nil
	}
	diskCache.pendingWrites[key] = true
	diskCache.mutex.Unlock()

	err := atomic.WriteFile(filePath, reader)
	if err != nil {
		diskCache.clearPendingWrite(key)
		return "", xerrors.Errorf("failed to write cache file %s: %w", filePath, err)
	}

	stat, err := os.Stat(filePath)
	if err != nil {
		diskCache.clearPendingWrite(key)
		return "", xerrors.Errorf("failed to stat cache file %s: %w", filePath, err)
	}

	diskCache.mutex.Lock()
	delete(diskCache.pendingWrites, key)
	removedPaths := diskCache.insertAndEvict(key, filePath, stat.Size())
	diskCache.mutex.Unlock()

	diskCache.removeFiles(removedPaths)
	return filePath, nil
}

// Invalidate removes the entry and its file. It is safe to call for a
// key that has neither.
func (diskCache *DiskCache) Invalidate(key string) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "DiskCache",
		"function": "Invalidate",
	})

	diskCache.mutex.Lock()
	diskCache.index.Remove(key)
	diskCache.mutex.Unlock()

	filePath := diskCache.DerivePath(key)
	err := os.Remove(filePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WithError(err).Errorf("failed to remove cache file %s", filePath)
	}
}

// Clear drops the index and deletes every file carrying the cache
// filename prefix. Unrelated files in the directory are left alone.
func (diskCache *DiskCache) Clear() error {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "DiskCache",
		"function": "Clear",
	})

	diskCache.mutex.Lock()
	diskCache.index.Clear()
	diskCache.pendingWrites = map[string]bool{}
	diskCache.mutex.Unlock()

	dirEntries, err := os.ReadDir(diskCache.rootPath)
	if err != nil {
		return xerrors.Errorf("failed to list cache dir %s: %w", diskCache.rootPath, err)
	}

	for _, dirEntry := range dirEntries {
		if !strings.HasPrefix(dirEntry.Name(), diskCache.config.FilenamePrefix) {
			continue
		}

		filePath := filepath.Join(diskCache.rootPath, dirEntry.Name())
		err = os.Remove(filePath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WithError(err).Errorf("failed to remove cache file %s", filePath)
		}
	}

	return nil
}

func (diskCache *DiskCache) clearPendingWrite(key string) {
	diskCache.mutex.Lock()
	delete(diskCache.pendingWrites, key)
	diskCache.mutex.Unlock()
}

// insertAndEvict must be called with the mutex held. File deletion of
// the returned paths belongs outside the lock.
func (diskCache *DiskCache) insertAndEvict(key string, filePath string, size int64) []string {
	diskCache.index.Insert(key, filePath, size)
	return diskCache.index.EvictOverBudget(
		diskCache.config.MaxEntries,
		diskCache.config.MaxBytes,
		diskCache.config.MaxRemovalsPerEviction)
}

func (diskCache *DiskCache) removeFiles(filePaths []string) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "DiskCache",
		"function": "removeFiles",
	})

	for _, filePath := range filePaths {
		err := os.Remove(filePath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.WithError(err).Errorf("failed to remove evicted cache file %s", filePath)
		}
	}

	diskCache.config.Metrics.Evicted(len(filePaths))
}
