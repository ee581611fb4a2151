package cache

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixely/imagecache/codec"
)

func TestDiskCache(t *testing.T) {
	t.Run("test RoundTrip", testDiskRoundTrip)
	t.Run("test ContainsMiss", testDiskContainsMiss)
	t.Run("test Recovery", testDiskRecovery)
	t.Run("test IdempotentPut", testDiskIdempotentPut)
	t.Run("test ByteBudgetEviction", testDiskByteBudgetEviction)
	t.Run("test EntryBudgetEviction", testDiskEntryBudgetEviction)
	t.Run("test InvalidateUnknownKey", testDiskInvalidateUnknownKey)
	t.Run("test InvalidateRemovesFile", testDiskInvalidateRemovesFile)
	t.Run("test CorruptEntry", testDiskCorruptEntry)
	t.Run("test ClearKeepsUnrelatedFiles", testDiskClearKeepsUnrelatedFiles)
	t.Run("test OpenLeavesNoResidue", testDiskOpenLeavesNoResidue)
	t.Run("test OpenUnavailableDir", testDiskOpenUnavailableDir)
}

// countingCodec counts encode calls to observe write dedup.
type countingCodec struct {
	*codec.ImageCodec
	encodes int32
}

func newCountingCodec() *countingCodec {
	return &countingCodec{
		ImageCodec: codec.NewImageCodec(codec.FormatPNG, 85),
	}
}

func (c *countingCodec) Encode(value image.Image) ([]byte, error) {
	atomic.AddInt32(&c.encodes, 1)
	return c.ImageCodec.Encode(value)
}

func testImage(width int, height int, fill color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}
	return img
}

func openTestCache(t *testing.T, config Config) *DiskCache {
	t.Helper()

	diskCache, err := OpenDiskCache(t.TempDir(), config, codec.NewImageCodec(codec.FormatPNG, 85))
	require.NoError(t, err)
	return diskCache
}

func testDiskRoundTrip(t *testing.T) {
	diskCache := openTestCache(t, Config{})

	fill := color.RGBA{R: 10, G: 200, B: 30, A: 255}
	src := testImage(16, 16, fill)

	err := diskCache.Put("k1", src)
	require.NoError(t, err)

	value, ok := diskCache.Get("k1")
	require.True(t, ok)
	assert.Equal(t, src.Bounds(), value.Bounds())

	r, g, b, _ := value.At(3, 3).RGBA()
	assert.Equal(t, uint32(10), r>>8)
	assert.Equal(t, uint32(200), g>>8)
	assert.Equal(t, uint32(30), b>>8)
}

func testDiskContainsMiss(t *testing.T) {
	diskCache := openTestCache(t, Config{})

	assert.False(t, diskCache.Contains("unknown"))
	_, ok := diskCache.Get("unknown")
	assert.False(t, ok)
}

func testDiskRecovery(t *testing.T) {
	rootPath := t.TempDir()
	imageCodec := codec.NewImageCodec(codec.FormatPNG, 85)

	diskCache, err := OpenDiskCache(rootPath, Config{}, imageCodec)
	require.NoError(t, err)

	err = diskCache.Put("k1", testImage(8, 8, color.RGBA{A: 255}))
	require.NoError(t, err)

	// a fresh engine over the same directory starts with an empty index
	// and repairs it from the filesystem on first access
	reopened, err := OpenDiskCache(rootPath, Config{}, imageCodec)
	require.NoError(t, err)
	assert.Equal(t, 0, reopened.Len())

	assert.True(t, reopened.Contains("k1"))
	assert.Equal(t, 1, reopened.Len())
	assert.Greater(t, reopened.TotalBytes(), int64(0))

	_, ok := reopened.Get("k1")
	assert.True(t, ok)
}

func testDiskIdempotentPut(t *testing.T) {
	countingCodec := newCountingCodec()
	diskCache, err := OpenDiskCache(t.TempDir(), Config{}, countingCodec)
	require.NoError(t, err)

	img1 := testImage(8, 8, color.RGBA{R: 255, A: 255})
	img2 := testImage(8, 8, color.RGBA{B: 255, A: 255})

	wg := sync.WaitGroup{}
	for i := 0; i < 2; i++ {
		img := img1
		if i == 1 {
			img = img2
		}

		wg.Add(1)
		go func(value image.Image) {
			defer wg.Done()
			putErr := diskCache.Put("k1", value)
			assert.NoError(t, putErr)
		}(img)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&countingCodec.encodes))
	assert.Equal(t, 1, diskCache.Len())
	assert.True(t, diskCache.Contains("k1"))
}

func testDiskByteBudgetEviction(t *testing.T) {
	diskCache := openTestCache(t, Config{MaxEntries: 2, MaxBytes: 1000})

	payload := strings.Repeat("x", 300)
	for _, key := range []string{"k1", "k2", "k3"} {
		_, err := diskCache.PutRaw(key, strings.NewReader(payload))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, diskCache.Len())
	assert.Equal(t, int64(600), diskCache.TotalBytes())
	assert.False(t, diskCache.Contains("k1"))
	assert.True(t, diskCache.Contains("k2"))
	assert.True(t, diskCache.Contains("k3"))

	// the evicted entry's backing file is gone too
	_, err := os.Stat(diskCache.DerivePath("k1"))
	assert.True(t, os.IsNotExist(err))
}

func testDiskEntryBudgetEviction(t *testing.T) {
	diskCache := openTestCache(t, Config{MaxEntries: 2, MaxBytes: 1 << 20})

	for _, key := range []string{"k1", "k2"} {
		_, err := diskCache.PutRaw(key, strings.NewReader("data"))
		require.NoError(t, err)
	}

	// touching k1 makes k2 the eviction candidate
	assert.True(t, diskCache.Contains("k1"))

	_, err := diskCache.PutRaw("k3", strings.NewReader("data"))
	require.NoError(t, err)

	assert.True(t, diskCache.Contains("k1"))
	assert.False(t, diskCache.Contains("k2"))
	assert.True(t, diskCache.Contains("k3"))
}

func testDiskInvalidateUnknownKey(t *testing.T) {
	diskCache := openTestCache(t, Config{})

	// no entry and no file; must be a no-op
	diskCache.Invalidate("unknown")
	assert.Equal(t, 0, diskCache.Len())
}

func testDiskInvalidateRemovesFile(t *testing.T) {
	diskCache := openTestCache(t, Config{})

	_, err := diskCache.PutRaw("k1", strings.NewReader("data"))
	require.NoError(t, err)

	diskCache.Invalidate("k1")

	assert.False(t, diskCache.Contains("k1"))
	_, err = os.Stat(diskCache.DerivePath("k1"))
	assert.True(t, os.IsNotExist(err))
}

func testDiskCorruptEntry(t *testing.T) {
	diskCache := openTestCache(t, Config{})

	_, err := diskCache.PutRaw("k1", strings.NewReader("not an image"))
	require.NoError(t, err)

	// decode fails, the entry is invalidated and treated as a miss
	_, ok := diskCache.Get("k1")
	assert.False(t, ok)
	assert.False(t, diskCache.Contains("k1"))
}

func testDiskClearKeepsUnrelatedFiles(t *testing.T) {
	rootPath := t.TempDir()
	diskCache, err := OpenDiskCache(rootPath, Config{}, codec.NewImageCodec(codec.FormatPNG, 85))
	require.NoError(t, err)

	for _, key := range []string{"k1", "k2"} {
		_, putErr := diskCache.PutRaw(key, strings.NewReader("data"))
		require.NoError(t, putErr)
	}

	unrelatedPath := filepath.Join(rootPath, "unrelated.txt")
	require.NoError(t, os.WriteFile(unrelatedPath, []byte("keep me"), 0644))

	require.NoError(t, diskCache.Clear())

	assert.Equal(t, 0, diskCache.Len())
	assert.False(t, diskCache.Contains("k1"))
	assert.False(t, diskCache.Contains("k2"))

	_, err = os.Stat(unrelatedPath)
	assert.NoError(t, err)
}

func testDiskOpenLeavesNoResidue(t *testing.T) {
	rootPath := t.TempDir()

	_, err := OpenDiskCache(rootPath, Config{}, codec.NewImageCodec(codec.FormatPNG, 85))
	require.NoError(t, err)

	dirEntries, err := os.ReadDir(rootPath)
	require.NoError(t, err)
	assert.Empty(t, dirEntries)

	// a writability check interrupted before its cleanup leaves a file
	// carrying the cache prefix, so Clear collects it
	leftoverPath := filepath.Join(rootPath, "i_probe1234")
	require.NoError(t, os.WriteFile(leftoverPath, []byte("x"), 0644))

	diskCache, err := OpenDiskCache(rootPath, Config{}, codec.NewImageCodec(codec.FormatPNG, 85))
	require.NoError(t, err)
	require.NoError(t, diskCache.Clear())

	_, err = os.Stat(leftoverPath)
	assert.True(t, os.IsNotExist(err))
}

func testDiskOpenUnavailableDir(t *testing.T) {
	// a regular file where the cache dir should be
	filePath := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0644))

	_, err := OpenDiskCache(filepath.Join(filePath, "cache"), Config{}, codec.NewImageCodec(codec.FormatPNG, 85))
	assert.Error(t, err)
}
