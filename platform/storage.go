package platform

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// removableMountPrefixes lists mount points commonly backed by removable
// media. Paths under these are treated as removable storage.
var removableMountPrefixes = []string{
	"/media/",
	"/run/media/",
	"/mnt/",
}

// UsableSpace returns the number of bytes available to the caller on the
// filesystem containing the given path. It returns 0 if the space cannot
// be determined.
func UsableSpace(path string) int64 {
	var stat unix.Statfs_t
	err := unix.Statfs(path, &stat)
	if err != nil {
		return 0
	}

	return int64(stat.Bavail) * int64(stat.Bsize)
}

// IsRemovableStorage tells whether the given path lives on removable
// media. It returns false when this cannot be determined.
func IsRemovableStorage(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	for _, prefix := range removableMountPrefixes {
		if strings.HasPrefix(absPath, prefix) {
			return true
		}
	}
	return false
}

// ExternalCacheDir returns the user-level cache directory for the given
// application name. It returns false when no such directory is available.
func ExternalCacheDir(appName string) (string, bool) {
	if len(appName) == 0 {
		return "", false
	}

	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", false
	}

	return filepath.Join(userCacheDir, appName), true
}

// CacheDir picks a cache directory for the given application and cache
// name: the user-level cache directory if one is available and is not on
// removable media, the system temp directory otherwise.
func CacheDir(appName string, uniqueName string) string {
	externalDir, ok := ExternalCacheDir(appName)
	if ok && !IsRemovableStorage(externalDir) {
		return filepath.Join(externalDir, uniqueName)
	}

	return filepath.Join(os.TempDir(), appName, uniqueName)
}
