package fetch

import (
	"image"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/pixely/imagecache/cache"
	"github.com/pixely/imagecache/codec"
)

// Producer generates a value for a key when no cache tier has it. It may
// be slow and must be safely callable from a worker goroutine. Producers
// do not touch cache state; the loader writes the caches.
type Producer interface {
	Produce(key string, widthHint int, heightHint int) (image.Image, error)
}

const (
	defaultRetryMax     = 3
	defaultRetryWaitMin = 500 * time.Millisecond
	defaultRetryWaitMax = 5 * time.Second
	defaultHTTPTimeout  = 30 * time.Second
	defaultMaxBodyBytes = 32 * 1024 * 1024
)

// HTTPFetcher implements Producer for keys that are image URLs.
type HTTPFetcher struct {
	client       *http.Client
	decoder      codec.Decoder
	maxBodyBytes int64
}

// NewHTTPFetcher creates an HTTPFetcher decoding responses with the
// given decoder. Transient HTTP failures are retried with backoff.
func NewHTTPFetcher(decoder codec.Decoder) *HTTPFetcher {
	retryClient := &retryablehttp.Client{
		HTTPClient:   &http.Client{Timeout: defaultHTTPTimeout},
		RetryMax:     defaultRetryMax,
		RetryWaitMin: defaultRetryWaitMin,
		RetryWaitMax: defaultRetryWaitMax,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
	}

	return &HTTPFetcher{
		client:       retryClient.StandardClient(),
		decoder:      decoder,
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

// Produce downloads the image at the key URL and decodes it, scaled to
// the given bounds.
func (fetcher *HTTPFetcher) Produce(key string, widthHint int, heightHint int) (image.Image, error) {
	logger := log.WithFields(log.Fields{
		"package":  "fetch",
		"struct":   "HTTPFetcher",
		"function": "Produce",
	})

	logger.Debugf("downloading image - %s", key)

	data, err := fetcher.download(key)
	if err != nil {
		return nil, err
	}

	value, err := fetcher.decoder.Decode(data, widthHint, heightHint)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode image from %s: %w", key, err)
	}

	return value, nil
}

// DownloadToCache downloads the image at the key URL straight into the
// disk cache, without decoding, and returns the cache file path. A key
// already cached is returned as-is.
func (fetcher *HTTPFetcher) DownloadToCache(diskCache *cache.DiskCache, key string) (string, error) {
	if filePath, ok := diskCache.FilePath(key); ok {
		return filePath, nil
	}

	response, err := fetcher.client.Get(key)
	if err != nil {
		return "", xerrors.Errorf("failed to download %s: %w", key, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", xerrors.Errorf("failed to download %s: status %d", key, response.StatusCode)
	}

	return diskCache.PutRaw(key, io.LimitReader(response.Body, fetcher.maxBodyBytes))
}

func (fetcher *HTTPFetcher) download(key string) ([]byte, error) {
	response, err := fetcher.client.Get(key)
	if err != nil {
		return nil, xerrors.Errorf("failed to download %s: %w", key, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, xerrors.Errorf("failed to download %s: status %d", key, response.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(response.Body, fetcher.maxBodyBytes))
	if err != nil {
		return nil, xerrors.Errorf("failed to read image body from %s: %w", key, err)
	}

	return data, nil
}
