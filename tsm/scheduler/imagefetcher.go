package scheduler

import (
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru"

	"github.com/torchdeploy/tsm"
)

// ImageFetcher maps an image reference to a local root path a role's
// process can run from (spec §4.5).
type ImageFetcher interface {
	Fetch(image string) (string, error)
}

// LocalDirectoryImageFetcher treats the image reference as an absolute
// path to an already-present directory, returning it unchanged. Results
// are cached so repeated fetches of the same image (eg. across replicas
// or apps) skip the stat call.
type LocalDirectoryImageFetcher struct {
	cache *lru.Cache
}

// NewLocalDirectoryImageFetcher returns a fetcher caching up to
// cacheSize resolved image roots.
func NewLocalDirectoryImageFetcher(cacheSize int) *LocalDirectoryImageFetcher {
	if cacheSize < 1 {
		cacheSize = 128
	}
	c, _ := lru.New(cacheSize)
	return &LocalDirectoryImageFetcher{cache: c}
}

// Fetch validates that image is an absolute path to an existing directory
// and returns it unchanged.
func (f *LocalDirectoryImageFetcher) Fetch(image string) (string, error) {
	if v, ok := f.cache.Get(image); ok {
		return v.(string), nil
	}

	if !filepath.IsAbs(image) {
		return "", &tsm.ValueError{Op: "LocalDirectoryImageFetcher.Fetch", Reason: "image must be an absolute path: " + image}
	}

	info, err := os.Stat(image)
	if err != nil || !info.IsDir() {
		return "", &tsm.ValueError{Op: "LocalDirectoryImageFetcher.Fetch", Reason: "image does not exist as a directory: " + image}
	}

	f.cache.Add(image, image)
	return image, nil
}
