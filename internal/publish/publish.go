package publish

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"snapdiff/internal/storage"
)

const defaultConcurrency = 8

type Publisher struct {
	Storage     storage.Storage
	Log         logr.Logger
	Concurrency int
}

type Result struct {
	// Root is the local directory keys are relative to.
	Root string
	// Locations maps each key to where the storage put it.
	Locations map[string]string
	Bytes     int64
}

// Publish uploads files keyed by their path relative to the deepest
// directory containing all of them. Relative links between the files, such
// as those in the report, keep working at the destination.
func (p *Publisher) Publish(ctx context.Context, files []string) (*Result, error) {
	root, keys := CommonRoot(files)
	result := &Result{
		Root:      root,
		Locations: make(map[string]string, len(keys)),
	}

	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}

	var (
		mu    sync.Mutex
		total atomic.Int64
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for _, key := range keys {
		eg.Go(func() error {
			local := filepath.Join(root, filepath.FromSlash(key))
			file, err := os.Open(local)
			if err != nil {
				return xerrors.Errorf("failed to open %s: %w", local, err)
			}
			defer file.Close()

			info, err := file.Stat()
			if err != nil {
				return xerrors.Errorf("failed to stat %s: %w", local, err)
			}

			contentType := mime.TypeByExtension(filepath.Ext(local))
			if contentType == "" {
				contentType = "application/octet-stream"
			}

			location, err := p.Storage.Put(ctx, key, file, contentType)
			if err != nil {
				return err
			}
			total.Add(info.Size())

			mu.Lock()
			result.Locations[key] = location
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, xerrors.Errorf("failed to publish report: %w", err)
	}

	result.Bytes = total.Load()
	p.Log.Info("Published report", "files", len(keys), "size", humanize.Bytes(uint64(result.Bytes)), "root", root)
	return result, nil
}

// CommonRoot returns the deepest directory containing every file, and the
// files as sorted, de-duplicated slash-separated paths relative to it.
func CommonRoot(files []string) (string, []string) {
	if len(files) == 0 {
		return "", nil
	}

	root := filepath.Dir(files[0])
	for _, f := range files[1:] {
		for !within(root, f) {
			parent := filepath.Dir(root)
			if parent == root {
				break
			}
			root = parent
		}
	}

	seen := make(map[string]struct{}, len(files))
	keys := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			rel = f
		}
		key := filepath.ToSlash(rel)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return root, keys
}

func within(dir string, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !hasParentPrefix(rel)
}

func hasParentPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
