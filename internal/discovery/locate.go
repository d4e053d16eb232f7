package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

const (
	DiffMarker      = ".diff"
	ThumbnailMarker = ".thumb"
)

type Options struct {
	// Extensions lists the recognized raster suffixes, leading dot included.
	Extensions []string
}

func DefaultOptions() Options {
	return Options{Extensions: []string{".png"}}
}

// Error reports a prefix that names no directory or stem, or whose walk root
// could not be read.
type Error struct {
	Prefix string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to locate images under %s: %v", e.Prefix, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsImage reports whether path is a comparable screenshot, i.e. it carries a
// recognized extension and is not one of our own diff or thumbnail artifacts.
func (o Options) IsImage(path string) bool {
	for _, ext := range o.Extensions {
		if ext == "" || !strings.HasSuffix(path, ext) {
			continue
		}
		if strings.HasSuffix(path, DiffMarker+ext) || strings.HasSuffix(path, ThumbnailMarker+ext) {
			return false
		}
		return true
	}
	return false
}

// Abs resolves prefix the way Locate does.
func Abs(prefix string) string {
	abs, err := filepath.Abs(prefix)
	if err != nil {
		return filepath.Clean(prefix)
	}
	return abs
}

// Locate returns the sorted IDs of every image under prefix. When prefix is a
// directory the whole directory is searched; otherwise prefix is a path stem
// and its parent directory is searched for files starting with it. An ID is
// the absolute path with the absolute prefix removed, so Abs(prefix)+ID is
// the file. A prefix naming neither a directory nor the stem of any entry is
// an *Error.
func Locate(prefix string, opts Options) ([]string, error) {
	abs := Abs(prefix)

	root := abs
	info, statErr := os.Stat(abs)
	if statErr != nil || !info.IsDir() {
		if strings.HasSuffix(prefix, string(filepath.Separator)) || strings.HasSuffix(prefix, "/") {
			if statErr == nil {
				statErr = xerrors.New("not a directory")
			}
			return nil, &Error{Prefix: prefix, Err: statErr}
		}
		root = filepath.Dir(abs)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &Error{Prefix: prefix, Err: err}
	}

	if statErr != nil && !hasStem(entries, filepath.Base(abs)) {
		return nil, &Error{Prefix: prefix, Err: statErr}
	}

	w := &walker{
		prefix:    abs,
		opts:      opts,
		ancestors: make(map[string]struct{}),
	}
	if real, err := filepath.EvalSymlinks(root); err == nil {
		w.ancestors[real] = struct{}{}
	}
	w.walkEntries(root, entries)

	sort.Strings(w.ids)
	return w.ids, nil
}

func hasStem(entries []os.DirEntry, stem string) bool {
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), stem) {
			return true
		}
	}
	return false
}

// walker descends into symlinked directories, which filepath.WalkDir does not.
// ancestors holds the real paths of the directories on the current branch, so
// a link back to one of them is a cycle and is not entered, while aliases of
// sibling directories are walked under both names.
type walker struct {
	prefix    string
	opts      Options
	ancestors map[string]struct{}
	ids       []string
}

func (w *walker) walk(dir string) {
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return
	}
	if _, ok := w.ancestors[real]; ok {
		return
	}
	w.ancestors[real] = struct{}{}
	defer delete(w.ancestors, real)

	// Unreadable nested directories are skipped, like a permission denied
	// subtree in find(1).
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	w.walkEntries(dir, entries)
}

func (w *walker) walkEntries(dir string, entries []os.DirEntry) {
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		isDir := entry.IsDir()
		if entry.Type()&os.ModeSymlink != 0 {
			// Dangling links are kept as files and fail later at decode time.
			if info, err := os.Stat(path); err == nil {
				isDir = info.IsDir()
			}
		}

		if isDir {
			w.walk(path)
			continue
		}

		if strings.HasPrefix(path, w.prefix) && w.opts.IsImage(path) {
			w.ids = append(w.ids, path[len(w.prefix):])
		}
	}
}

// DerivedPath names an artifact generated from path, e.g. "a.png" with
// DiffMarker becomes "a.diff.png". Derived artifacts are always PNG.
func DerivedPath(path string, marker string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + marker + ".png"
}
