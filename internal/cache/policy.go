package cache

import (
	"errors"
	"io/fs"
	"os"

	"golang.org/x/xerrors"
)

// NeedsRegeneration reports whether the derived file at target must be
// rebuilt from sources: always when overwrite is set, when target does not
// exist, or when target is older than any of the sources. A source that
// cannot be stat'ed is an error.
func NeedsRegeneration(target string, overwrite bool, sources ...string) (bool, error) {
	if overwrite {
		return true, nil
	}

	targetInfo, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, xerrors.Errorf("failed to stat %s: %w", target, err)
	}

	stale := false
	for _, source := range sources {
		sourceInfo, err := os.Stat(source)
		if err != nil {
			return false, xerrors.Errorf("failed to stat %s: %w", source, err)
		}
		if targetInfo.ModTime().Before(sourceInfo.ModTime()) {
			stale = true
		}
	}

	return stale, nil
}
