package runner

import (
	"math"
	"strings"

	"golang.org/x/xerrors"

	"snapdiff/internal/thumbnail"
)

// StdoutOutput makes the report go to standard output instead of a file.
const StdoutOutput = "-"

type Config struct {
	// Fuzz is the per-pixel tolerance in [0, 1]; larger values are clamped.
	Fuzz      float64
	Overwrite bool
	// Alpha keeps the alpha channel in comparisons.
	Alpha         bool
	Workers       int
	ThumbnailSize uint
	Extensions    []string
	Output        string
}

func DefaultConfig() Config {
	return Config{
		Fuzz:          0.05,
		Workers:       1,
		ThumbnailSize: thumbnail.DefaultSize,
		Extensions:    []string{".png"},
		Output:        "index.html",
	}
}

func (c Config) Validate() error {
	if math.IsNaN(c.Fuzz) || c.Fuzz < 0 {
		return xerrors.Errorf("fuzz must be a non-negative number: %v", c.Fuzz)
	}
	if c.Workers < 1 {
		return xerrors.Errorf("workers must be at least 1: %d", c.Workers)
	}
	if c.ThumbnailSize == 0 {
		return xerrors.New("thumbnail size must be positive")
	}
	if len(c.Extensions) == 0 {
		return xerrors.New("at least one image extension is required")
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return xerrors.Errorf("extension must start with a dot: %q", ext)
		}
	}
	if c.Output == "" {
		return xerrors.New("output must not be empty")
	}
	return nil
}

// ParseExtensions splits a comma separated list such as ".png,.jpg".
func ParseExtensions(s string) []string {
	var extensions []string
	for _, ext := range strings.Split(s, ",") {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions = append(extensions, ext)
	}
	return extensions
}
