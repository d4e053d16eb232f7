package thumbnail

import (
	"image"

	"github.com/nfnt/resize"

	diffimage "snapdiff/internal/diff/image"
	"snapdiff/internal/cache"
	"snapdiff/internal/discovery"
)

const DefaultSize = 320

// Path returns where the thumbnail of source is stored.
func Path(source string) string {
	return discovery.DerivedPath(source, discovery.ThumbnailMarker)
}

// Make scales img down to fit a size×size box, keeping its aspect ratio.
// Images that already fit are returned unchanged.
func Make(img image.Image, size uint) image.Image {
	return resize.Thumbnail(size, size, img, resize.Lanczos3)
}

type Generator struct {
	Size      uint
	Overwrite bool
}

// Ensure brings the thumbnail of source up to date and returns its path
// together with whether it had to be rendered.
func (g *Generator) Ensure(source string) (string, bool, error) {
	target := Path(source)

	regenerate, err := cache.NeedsRegeneration(target, g.Overwrite, source)
	if err != nil {
		return "", false, err
	}
	if !regenerate {
		return target, false, nil
	}

	img, err := diffimage.Load(source)
	if err != nil {
		return "", false, err
	}

	size := g.Size
	if size == 0 {
		size = DefaultSize
	}
	if err := diffimage.Save(target, Make(img, size)); err != nil {
		return "", false, err
	}

	return target, true, nil
}
