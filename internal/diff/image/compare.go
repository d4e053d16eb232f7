package image

import (
	"image"
	"image/draw"
	"math"
	"runtime"
	"sync"
)

// Comparer holds one reference/candidate pair and their per-channel absolute
// difference. It is built for a single comparison and must not be shared
// across pairs.
type Comparer struct {
	reference *image.NRGBA
	candidate *image.NRGBA
	diff      *image.NRGBA
	alpha     bool

	// channelHistogram[c][v] counts difference magnitude v on channel c (R, G, B, A).
	channelHistogram [4][256]int
	// luminanceHistogram counts the luminance of the difference image.
	luminanceHistogram [256]int
}

// LoadComparer decodes both files and builds a Comparer for them.
func LoadComparer(referencePath string, candidatePath string, alpha bool) (*Comparer, error) {
	reference, err := Load(referencePath)
	if err != nil {
		return nil, err
	}

	candidate, err := Load(candidatePath)
	if err != nil {
		return nil, err
	}

	return NewComparer(reference, candidate, alpha)
}

// NewComparer builds a Comparer from decoded images. Unless alpha is set both
// images are reduced to RGB first, so transparency never shows up in a metric.
func NewComparer(reference image.Image, candidate image.Image, alpha bool) (*Comparer, error) {
	referenceSize := reference.Bounds().Size()
	candidateSize := candidate.Bounds().Size()
	if !referenceSize.Eq(candidateSize) {
		return nil, &DimensionMismatchError{
			Reference: referenceSize,
			Candidate: candidateSize,
		}
	}

	c := &Comparer{
		reference: toNRGBA(reference, alpha),
		candidate: toNRGBA(candidate, alpha),
		alpha:     alpha,
	}
	c.calculateDifference()

	return c, nil
}

// Difference returns the raw per-channel |candidate - reference| image.
func (c *Comparer) Difference() *image.NRGBA {
	return c.diff
}

func (c *Comparer) Size() image.Point {
	return c.diff.Bounds().Size()
}

// Precision returns how close the images are, in bits. Identical images hit
// the ceiling set by the +1 smoothing term instead of infinity.
func (c *Comparer) Precision() float64 {
	size := c.Size()
	pixels := int64(size.X) * int64(size.Y)
	if pixels == 0 {
		return 0
	}

	var squareError int64
	for i := 1; i < 256; i++ {
		count := c.channelHistogram[0][i] + c.channelHistogram[1][i] + c.channelHistogram[2][i]
		squareError += int64(count) * int64(i*i)
	}

	relativeError := float64(squareError*2+1) / float64(pixels*3*255*255*2)
	return -math.Log2(relativeError)
}

// AbsoluteError counts pixels whose luminance difference is strictly greater
// than 255*fuzz.
func (c *Comparer) AbsoluteError(fuzz float64) int {
	ae := 0
	for i := luminanceThreshold(fuzz) + 1; i < 256; i++ {
		ae += c.luminanceHistogram[i]
	}
	return ae
}

// Compare computes both metrics at once.
func (c *Comparer) Compare(fuzz float64) DiffResult {
	return DiffResult{
		PrecisionBits: c.Precision(),
		AbsoluteError: c.AbsoluteError(fuzz),
	}
}

func (c *Comparer) calculateDifference() {
	bounds := c.reference.Bounds()
	c.diff = image.NewNRGBA(bounds)

	type histograms struct {
		channel   [4][256]int
		luminance [256]int
	}

	var mu sync.Mutex
	forEachBand(bounds, func(startY int, endY int) {
		var local histograms

		for y := startY; y < endY; y++ {
			referenceRow := c.reference.Pix[c.reference.PixOffset(bounds.Min.X, y):]
			candidateRow := c.candidate.Pix[c.candidate.PixOffset(bounds.Min.X, y):]
			diffRow := c.diff.Pix[c.diff.PixOffset(bounds.Min.X, y):]

			for x := 0; x < bounds.Dx(); x++ {
				offset := x * 4

				r := absDiff(candidateRow[offset], referenceRow[offset])
				g := absDiff(candidateRow[offset+1], referenceRow[offset+1])
				b := absDiff(candidateRow[offset+2], referenceRow[offset+2])
				a := uint8(0xff)
				if c.alpha {
					a = absDiff(candidateRow[offset+3], referenceRow[offset+3])
					local.channel[3][a]++
				}

				diffRow[offset] = r
				diffRow[offset+1] = g
				diffRow[offset+2] = b
				diffRow[offset+3] = a

				local.channel[0][r]++
				local.channel[1][g]++
				local.channel[2][b]++
				local.luminance[luminance(r, g, b)]++
			}
		}

		mu.Lock()
		defer mu.Unlock()
		for ch := range local.channel {
			for v, count := range local.channel[ch] {
				c.channelHistogram[ch][v] += count
			}
		}
		for v, count := range local.luminance {
			c.luminanceHistogram[v] += count
		}
	})
}

// toNRGBA copies img into a non-premultiplied buffer anchored at the origin.
// With alpha disabled every pixel is made opaque while keeping its stored
// colour, the same as dropping the alpha channel.
func toNRGBA(img image.Image, alpha bool) *image.NRGBA {
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < bounds.Dy(); y++ {
			srcOffset := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(dst.Pix[dst.PixOffset(0, y):dst.PixOffset(0, y)+bounds.Dx()*4], src.Pix[srcOffset:srcOffset+bounds.Dx()*4])
		}
	} else {
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	}

	if !alpha {
		for i := 3; i < len(dst.Pix); i += 4 {
			dst.Pix[i] = 0xff
		}
	}

	return dst
}

// forEachBand splits bounds into horizontal bands and runs fn on each band
// from its own goroutine.
func forEachBand(bounds image.Rectangle, fn func(startY int, endY int)) {
	// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
	numWorkers := runtime.GOMAXPROCS(0)
	height := bounds.Dy()
	if height < numWorkers {
		numWorkers = max(height, 1)
	}
	rowsPerWorker := height / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		startY := bounds.Min.Y + i*rowsPerWorker
		endY := startY + rowsPerWorker
		if i == numWorkers-1 {
			endY = bounds.Max.Y
		}

		go func(startY int, endY int) {
			defer wg.Done()
			fn(startY, endY)
		}(startY, endY)
	}
	wg.Wait()
}

// luminance converts RGB to ITU-R 601-2 luma with 16-bit fixed point weights.
func luminance(r uint8, g uint8, b uint8) uint8 {
	return uint8((uint32(r)*19595 + uint32(g)*38470 + uint32(b)*7471 + 0x8000) >> 16)
}

func luminanceThreshold(fuzz float64) int {
	if fuzz <= 0 {
		return 0
	}
	if fuzz >= 1 {
		return 255
	}
	return int(255 * fuzz)
}

func absDiff(l uint8, r uint8) uint8 {
	if l > r {
		return l - r
	}
	return r - l
}
