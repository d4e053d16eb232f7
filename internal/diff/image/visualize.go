package image

import (
	"image"
	"image/color"
)

var (
	lowlight  = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	highlight = color.NRGBA{R: 0xf1, G: 0x00, B: 0x1e, A: 0xff}
)

// overlayOpacity is the weight of the highlight overlay against the candidate.
const overlayOpacity = float32(0xcc) / 255

// Visualize renders the candidate with changed pixels painted in the highlight
// colour and unchanged ones washed out towards white. The difference is
// amplified by 1/fuzz before it is turned into a mask, so anything at or
// above the fuzz level is drawn at full strength.
func (c *Comparer) Visualize(fuzz float64) *image.NRGBA {
	bounds := c.diff.Bounds()
	out := image.NewNRGBA(bounds)

	forEachBand(bounds, func(startY int, endY int) {
		for y := startY; y < endY; y++ {
			diffRow := c.diff.Pix[c.diff.PixOffset(bounds.Min.X, y):]
			candidateRow := c.candidate.Pix[c.candidate.PixOffset(bounds.Min.X, y):]
			outRow := out.Pix[out.PixOffset(bounds.Min.X, y):]

			for x := 0; x < bounds.Dx(); x++ {
				offset := x * 4

				mask := luminance(
					enhance(diffRow[offset], fuzz),
					enhance(diffRow[offset+1], fuzz),
					enhance(diffRow[offset+2], fuzz),
				)

				outRow[offset] = blend(candidateRow[offset], composite(lowlight.R, highlight.R, mask))
				outRow[offset+1] = blend(candidateRow[offset+1], composite(lowlight.G, highlight.G, mask))
				outRow[offset+2] = blend(candidateRow[offset+2], composite(lowlight.B, highlight.B, mask))
				outRow[offset+3] = blend(candidateRow[offset+3], 0xff)
			}
		}
	})

	return out
}

// WriteDiff renders the visualization and stores it as PNG at path.
func (c *Comparer) WriteDiff(path string, fuzz float64) error {
	return Save(path, c.Visualize(fuzz))
}

// enhance scales v by 1/fuzz, clipping to the channel range. A zero fuzz
// saturates every nonzero value.
func enhance(v uint8, fuzz float64) uint8 {
	if v == 0 {
		return 0
	}
	if fuzz <= 0 {
		return 0xff
	}
	return clampUint8(float32(v) * float32(1/fuzz))
}

// composite mixes high over low weighted by mask/255 with rounding.
func composite(low uint8, high uint8, mask uint8) uint8 {
	tmp := uint32(low)*uint32(255-mask) + uint32(high)*uint32(mask) + 128
	return uint8(((tmp >> 8) + tmp) >> 8)
}

func blend(base uint8, overlay uint8) uint8 {
	delta := float32(overlayOpacity * (float32(overlay) - float32(base)))
	return clampUint8(float32(base) + delta)
}

func clampUint8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
