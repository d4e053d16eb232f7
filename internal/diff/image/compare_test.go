package image_test

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	diffimage "snapdiff/internal/diff/image"
)

func createTestImage(width, height int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func mustCompare(t *testing.T, reference image.Image, candidate image.Image, alpha bool) *diffimage.Comparer {
	t.Helper()
	c, err := diffimage.NewComparer(reference, candidate, alpha)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestComparer_Compare(t *testing.T) {
	t.Parallel()

	gray := color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	halfBlack := createTestImage(10, 10, color.White)
	for y := 0; y < 5; y++ {
		for x := 0; x < 10; x++ {
			halfBlack.Set(x, y, color.Black)
		}
	}

	type in struct {
		reference image.Image
		candidate image.Image
		fuzz      float64
	}
	type want struct {
		result diffimage.DiffResult
	}
	tests := []struct {
		name string
		in   in
		want want
	}{
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in: in{
				reference: createTestImage(10, 10, color.White),
				candidate: createTestImage(10, 10, color.White),
				fuzz:      0.05,
			},
			want: want{
				result: diffimage.DiffResult{
					PrecisionBits: -math.Log2(1.0 / (10 * 10 * 3 * 255 * 255 * 2)),
					AbsoluteError: 0,
				},
			},
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in: in{
				reference: createTestImage(1, 1, color.Black),
				candidate: createTestImage(1, 1, color.White),
				fuzz:      0.05,
			},
			want: want{
				result: diffimage.DiffResult{
					PrecisionBits: -math.Log2(float64(3*255*255*2+1) / float64(3*255*255*2)),
					AbsoluteError: 1,
				},
			},
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in: in{
				reference: createTestImage(10, 10, color.White),
				candidate: halfBlack,
				fuzz:      0.05,
			},
			want: want{
				result: diffimage.DiffResult{
					PrecisionBits: -math.Log2(float64(50*3*255*255*2+1) / float64(100*3*255*255*2)),
					AbsoluteError: 50,
				},
			},
		},
		{
			name: func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in: in{
				reference: createTestImage(4, 4, color.White),
				candidate: createTestImage(4, 4, gray),
				fuzz:      1,
			},
			want: want{
				result: diffimage.DiffResult{
					PrecisionBits: -math.Log2(float64(16*3*127*127*2+1) / float64(16*3*255*255*2)),
					AbsoluteError: 0,
				},
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := mustCompare(t, tt.in.reference, tt.in.candidate, false)
			got := c.Compare(tt.in.fuzz)
			if diff := cmp.Diff(tt.want.result, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestComparer_Symmetry(t *testing.T) {
	t.Parallel()

	a := createTestImage(8, 8, color.NRGBA{R: 10, G: 200, B: 30, A: 0xff})
	b := createTestImage(8, 8, color.NRGBA{R: 90, G: 20, B: 250, A: 0xff})
	b.Set(3, 3, color.NRGBA{R: 10, G: 200, B: 30, A: 0xff})

	forward := mustCompare(t, a, b, false).Compare(0.05)
	backward := mustCompare(t, b, a, false).Compare(0.05)
	if diff := cmp.Diff(forward, backward); diff != "" {
		t.Errorf("(-forward +backward):\n%s", diff)
	}
}

func TestComparer_Monotonicity(t *testing.T) {
	t.Parallel()

	reference := createTestImage(6, 6, color.White)
	candidate := createTestImage(6, 6, color.White)

	previous := mustCompare(t, reference, candidate, false).Compare(0.05)
	for i := 0; i < 6; i++ {
		candidate.Set(i, i, color.Black)
		got := mustCompare(t, reference, candidate, false).Compare(0.05)

		if got.PrecisionBits > previous.PrecisionBits {
			t.Errorf("precision increased after adding a change: %f > %f", got.PrecisionBits, previous.PrecisionBits)
		}
		if got.AbsoluteError < previous.AbsoluteError {
			t.Errorf("ae decreased after adding a change: %d < %d", got.AbsoluteError, previous.AbsoluteError)
		}
		previous = got
	}
}

func TestComparer_FuzzMonotonicity(t *testing.T) {
	t.Parallel()

	reference := createTestImage(16, 16, color.Black)
	candidate := image.NewNRGBA(reference.Bounds())
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			v := uint8(y*16 + x)
			candidate.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 0xff})
		}
	}

	c := mustCompare(t, reference, candidate, false)
	previous := c.AbsoluteError(0)
	if previous != 255 {
		t.Errorf("want 255 pixels above zero fuzz, got %d", previous)
	}
	for _, fuzz := range []float64{0.01, 0.05, 0.1, 0.5, 0.99, 1} {
		got := c.AbsoluteError(fuzz)
		if got > previous {
			t.Errorf("ae(%v)=%d exceeds ae at a smaller fuzz (%d)", fuzz, got, previous)
		}
		previous = got
	}
	if previous != 0 {
		t.Errorf("want 0 pixels above full fuzz, got %d", previous)
	}
}

func TestComparer_Alpha(t *testing.T) {
	t.Parallel()

	opaque := createTestImage(2, 2, color.NRGBA{R: 40, G: 50, B: 60, A: 0xff})
	transparent := createTestImage(2, 2, color.NRGBA{R: 40, G: 50, B: 60, A: 0})

	t.Run("Ignored", func(t *testing.T) {
		t.Parallel()

		got := mustCompare(t, opaque, transparent, false).Compare(0)
		if got.AbsoluteError != 0 {
			t.Errorf("alpha changed ae: %d", got.AbsoluteError)
		}
		if diff := cmp.Diff(-math.Log2(1.0/(4*3*255*255*2)), got.PrecisionBits, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("Kept", func(t *testing.T) {
		t.Parallel()

		c := mustCompare(t, opaque, transparent, true)
		if got := c.Difference().NRGBAAt(0, 0); got != (color.NRGBA{A: 0xff}) {
			t.Errorf("unexpected alpha difference %v", got)
		}
	})
}

func TestComparer_Errors(t *testing.T) {
	t.Parallel()

	t.Run("DimensionMismatch", func(t *testing.T) {
		t.Parallel()

		_, err := diffimage.NewComparer(createTestImage(10, 10, color.White), createTestImage(10, 11, color.White), false)
		var mismatch *diffimage.DimensionMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("want DimensionMismatchError, got %v", err)
		}
		if diff := cmp.Diff(image.Pt(10, 11), mismatch.Candidate); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("Decode", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		broken := filepath.Join(dir, "broken.png")
		if err := os.WriteFile(broken, []byte("not an image"), 0644); err != nil {
			t.Fatal(err)
		}
		valid := filepath.Join(dir, "valid.png")
		if err := diffimage.Save(valid, createTestImage(1, 1, color.White)); err != nil {
			t.Fatal(err)
		}

		_, err := diffimage.LoadComparer(valid, broken, false)
		var decodeErr *diffimage.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("want DecodeError, got %v", err)
		}
		if decodeErr.Path != broken {
			t.Errorf("want path %s, got %s", broken, decodeErr.Path)
		}
	})
}

func TestComparer_Visualize(t *testing.T) {
	t.Parallel()

	reference := createTestImage(2, 1, color.Black)
	candidate := createTestImage(2, 1, color.Black)
	candidate.Set(1, 0, color.White)

	got := mustCompare(t, reference, candidate, false).Visualize(0.05)
	want := []color.NRGBA{
		// unchanged: black washed towards white
		{R: 204, G: 204, B: 204, A: 0xff},
		// changed: white pulled towards the highlight colour
		{R: 243, G: 51, B: 75, A: 0xff},
	}
	for x, w := range want {
		if diff := cmp.Diff(w, got.NRGBAAt(x, 0)); diff != "" {
			t.Errorf("pixel %d (-want +got):\n%s", x, diff)
		}
	}
}

func TestComparer_WriteDiff(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "a.diff.png")
	c := mustCompare(t, createTestImage(3, 3, color.White), createTestImage(3, 3, color.Black), false)
	if err := c.WriteDiff(path, 0.05); err != nil {
		t.Fatal(err)
	}

	written, err := diffimage.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(image.Pt(3, 3), written.Bounds().Size()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestComparer_Regions(t *testing.T) {
	t.Parallel()

	reference := createTestImage(100, 100, color.White)
	candidate := createTestImage(100, 100, color.White)
	for y := 10; y < 20; y++ {
		for x := 10; x < 30; x++ {
			candidate.Set(x, y, color.Black)
		}
	}
	// within merge distance of the first block
	candidate.Set(35, 15, color.Black)
	for y := 70; y < 80; y++ {
		for x := 60; x < 65; x++ {
			candidate.Set(x, y, color.Black)
		}
	}

	got := mustCompare(t, reference, candidate, false).Regions(0.05)
	want := []diffimage.Rectangle{
		{X: 10, Y: 10, Width: 26, Height: 10},
		{X: 60, Y: 70, Width: 5, Height: 10},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if got := mustCompare(t, reference, reference, false).Regions(0.05); len(got) != 0 {
		t.Errorf("identical images produced regions: %v", got)
	}
}

func TestComparer_RegionsTransitiveMerge(t *testing.T) {
	t.Parallel()

	reference := createTestImage(50, 50, color.White)
	candidate := createTestImage(50, 50, color.White)
	// Neither later pixel is near the first one, but their union is.
	candidate.Set(30, 0, color.Black)
	candidate.Set(14, 5, color.Black)
	candidate.Set(24, 12, color.Black)

	got := mustCompare(t, reference, candidate, false).Regions(0.05)
	want := []diffimage.Rectangle{
		{X: 14, Y: 0, Width: 17, Height: 13},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
