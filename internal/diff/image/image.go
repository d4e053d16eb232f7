package image

import (
	"fmt"
	"image"
)

type DiffResult struct {
	// PrecisionBits is -log2 of the smoothed relative squared error; higher is closer.
	PrecisionBits float64 `json:"precisionBits"`
	// AbsoluteError counts pixels whose luminance difference exceeds 255*fuzz.
	AbsoluteError int         `json:"absoluteError"`
	DiffImagePath string      `json:"diffImagePath,omitempty"`
	Regions       []Rectangle `json:"regions,omitempty"`
}

type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to decode image: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode image %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type DimensionMismatchError struct {
	Reference image.Point
	Candidate image.Point
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("image dimensions differ: reference=%dx%d, candidate=%dx%d", e.Reference.X, e.Reference.Y, e.Candidate.X, e.Candidate.Y)
}
