package image

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/xerrors"
)

// Load opens and decodes the image at path. Both unreadable files and
// malformed data are reported as *DecodeError.
func Load(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	return img, nil
}

func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return img, nil
}

func Encode(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return xerrors.Errorf("failed to encode image: %w", err)
	}
	return nil
}

// Save writes img as PNG, creating parent directories as needed. The file is
// written next to its final name and renamed into place so a concurrent
// reader never observes a half-written artifact.
func Save(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return xerrors.Errorf("failed to create output directory: %w", err)
	}

	temp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return xerrors.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(temp.Name())

	if err := Encode(temp, img); err != nil {
		_ = temp.Close()
		return err
	}
	if err := temp.Close(); err != nil {
		return xerrors.Errorf("failed to write file: %w", err)
	}
	if err := os.Chmod(temp.Name(), 0644); err != nil {
		return xerrors.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(temp.Name(), path); err != nil {
		return xerrors.Errorf("failed to write file: %w", err)
	}

	return nil
}
