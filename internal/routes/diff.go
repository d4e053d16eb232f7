package routes

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/xerrors"

	diffimage "snapdiff/internal/diff/image"
	"snapdiff/internal/metrics"
	"snapdiff/internal/myhttp"
)

const (
	DefaultFuzz    = 0.05
	maxUploadBytes = 64 << 20
	// MaxImagePixels bounds the decoded size of each uploaded image; a small
	// compressed upload can declare a raster of many gigabytes.
	MaxImagePixels = 64 << 20
)

var errImageTooLarge = xerrors.New("image too large")

type DiffResponse struct {
	PrecisionBits float64               `json:"precisionBits"`
	AbsoluteError int                   `json:"absoluteError"`
	Regions       []diffimage.Rectangle `json:"regions"`
	DiffData      string                `json:"diffData"`
}

// Diff compares the multipart fields "reference" and "candidate" and returns
// the metrics together with the PNG diff overlay.
func Diff(m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := myhttp.Logger(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		fuzz := DefaultFuzz
		if v := r.FormValue("fuzz"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsNaN(f) || f < 0 {
				http.Error(w, "fuzz must be a non-negative number", http.StatusBadRequest)
				return
			}
			fuzz = min(f, 1)
		}
		alpha := false
		if v := r.FormValue("alpha"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				http.Error(w, "alpha must be a boolean", http.StatusBadRequest)
				return
			}
			alpha = b
		}

		reference, err := formImage(r, "reference")
		if err != nil {
			logger.Debug(fmt.Sprintf("failed to read reference: %s", err))
			if errors.Is(err, errImageTooLarge) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		candidate, err := formImage(r, "candidate")
		if err != nil {
			logger.Debug(fmt.Sprintf("failed to read candidate: %s", err))
			if errors.Is(err, errImageTooLarge) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		start := time.Now()
		comparer, err := diffimage.NewComparer(reference, candidate, alpha)
		if err != nil {
			var mismatch *diffimage.DimensionMismatchError
			if errors.As(err, &mismatch) {
				http.Error(w, mismatch.Error(), http.StatusUnprocessableEntity)
				return
			}
			logger.Error(fmt.Sprintf("failed to compare images: %s", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		result := comparer.Compare(fuzz)
		m.ObserveComparison(result.PrecisionBits, time.Since(start))

		var buffer bytes.Buffer
		if err := diffimage.Encode(&buffer, comparer.Visualize(fuzz)); err != nil {
			logger.Error(fmt.Sprintf("failed to encode diff: %s", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		regions := comparer.Regions(fuzz)
		if regions == nil {
			regions = []diffimage.Rectangle{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(DiffResponse{
			PrecisionBits: result.PrecisionBits,
			AbsoluteError: result.AbsoluteError,
			Regions:       regions,
			DiffData:      base64.StdEncoding.EncodeToString(buffer.Bytes()),
		}); err != nil {
			logger.Error("Failed to encode response", "error", err)
		}
	}
}

func formImage(r *http.Request, field string) (image.Image, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &diffimage.DecodeError{Path: field, Err: err}
	}
	if int64(config.Width)*int64(config.Height) > MaxImagePixels {
		return nil, xerrors.Errorf("%s is %dx%d: %w", field, config.Width, config.Height, errImageTooLarge)
	}
	return diffimage.Decode(data)
}
