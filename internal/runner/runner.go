package runner

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"snapdiff/internal/cache"
	diffimage "snapdiff/internal/diff/image"
	"snapdiff/internal/discovery"
	"snapdiff/internal/metrics"
	"snapdiff/internal/report"
	"snapdiff/internal/resultstore"
	"snapdiff/internal/thumbnail"
)

var tracer = otel.Tracer("snapdiff/internal/runner")

type Summary struct {
	RunID         string           `json:"runId,omitempty"`
	Reference     string           `json:"reference"`
	Candidate     string           `json:"candidate"`
	Output        string           `json:"output"`
	Pairs         int              `json:"pairs"`
	Compared      int              `json:"compared"`
	Cached        int              `json:"cached"`
	Thumbnails    int              `json:"thumbnails"`
	ReferenceOnly int              `json:"referenceOnly"`
	CandidateOnly int              `json:"candidateOnly"`
	Skipped       []report.Skipped `json:"skipped"`
	Interrupted   bool             `json:"interrupted"`
	StartedAt     time.Time        `json:"startedAt"`
	Duration      time.Duration    `json:"duration"`
	// Files lists the report and every image it links to.
	Files []string `json:"-"`
}

type Runner struct {
	Config  Config
	Log     logr.Logger
	Metrics *metrics.Metrics
	// Store is optional; without it cached diffs are reported without metrics.
	Store *resultstore.Store
	// Stdout receives the report when Config.Output is StdoutOutput.
	Stdout io.Writer
}

type outcome struct {
	pair       discovery.Pair
	row        report.Row
	compared   bool
	thumbnails int
	files      []string
	err        error
}

// Run compares every image present under both prefixes and writes the
// report. Pairs that fail are listed as skipped and do not fail the run.
// Discovery failures, report write failures and an invalid configuration do.
// If ctx is cancelled no further pairs are started and the report is closed
// with the rows written so far.
func (r *Runner) Run(ctx context.Context, referencePrefix string, candidatePrefix string) (*Summary, error) {
	if err := r.Config.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid configuration: %w", err)
	}

	summary := &Summary{
		Reference: referencePrefix,
		Candidate: candidatePrefix,
		Output:    r.Config.Output,
		Skipped:   []report.Skipped{},
		StartedAt: time.Now(),
	}

	opts := discovery.Options{Extensions: r.Config.Extensions}
	referenceIDs, err := discovery.Locate(referencePrefix, opts)
	if err != nil {
		return nil, err
	}
	candidateIDs, err := discovery.Locate(candidatePrefix, opts)
	if err != nil {
		return nil, err
	}

	referenceOnly, candidateOnly := discovery.Unmatched(referenceIDs, candidateIDs)
	summary.ReferenceOnly = len(referenceOnly)
	summary.CandidateOnly = len(candidateOnly)
	for _, id := range referenceOnly {
		r.Log.V(1).Info("Image has no candidate", "id", id)
	}
	for _, id := range candidateOnly {
		r.Log.V(1).Info("Image has no reference", "id", id)
	}

	pairs := discovery.Match(referencePrefix, candidatePrefix, referenceIDs, candidateIDs)
	summary.Pairs = len(pairs)
	r.Log.Info("Located images", "reference", len(referenceIDs), "candidate", len(candidateIDs), "pairs", len(pairs))

	if r.Store != nil {
		runID, err := r.Store.CreateRun(ctx, referencePrefix, candidatePrefix, r.Config.Fuzz)
		if err != nil {
			r.Log.Error(err, "Failed to record run")
		}
		summary.RunID = runID
	}

	builder, err := r.openReport(referencePrefix, candidatePrefix)
	if err != nil {
		return nil, err
	}
	if r.Config.Output != StdoutOutput {
		summary.Files = append(summary.Files, discovery.Abs(r.Config.Output))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type indexed struct {
		index   int
		outcome outcome
	}
	results := make(chan indexed, r.Config.Workers)

	go func() {
		defer close(results)

		var eg errgroup.Group
		eg.SetLimit(r.Config.Workers)
		for i, pair := range pairs {
			if runCtx.Err() != nil {
				break
			}
			eg.Go(func() error {
				results <- indexed{index: i, outcome: r.process(runCtx, summary.RunID, pair)}
				return nil
			})
		}
		_ = eg.Wait()
	}()

	// Outcomes arrive in completion order and are written in pair order.
	var writeErr error
	pending := make(map[int]outcome)
	next := 0
	for result := range results {
		pending[result.index] = result.outcome
		for {
			o, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			if writeErr != nil {
				continue
			}
			if err := r.record(builder, summary, o); err != nil {
				writeErr = err
				cancel()
			}
		}
	}

	if next < len(pairs) && ctx.Err() != nil {
		summary.Interrupted = true
		r.Log.Info("Interrupted, closing report early", "written", next, "pairs", len(pairs))
	}

	closeErr := builder.Close()
	summary.Duration = time.Since(summary.StartedAt)

	if r.Store != nil && summary.RunID != "" {
		// The run context may be cancelled by now; the bookkeeping still has to land.
		if err := r.Store.FinishRun(context.WithoutCancel(ctx), summary.RunID, summary.Pairs, len(summary.Skipped)); err != nil {
			r.Log.Error(err, "Failed to finish run")
		}
	}

	if writeErr != nil {
		return summary, writeErr
	}
	if closeErr != nil {
		return summary, closeErr
	}

	r.Log.Info("Wrote report",
		"output", r.Config.Output,
		"compared", summary.Compared,
		"cached", summary.Cached,
		"skipped", len(summary.Skipped),
		"duration", summary.Duration,
	)
	return summary, nil
}

func (r *Runner) openReport(referencePrefix string, candidatePrefix string) (*report.Builder, error) {
	header := report.Header{
		Reference: referencePrefix,
		Candidate: candidatePrefix,
	}

	if r.Config.Output != StdoutOutput {
		return report.Create(r.Config.Output, header)
	}

	stdout := r.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	if wd, err := os.Getwd(); err == nil {
		header.Dir = wd
	}
	return report.New(bufio.NewWriter(stdout), header)
}

func (r *Runner) record(builder *report.Builder, summary *Summary, o outcome) error {
	if o.err != nil {
		reason := o.err.Error()
		r.Log.Error(o.err, "Skipping pair", "id", o.pair.ID)
		r.Metrics.ObservePair(metrics.OutcomeSkipped)
		summary.Skipped = append(summary.Skipped, report.Skipped{ID: o.pair.ID, Reason: reason})
		if err := builder.Skip(o.pair.ID, reason); err != nil {
			return xerrors.Errorf("failed to write report: %w", err)
		}
		return nil
	}

	if err := builder.Append(o.row); err != nil {
		return xerrors.Errorf("failed to write report: %w", err)
	}

	if o.compared {
		summary.Compared++
		r.Metrics.ObservePair(metrics.OutcomeCompared)
	} else {
		summary.Cached++
		r.Metrics.ObservePair(metrics.OutcomeCached)
	}
	summary.Thumbnails += o.thumbnails
	summary.Files = append(summary.Files, o.files...)
	return nil
}

func (r *Runner) process(ctx context.Context, runID string, pair discovery.Pair) (o outcome) {
	ctx, span := tracer.Start(ctx, "ComparePair")
	span.SetAttributes(attribute.String("snapdiff.pair.id", pair.ID))
	defer func() {
		if o.err != nil {
			span.RecordError(o.err)
			span.SetStatus(codes.Error, o.err.Error())
		}
		span.End()
	}()

	o.pair = pair
	fuzz := min(r.Config.Fuzz, 1)
	diffPath := discovery.DerivedPath(pair.Candidate, discovery.DiffMarker)

	regenerate, err := cache.NeedsRegeneration(diffPath, r.Config.Overwrite, pair.Reference, pair.Candidate)
	if err != nil {
		o.err = err
		return o
	}

	var result *diffimage.DiffResult
	if regenerate {
		start := time.Now()

		comparer, err := diffimage.LoadComparer(pair.Reference, pair.Candidate, r.Config.Alpha)
		if err != nil {
			o.err = err
			return o
		}
		compared := comparer.Compare(fuzz)
		compared.Regions = comparer.Regions(fuzz)
		if err := comparer.WriteDiff(diffPath, fuzz); err != nil {
			o.err = err
			return o
		}
		compared.DiffImagePath = diffPath
		result = &compared

		o.compared = true
		r.Metrics.ObserveRegenerated(metrics.KindDiff)
		r.Metrics.ObserveComparison(compared.PrecisionBits, time.Since(start))
		span.SetAttributes(
			attribute.Float64("snapdiff.precision_bits", compared.PrecisionBits),
			attribute.Int("snapdiff.absolute_error", compared.AbsoluteError),
		)
		r.Log.V(1).Info("Compared pair", "id", pair.ID, "precisionBits", compared.PrecisionBits, "absoluteError", compared.AbsoluteError)

		if r.Store != nil && runID != "" {
			if err := r.Store.RecordResult(ctx, runID, pair.ID, fuzz, compared); err != nil {
				r.Log.Error(err, "Failed to record result", "id", pair.ID)
			}
		}
	} else if r.Store != nil {
		result, err = r.Store.Latest(ctx, diffPath, fuzz)
		if err != nil {
			r.Log.Error(err, "Failed to look up cached result", "id", pair.ID)
		}
	}

	generator := &thumbnail.Generator{Size: r.Config.ThumbnailSize, Overwrite: r.Config.Overwrite}
	cells := make([]report.Cell, 0, 3)
	for _, path := range []string{pair.Reference, pair.Candidate, diffPath} {
		thumb, regenerated, err := generator.Ensure(path)
		if err != nil {
			o.err = err
			return o
		}
		if regenerated {
			o.thumbnails++
			r.Metrics.ObserveRegenerated(metrics.KindThumbnail)
		}
		cells = append(cells, report.Cell{Href: path, Thumbnail: thumb})
		o.files = append(o.files, path, thumb)
	}

	o.row = report.Row{
		ID:        pair.ID,
		Reference: cells[0],
		Candidate: cells[1],
		Diff:      cells[2],
		Result:    result,
	}
	return o
}
