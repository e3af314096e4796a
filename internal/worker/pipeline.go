package worker

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/gyeh/claimcheck/internal/claims"
	"github.com/gyeh/claimcheck/internal/export"
	"github.com/gyeh/claimcheck/internal/metrics"
	"github.com/gyeh/claimcheck/internal/mz301"
	"github.com/gyeh/claimcheck/internal/progress"
	"github.com/gyeh/claimcheck/internal/rules"
	"github.com/gyeh/claimcheck/internal/source"
)

// Options configures the per-file pipeline. Rules, Opener and Logger are
// required; the rest may be zero.
type Options struct {
	Rules       []rules.Rule
	Insurers    claims.InsurerLookup
	RuleWorkers int
	Opener      *source.Opener
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// PipelineResult holds the outcome of processing one input.
type PipelineResult struct {
	Source    string
	Kind      source.Kind
	Integrity *mz301.IntegrityReport // nil for exports and failed files
	Rows      int
	Results   []rules.Result
	Warnings  []string
	Err       error
}

// Findings totals the rows flagged across all rules.
func (r *PipelineResult) Findings() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Rows)
	}
	return n
}

// RunPipeline processes a single input: open → decode → check → join →
// evaluate. Errors are returned in the result, never panicked.
func RunPipeline(ctx context.Context, location string, opts Options, tracker progress.Tracker) *PipelineResult {
	start := time.Now()
	kind := source.KindOf(location)
	log := opts.Logger.With(zap.String("source", location), zap.Stringer("kind", kind))

	result := &PipelineResult{Source: location, Kind: kind}
	defer func() {
		if opts.Metrics != nil {
			opts.Metrics.ObserveFile(start, result.Err)
		}
		if result.Err != nil {
			log.Error("file failed", zap.Error(result.Err))
			return
		}
		log.Info("file processed",
			zap.Int("rows", result.Rows),
			zap.Int("findings", result.Findings()),
			zap.Duration("elapsed", time.Since(start)))
	}()

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	tracker.SetStage("Reading")
	rc, err := opts.Opener.Open(ctx, location, tracker.SetProgress)
	if err != nil {
		result.Err = fmt.Errorf("open: %w", err)
		return result
	}
	defer rc.Close()

	var processed *PipelineResult
	switch kind {
	case source.KindExport:
		processed = ProcessExport(ctx, rc, opts, log, tracker)
	default:
		processed = ProcessDeclaration(ctx, rc, opts, log, tracker)
	}
	processed.Source, processed.Kind = location, kind
	*result = *processed
	return result
}

// ProcessDeclaration runs the pipeline over an ISO-8859-1 declaration
// stream. A batch structure error fails the file before any rule runs.
func ProcessDeclaration(ctx context.Context, r io.Reader, opts Options, log *zap.Logger, tracker progress.Tracker) *PipelineResult {
	result := &PipelineResult{Kind: source.KindDeclaration}

	tracker.SetStage("Decoding")
	batch, err := mz301.ReadBatch(source.Latin1(r))
	if err != nil {
		result.Err = fmt.Errorf("read declaration: %w", err)
		return result
	}
	tracker.SetCounter("lines", int64(batch.Lines))
	recordBatch(opts.Metrics, batch)

	for _, le := range batch.Dropped {
		log.Warn("line dropped", zap.Int("line", le.Line), zap.String("tag", le.Tag), zap.Int("length", le.Length))
	}
	for _, tag := range batch.UnknownTags() {
		log.Warn("unrecognized record type", zap.String("tag", tag), zap.Int("lines", batch.Unknown[tag]))
	}

	tracker.SetStage("Checking integrity")
	report, err := mz301.CheckBatch(batch)
	if err != nil {
		result.Err = err
		return result
	}
	result.Integrity = report
	result.Warnings = append(result.Warnings, report.Warnings...)
	for _, d := range report.Discrepancies {
		log.Warn("integrity discrepancy", zap.String("detail", d))
	}
	for _, cc := range report.Counts {
		if !cc.Match && opts.Metrics != nil {
			opts.Metrics.IncIntegrityMismatch(string(cc.Category))
		}
	}
	for _, w := range report.Warnings {
		tracker.LogWarning(w)
	}

	tracker.SetStage("Joining")
	rows, coercion := claims.BuildClaimLines(batch.InsuredPersons, batch.ServiceLines, opts.Insurers)
	result.Warnings = append(result.Warnings, coercionWarnings(coercion, opts.Metrics, log)...)

	return evaluate(ctx, result, rows, opts, log, tracker)
}

// ProcessExport runs the pipeline over an .xlsx practice export. Exports
// carry no trailer, so no integrity report is produced.
func ProcessExport(ctx context.Context, r io.Reader, opts Options, log *zap.Logger, tracker progress.Tracker) *PipelineResult {
	result := &PipelineResult{Kind: source.KindExport}

	tracker.SetStage("Reading export")
	rows, coercion, err := export.ReadClaimLines(r)
	if err != nil {
		result.Err = fmt.Errorf("read export: %w", err)
		return result
	}
	tracker.SetCounter("rows", int64(len(rows)))
	result.Warnings = append(result.Warnings, coercionWarnings(coercion, opts.Metrics, log)...)

	return evaluate(ctx, result, rows, opts, log, tracker)
}

func evaluate(ctx context.Context, result *PipelineResult, rows []claims.ClaimLine, opts Options, log *zap.Logger, tracker progress.Tracker) *PipelineResult {
	result.Rows = len(rows)

	tracker.SetStage(fmt.Sprintf("Evaluating %d rules", len(opts.Rules)))
	results, err := rules.EvaluateParallel(ctx, opts.Rules, rows, opts.RuleWorkers)
	if err != nil {
		result.Err = fmt.Errorf("evaluate rules: %w", err)
		return result
	}
	result.Results = results

	for _, res := range results {
		if opts.Metrics != nil {
			opts.Metrics.ObserveRule(res.Rule, len(res.Rows), res.Elapsed)
		}
		if !res.Passed {
			log.Debug("rule failed", zap.String("rule", res.Rule), zap.Int("rows", len(res.Rows)))
		}
	}

	if n := result.Findings(); n > 0 {
		tracker.SetStage(fmt.Sprintf("Done (%d findings)", n))
	} else {
		tracker.SetStage("Done (no findings)")
	}
	return result
}

func coercionWarnings(errs []*claims.CoercionError, m *metrics.Metrics, log *zap.Logger) []string {
	out := make([]string, 0, len(errs))
	for _, ce := range errs {
		if m != nil {
			m.IncCoercionError(ce.Field)
		}
		log.Warn("coercion failed",
			zap.Int("line", ce.Line),
			zap.String("field", ce.Field),
			zap.String("value", ce.Value),
			zap.Bool("row_skipped", ce.Fatal))
		out = append(out, ce.Error())
	}
	return out
}

func recordBatch(m *metrics.Metrics, b *mz301.Batch) {
	if m == nil {
		return
	}
	for _, t := range mz301.RecordTypes {
		m.AddLines(string(t), b.Count(t))
	}
	m.AddDropped("malformed", len(b.Dropped))
	unknown := 0
	for _, n := range b.Unknown {
		unknown += n
	}
	m.AddDropped("unknown_tag", unknown)
}
