package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gyeh/claimcheck/internal/cloud"
	"github.com/gyeh/claimcheck/internal/mz301"
	"github.com/gyeh/claimcheck/internal/rules"
	"github.com/gyeh/claimcheck/internal/worker"
)

var stdout io.Writer = os.Stdout

// Report is the JSON document written by `claimcheck check`.
type Report struct {
	Summary Summary      `json:"summary"`
	Files   []FileReport `json:"files"`
}

// Summary aggregates a run over all files.
type Summary struct {
	GeneratedAt time.Time `json:"generated_at"`
	Files       int       `json:"files"`
	Failed      int       `json:"failed"`
	Rows        int       `json:"rows"`
	RulesFailed int       `json:"rules_failed"`
	Findings    int       `json:"findings"`
}

// FileReport is the outcome of one input.
type FileReport struct {
	Source    string                 `json:"source"`
	Kind      string                 `json:"kind"`
	Rows      int                    `json:"rows"`
	Integrity *mz301.IntegrityReport `json:"integrity,omitempty"`
	Rules     []rules.Result         `json:"rules"`
	Warnings  []string               `json:"warnings"`
	Error     string                 `json:"error,omitempty"`
}

// Uploader stores a finished report object. *cloud.S3Client implements it.
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

// ErrNoUploader is returned for an s3:// destination without an Uploader.
var ErrNoUploader = errors.New("no S3 uploader configured")

// BuildReport converts pipeline results, in input order, into a report.
func BuildReport(results []worker.PipelineResult, now time.Time) Report {
	rep := Report{
		Summary: Summary{GeneratedAt: now.UTC(), Files: len(results)},
		Files:   make([]FileReport, 0, len(results)),
	}
	for i := range results {
		res := &results[i]
		fr := FileReport{
			Source:    res.Source,
			Kind:      res.Kind.String(),
			Rows:      res.Rows,
			Integrity: res.Integrity,
			Rules:     res.Results,
			Warnings:  res.Warnings,
		}
		if fr.Rules == nil {
			fr.Rules = []rules.Result{}
		}
		if fr.Warnings == nil {
			fr.Warnings = []string{}
		}
		if res.Err != nil {
			fr.Error = res.Err.Error()
			rep.Summary.Failed++
		}
		for _, r := range res.Results {
			if !r.Passed {
				rep.Summary.RulesFailed++
			}
		}
		rep.Summary.Rows += res.Rows
		rep.Summary.Findings += res.Findings()
		rep.Files = append(rep.Files, fr)
	}
	return rep
}

// WriteReport writes the report as indented JSON to outputPath: a local
// file, "-" for stdout, or an s3://bucket/key location via up.
func WriteReport(ctx context.Context, outputPath string, rep Report, up Uploader) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	data = append(data, '\n')

	switch {
	case outputPath == "-":
		_, err = stdout.Write(data)
		return err
	case cloud.IsURI(outputPath):
		if up == nil {
			return ErrNoUploader
		}
		bucket, key, err := cloud.ParseURI(outputPath)
		if err != nil {
			return err
		}
		return up.Upload(ctx, bucket, key, data, "application/json")
	default:
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		return nil
	}
}
