package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gyeh/claimcheck/internal/claims"
	"github.com/gyeh/claimcheck/internal/rules"
	"github.com/gyeh/claimcheck/internal/source"
	"github.com/gyeh/claimcheck/internal/worker"
)

func sampleResults() []worker.PipelineResult {
	row := claims.ClaimLine{Subject: "123456782", ServiceCode: "G72", Quantity: 1}
	return []worker.PipelineResult{
		{
			Source: "a.txt",
			Kind:   source.KindDeclaration,
			Rows:   3,
			Results: []rules.Result{
				{Rule: "g72-forbidden", Title: "G72", Passed: false, Rows: []claims.ClaimLine{row}},
				{Rule: "v30-max-once", Title: "V30", Passed: true, Rows: []claims.ClaimLine{}},
			},
			Warnings: []string{"birth_date: bad"},
		},
		{
			Source: "b.xlsx",
			Kind:   source.KindExport,
			Err:    errors.New("read export: no sheet"),
		},
	}
}

func TestBuildReport(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	rep := BuildReport(sampleResults(), now)

	want := Summary{
		GeneratedAt: now.UTC(),
		Files:       2,
		Failed:      1,
		Rows:        3,
		RulesFailed: 1,
		Findings:    1,
	}
	if diff := cmp.Diff(want, rep.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	failed := rep.Files[1]
	if failed.Kind != "export" || failed.Error != "read export: no sheet" {
		t.Errorf("failed file = %+v", failed)
	}
	if failed.Rules == nil || failed.Warnings == nil {
		t.Error("empty collections should encode as [] not null")
	}
}

func TestWriteReport_File(t *testing.T) {
	rep := BuildReport(sampleResults(), time.Now())
	path := filepath.Join(t.TempDir(), "report.json")

	if err := WriteReport(context.Background(), path, rep, nil); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		Files []struct {
			Source string `json:"source"`
			Rules  []struct {
				Rule string `json:"rule"`
				Rows []struct {
					Subject string `json:"bsn"`
				} `json:"rows"`
			} `json:"rules"`
			Error string `json:"error"`
		} `json:"files"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(decoded.Files) != 2 {
		t.Fatalf("got %d files, want 2", len(decoded.Files))
	}
	if got := decoded.Files[0].Rules[0].Rows[0].Subject; got != "123456782" {
		t.Errorf("bsn = %q", got)
	}
	if strings.Contains(string(data), "Elapsed") {
		t.Error("elapsed time must not be serialized")
	}
}

func TestWriteReport_Stdout(t *testing.T) {
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	defer func() { stdout = old }()

	if err := WriteReport(context.Background(), "-", BuildReport(nil, time.Now()), nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"files": []`) {
		t.Errorf("unexpected stdout:\n%s", buf.String())
	}
}

type fakeUploader struct {
	bucket, key, contentType string
	body                     []byte
}

func (f *fakeUploader) Upload(_ context.Context, bucket, key string, body []byte, contentType string) error {
	f.bucket, f.key, f.body, f.contentType = bucket, key, body, contentType
	return nil
}

func TestWriteReport_S3(t *testing.T) {
	up := &fakeUploader{}
	rep := BuildReport(sampleResults(), time.Now())

	if err := WriteReport(context.Background(), "s3://reports/2024/q1.json", rep, up); err != nil {
		t.Fatal(err)
	}
	if up.bucket != "reports" || up.key != "2024/q1.json" || up.contentType != "application/json" {
		t.Errorf("upload = %s/%s (%s)", up.bucket, up.key, up.contentType)
	}
	if !json.Valid(up.body) {
		t.Error("uploaded body is not valid JSON")
	}

	if err := WriteReport(context.Background(), "s3://reports/x.json", rep, nil); !errors.Is(err, ErrNoUploader) {
		t.Errorf("err = %v, want ErrNoUploader", err)
	}
	if err := WriteReport(context.Background(), "s3://reports", rep, up); err == nil {
		t.Error("expected error for URI without key")
	}
}
