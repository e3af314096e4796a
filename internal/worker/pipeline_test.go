package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/text/encoding/charmap"

	"github.com/gyeh/claimcheck/internal/export"
	"github.com/gyeh/claimcheck/internal/insurer"
	"github.com/gyeh/claimcheck/internal/metrics"
	"github.com/gyeh/claimcheck/internal/mz301"
	"github.com/gyeh/claimcheck/internal/progress"
	"github.com/gyeh/claimcheck/internal/rules"
	"github.com/gyeh/claimcheck/internal/source"
)

func writeTestFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func line(t *testing.T, rt mz301.RecordType, values map[string]string) string {
	t.Helper()
	l, err := mz301.Encode(mz301.NewRecord(rt, values))
	if err != nil {
		t.Fatal(err)
	}
	return l
}

type service struct {
	bsn, code, auth, amount, dc string
}

// buildDeclaration returns a Latin-1 declaration with one person and the
// given service lines, with a trailer that matches.
func buildDeclaration(t *testing.T, services []service, extra ...string) []byte {
	t.Helper()
	lines := []string{
		line(t, mz301.TypeHeader, map[string]string{
			mz301.FieldPeriodStart: "20240101", mz301.FieldPeriodEnd: "20240131",
		}),
		line(t, mz301.TypeInsuredPerson, map[string]string{
			mz301.FieldBSN:         "111111110",
			mz301.FieldBirthDate:   "20100501",
			mz301.FieldSurname:     "Müller",
			mz301.FieldInsurerCode: "3311",
		}),
	}
	var total int64
	for _, s := range services {
		amount := s.amount
		if amount == "" {
			amount = "00002500"
		}
		dc := s.dc
		if dc == "" {
			dc = "D"
		}
		cents, _ := mz301.ParseCents(amount)
		total += mz301.Signed(cents, dc)
		lines = append(lines, line(t, mz301.TypeServiceLine, map[string]string{
			mz301.FieldBSN:                 s.bsn,
			mz301.FieldServiceDate:         "20240115",
			mz301.FieldServiceCode:         s.code,
			mz301.FieldAuthorizationNumber: s.auth,
			mz301.FieldQuantity:            "0001",
			mz301.FieldDeclaredAmount:      amount,
			mz301.FieldDeclaredDebitCredit: dc,
		}))
	}
	lines = append(lines, extra...)
	totalDC := "D"
	if total < 0 {
		totalDC, total = "C", -total
	}
	lines = append(lines, line(t, mz301.TypeTrailer, map[string]string{
		mz301.FieldInsuredCount:     "000001",
		mz301.FieldServiceCount:     fmt.Sprintf("%06d", len(services)),
		mz301.FieldCommentCount:     "000000",
		mz301.FieldDetailCount:      fmt.Sprintf("%07d", 2+len(services)),
		mz301.FieldTotalAmount:      fmt.Sprintf("%011d", total),
		mz301.FieldTotalDebitCredit: totalDC,
	}))

	latin1, err := charmap.ISO8859_1.NewEncoder().String(strings.Join(lines, "\r\n") + "\r\n")
	if err != nil {
		t.Fatal(err)
	}
	return []byte(latin1)
}

func testOptions(t *testing.T, logger *zap.Logger) Options {
	t.Helper()
	c, err := rules.Default()
	if err != nil {
		t.Fatal(err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Options{
		Rules:       c.Enabled(),
		Insurers:    insurer.Table{"3311": "VGZ"},
		RuleWorkers: 4,
		Opener:      &source.Opener{},
		Logger:      logger,
		Metrics:     metrics.New(),
	}
}

func failing(res *PipelineResult) map[string]int {
	out := map[string]int{}
	for _, r := range res.Results {
		if !r.Passed {
			out[r.Rule] = len(r.Rows)
		}
	}
	return out
}

func TestRunPipeline_Declaration(t *testing.T) {
	data := buildDeclaration(t, []service{
		{bsn: "111111110", code: "C001"},
		{bsn: "111111110", code: "T042"},
		{bsn: "111111110", code: "X21", auth: "AB1"},
		{bsn: "111111110", code: "V30", amount: "00001000", dc: "C"},
	})
	path := writeTestFile(t, "mz301.txt", data)

	core, logs := observer.New(zapcore.InfoLevel)
	opts := testOptions(t, zap.New(core))
	res := RunPipeline(context.Background(), path, opts, (&progress.NoopManager{}).NewTracker(0, 1, "mz301.txt"))
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.Kind != source.KindDeclaration || res.Source != path {
		t.Errorf("unexpected source fields %s %s", res.Kind, res.Source)
	}
	if res.Integrity == nil || !res.Integrity.OK() || !res.Integrity.Totals.Match {
		t.Fatalf("expected clean integrity report, got %+v", res.Integrity)
	}
	if res.Rows != 4 {
		t.Errorf("expected 4 rows, got %d", res.Rows)
	}

	want := map[string]int{"ct-same-day": 2, "x21-under-18-authorization": 1, "negative-amount": 1}
	got := failing(res)
	for name, n := range want {
		if got[name] != n {
			t.Errorf("%s: expected %d rows, got %d (all failing: %v)", name, n, got[name], got)
		}
	}
	if len(res.Results) != len(opts.Rules) {
		t.Errorf("expected one result per rule, got %d", len(res.Results))
	}
	if res.Findings() != 4 {
		t.Errorf("expected 4 findings, got %d", res.Findings())
	}

	// Latin-1 surname decoded and carried through the join.
	for _, r := range res.Results {
		for _, row := range r.Rows {
			if row.Surname == nil || *row.Surname != "Müller" {
				t.Errorf("surname not decoded: %v", row.Surname)
			}
			if row.InsurerName == nil || *row.InsurerName != "VGZ" {
				t.Errorf("insurer not resolved: %v", row.InsurerName)
			}
		}
	}

	if logs.FilterMessage("file processed").Len() != 1 {
		t.Errorf("expected one completion log, got %v", logs.All())
	}
	if got := testutil.ToFloat64(opts.Metrics.LinesDecoded.WithLabelValues("04")); got != 4 {
		t.Errorf("expected 4 service lines counted, got %v", got)
	}
	if got := testutil.ToFloat64(opts.Metrics.Findings.WithLabelValues("ct-same-day")); got != 2 {
		t.Errorf("expected 2 ct findings, got %v", got)
	}
}

func TestRunPipeline_DroppedAndUnknownAreWarnings(t *testing.T) {
	debtor := "03" + strings.Repeat(" ", mz301.RecordLength-2)
	data := buildDeclaration(t, []service{{bsn: "111111110", code: "C001"}}, debtor, "04tooshort")
	path := writeTestFile(t, "mz301.txt", data)

	core, logs := observer.New(zapcore.WarnLevel)
	opts := testOptions(t, zap.New(core))
	res := RunPipeline(context.Background(), path, opts, (&progress.NoopManager{}).NewTracker(0, 1, "x"))
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	joined := strings.Join(res.Warnings, "\n")
	if !strings.Contains(joined, `"03"`) || !strings.Contains(joined, "malformed") {
		t.Errorf("expected unknown and malformed warnings, got %v", res.Warnings)
	}
	if logs.FilterMessage("line dropped").Len() != 1 || logs.FilterMessage("unrecognized record type").Len() != 1 {
		t.Errorf("expected dropped and unknown logs, got %v", logs.All())
	}
	if got := testutil.ToFloat64(opts.Metrics.LinesDropped.WithLabelValues("unknown_tag")); got != 1 {
		t.Errorf("expected 1 unknown line, got %v", got)
	}
}

func TestRunPipeline_StructureErrorAbortsBeforeRules(t *testing.T) {
	data := []byte(line(t, mz301.TypeHeader, nil) + "\n" + line(t, mz301.TypeServiceLine, map[string]string{
		mz301.FieldServiceCode: "G72", mz301.FieldQuantity: "1",
	}) + "\n")
	path := writeTestFile(t, "notrailer.txt", data)

	res := RunPipeline(context.Background(), path, testOptions(t, nil), (&progress.NoopManager{}).NewTracker(0, 1, "x"))
	if !errors.Is(res.Err, mz301.ErrBatchStructure) {
		t.Fatalf("expected ErrBatchStructure, got %v", res.Err)
	}
	if !strings.Contains(res.Err.Error(), "trailer") {
		t.Errorf("error should name the failing invariant: %v", res.Err)
	}
	if res.Results != nil || res.Integrity != nil {
		t.Error("no rule results or report expected after a structure error")
	}
}

func TestRunPipeline_Export(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	header := make([]any, len(export.Columns))
	for i, c := range export.Columns {
		header[i] = c
	}
	f.SetSheetRow(sheet, "A1", &header)
	f.SetSheetRow(sheet, "A2", &[]any{"Jansen", "P-1", "2010-05-01", "2024-01-15", "G72", "", 10, 0, 10})
	f.SetSheetRow(sheet, "A3", &[]any{"Jansen", "P-1", "2010-05-01", "2024-01-15", "C003", "", 10, -5, 5})
	path := filepath.Join(t.TempDir(), "export.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	res := RunPipeline(context.Background(), path, testOptions(t, nil), (&progress.NoopManager{}).NewTracker(0, 1, "x"))
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.Kind != source.KindExport || res.Integrity != nil || res.Rows != 2 {
		t.Errorf("unexpected export result: kind=%s integrity=%v rows=%d", res.Kind, res.Integrity, res.Rows)
	}
	got := failing(res)
	if got["g72-forbidden"] != 1 || got["negative-amount"] != 1 {
		t.Errorf("unexpected failing rules %v", got)
	}
}

func TestRunPipeline_OpenError(t *testing.T) {
	res := RunPipeline(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), testOptions(t, nil),
		(&progress.NoopManager{}).NewTracker(0, 1, "x"))
	if !errors.Is(res.Err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", res.Err)
	}
}

func TestPool_RunKeepsOrder(t *testing.T) {
	good := writeTestFile(t, "a.txt", buildDeclaration(t, []service{{bsn: "111111110", code: "G72"}}))
	missing := filepath.Join(t.TempDir(), "b.txt")
	clean := writeTestFile(t, "c.txt", buildDeclaration(t, []service{{bsn: "111111110", code: "C001"}}))

	mgr := &progress.NoopManager{}
	pool := &Pool{Workers: 2, Options: testOptions(t, nil), Progress: mgr}
	results := pool.Run(context.Background(), []string{good, missing, clean})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Source != good || results[0].Findings() != 1 {
		t.Errorf("first result: %s findings=%d err=%v", results[0].Source, results[0].Findings(), results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("missing file should fail")
	}
	if results[2].Err != nil || results[2].Findings() != 0 {
		t.Errorf("third result: findings=%d err=%v", results[2].Findings(), results[2].Err)
	}
	if mgr.FilesComplete != 3 || mgr.FilesFailed != 1 || mgr.Findings != 1 {
		t.Errorf("unexpected overall stats %+v", mgr)
	}
}

func TestPool_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := writeTestFile(t, "a.txt", buildDeclaration(t, nil))
	pool := &Pool{Workers: 1, Options: testOptions(t, nil), Progress: &progress.NoopManager{}}
	for _, r := range pool.Run(ctx, []string{path, path}) {
		if r.Err == nil {
			t.Error("expected error from cancelled context")
		}
	}
}
