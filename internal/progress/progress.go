package progress

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Tracker follows one input file through the pipeline stages.
type Tracker interface {
	SetStage(stage string)
	SetProgress(current, total int64)
	SetCounter(name string, value int64)
	LogWarning(msg string)
	// Done marks a processed file; Fail marks a file whose pipeline
	// returned an error. Exactly one of them is called per tracker.
	Done()
	Fail(err error)
}

// Manager creates trackers and reports run-wide totals.
type Manager interface {
	NewTracker(index, total int, filename string) Tracker
	Wait()
	SetOverallStats(filesComplete, filesFailed int, findings int64)
}

// MPBManager draws one bar per file plus a run summary bar.
type MPBManager struct {
	container *mpb.Progress
	overall   *mpb.Bar // nil when the run size is unknown
	failed    atomic.Int64
	findings  atomic.Int64

	mu       sync.Mutex
	warnings []string
}

// NewMPBManager creates a bar container for a run over files inputs.
func NewMPBManager(files int) *MPBManager {
	m := &MPBManager{container: mpb.New(mpb.WithWidth(60))}
	if files > 0 {
		m.overall = m.container.AddBar(int64(files),
			mpb.PrependDecorators(
				decor.Name("files ", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d/%d"),
			),
			mpb.AppendDecorators(
				decor.Any(func(decor.Statistics) string {
					return fmt.Sprintf("%d failed, %s findings", m.failed.Load(), humanCount(m.findings.Load()))
				}),
			),
		)
	}
	return m
}

// NewTracker adds a bar for one file.
func (m *MPBManager) NewTracker(index, total int, filename string) Tracker {
	t := &mpbTracker{name: filename, mgr: m}
	t.stage.Store("queued")
	t.counter.Store("")
	t.bar = m.container.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("[%d/%d] %s ", index+1, total, filename), decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string {
				if c := t.counter.Load().(string); c != "" {
					return t.stage.Load().(string) + "  " + c
				}
				return t.stage.Load().(string)
			}),
		),
	)
	return t
}

// Wait blocks until every bar has completed, then prints the warnings
// collected while the bars were drawing.
func (m *MPBManager) Wait() {
	// A cancelled run never reports its unstarted files.
	if m.overall != nil && !m.overall.Completed() {
		m.overall.Abort(false)
	}
	m.container.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.warnings {
		fmt.Fprintln(stderr, w)
	}
	m.warnings = nil
}

// SetOverallStats advances the summary bar.
func (m *MPBManager) SetOverallStats(filesComplete, filesFailed int, findings int64) {
	m.failed.Store(int64(filesFailed))
	m.findings.Store(findings)
	if m.overall != nil {
		m.overall.SetCurrent(int64(filesComplete))
	}
}

type mpbTracker struct {
	bar     *mpb.Bar
	name    string
	stage   atomic.Value
	counter atomic.Value
	mgr     *MPBManager
}

func (t *mpbTracker) SetStage(stage string) {
	t.stage.Store(stage)
}

// SetProgress drives the bar while the input is read. Sources of unknown
// size leave it at zero until Done. The bar stays below 100 so only Done
// completes it.
func (t *mpbTracker) SetProgress(current, total int64) {
	if total > 0 {
		t.bar.SetCurrent(min(current*100/total, 99))
	}
}

func (t *mpbTracker) SetCounter(name string, value int64) {
	t.counter.Store(fmt.Sprintf("%s: %s", name, humanCount(value)))
}

// LogWarning defers the warning until Wait so it does not tear the bars.
func (t *mpbTracker) LogWarning(msg string) {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	t.mgr.warnings = append(t.mgr.warnings, fmt.Sprintf("WARN [%s] %s", t.name, msg))
}

func (t *mpbTracker) Done() {
	t.bar.SetCurrent(100)
}

func (t *mpbTracker) Fail(err error) {
	t.stage.Store(fmt.Sprintf("FAILED: %v", err))
	t.counter.Store("")
	t.bar.Abort(false)
}

// NoopManager is a silent progress manager. It records overall stats only.
type NoopManager struct {
	FilesComplete int32
	FilesFailed   int32
	Findings      int64
}

func (m *NoopManager) NewTracker(index, total int, filename string) Tracker {
	return noopTracker{}
}

func (m *NoopManager) Wait() {}

func (m *NoopManager) SetOverallStats(filesComplete, filesFailed int, findings int64) {
	atomic.StoreInt32(&m.FilesComplete, int32(filesComplete))
	atomic.StoreInt32(&m.FilesFailed, int32(filesFailed))
	atomic.StoreInt64(&m.Findings, findings)
}

type noopTracker struct{}

func (noopTracker) SetStage(stage string)               {}
func (noopTracker) SetProgress(current, total int64)    {}
func (noopTracker) SetCounter(name string, value int64) {}
func (noopTracker) LogWarning(msg string)               {}
func (noopTracker) Done()                               {}
func (noopTracker) Fail(err error)                      {}
