package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var stderr io.Writer = os.Stderr

// LogManager implements Manager with timestamped status lines for non-TTY
// runs (CI, cron, containers) and --no-progress.
type LogManager struct {
	mu       sync.Mutex
	out      io.Writer
	interval time.Duration
}

// NewLogManager creates a log-based progress manager writing to stderr.
func NewLogManager() *LogManager {
	return &LogManager{out: stderr, interval: logInterval}
}

func (m *LogManager) NewTracker(index, total int, filename string) Tracker {
	return &logTracker{
		mgr:   m,
		index: index,
		total: total,
		name:  filename,
		start: time.Now(),
	}
}

func (m *LogManager) Wait() {}

func (m *LogManager) SetOverallStats(filesComplete, filesFailed int, findings int64) {
	m.log(fmt.Sprintf("%d files complete, %d failed, %s findings", filesComplete, filesFailed, humanCount(findings)))
}

func (m *LogManager) log(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := time.Now().Format("15:04:05")
	fmt.Fprintf(m.out, "%s %s\n", ts, msg)
}

// logTracker prints stage transitions as they happen and read progress at
// most once per interval.
type logTracker struct {
	mgr     *LogManager
	index   int
	total   int
	name    string
	start   time.Time
	stage   string
	lastLog time.Time
}

const logInterval = 20 * time.Second

func (t *logTracker) log(msg string) {
	t.mgr.log(fmt.Sprintf("[%d/%d] %s  %s", t.index+1, t.total, t.name, msg))
}

func (t *logTracker) elapsed() time.Duration {
	return time.Since(t.start).Truncate(time.Millisecond)
}

func (t *logTracker) SetStage(stage string) {
	t.stage = stage
	t.lastLog = time.Time{} // next progress update prints
	t.log(stage)
}

func (t *logTracker) SetProgress(current, total int64) {
	now := time.Now()
	if now.Sub(t.lastLog) < t.mgr.interval {
		return
	}
	t.lastLog = now

	switch {
	case total > 0:
		t.log(fmt.Sprintf("%s  %s / %s (%d%%)", t.stage, humanBytes(current), humanBytes(total), current*100/total))
	case current > 0:
		t.log(fmt.Sprintf("%s  %s", t.stage, humanBytes(current)))
	}
}

// SetCounter is reported once per stage, so it is never throttled.
func (t *logTracker) SetCounter(name string, value int64) {
	t.log(fmt.Sprintf("%s  %s: %s", t.stage, name, humanCount(value)))
}

func (t *logTracker) LogWarning(msg string) {
	t.log("WARN: " + msg)
}

func (t *logTracker) Done() {
	t.log(fmt.Sprintf("Finished in %s", t.elapsed()))
}

func (t *logTracker) Fail(err error) {
	t.log(fmt.Sprintf("FAILED after %s: %v", t.elapsed(), err))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func humanCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
