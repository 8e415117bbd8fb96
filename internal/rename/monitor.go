package rename

import (
	"fmt"
	"io"
	"sync"
)

// ProgressMonitor receives progress of long running tasks.
type ProgressMonitor interface {
	// BeginTask starts a new task. totalWork is zero when unknown.
	BeginTask(title string, totalWork int)
	// Update reports completed units of work of the current task.
	Update(completed int)
	// Close ends the current task.
	Close()
}

// NoopMonitor discards progress.
type NoopMonitor struct{}

// BeginTask does nothing.
func (NoopMonitor) BeginTask(string, int) {}

// Update does nothing.
func (NoopMonitor) Update(int) {}

// Close does nothing.
func (NoopMonitor) Close() {}

// WriterMonitor prints progress as text lines. It is safe for concurrent use.
type WriterMonitor struct {
	mu    sync.Mutex
	w     io.Writer
	title string
	total int
	done  int
}

// NewWriterMonitor returns a monitor writing to w.
func NewWriterMonitor(w io.Writer) *WriterMonitor {
	return &WriterMonitor{w: w}
}

// BeginTask prints the title of the new task.
func (m *WriterMonitor) BeginTask(title string, totalWork int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.title, m.total, m.done = title, totalWork, 0
	fmt.Fprintf(m.w, "%s\n", title)
}

// Update prints the progress of the current task.
func (m *WriterMonitor) Update(completed int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.done += completed
	if m.total > 0 {
		fmt.Fprintf(m.w, "%s: %d/%d\n", m.title, m.done, m.total)
		return
	}
	fmt.Fprintf(m.w, "%s: %d\n", m.title, m.done)
}

// Close prints the completion of the current task.
func (m *WriterMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.title != "" {
		fmt.Fprintf(m.w, "%s: done\n", m.title)
	}
	m.title, m.total, m.done = "", 0, 0
}

func orNoop(pm ProgressMonitor) ProgressMonitor {
	if pm == nil {
		return NoopMonitor{}
	}
	return pm
}
