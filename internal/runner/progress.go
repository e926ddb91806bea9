package runner

import (
	"fmt"
	"sync"
	"time"
)

// Progress tracks one processing pass. It lives in memory only: durable
// counters are the run record's, this is the live view the dashboard polls.
//
// A single goroutine (the run loop) writes; HTTP handlers read snapshots
// concurrently, hence the mutex.
type Progress struct {
	mu        sync.Mutex
	current   int // index of the last attempted item
	total     int // snapshot of the queue length at pass start
	completed int
	failed    int
	log       []string // ring of the most recent maxLog lines, oldest first
	logStart  int
	maxLog    int
}

// Snapshot is an immutable copy of the progress counters and trace log.
type Snapshot struct {
	Current   int
	Total     int
	Completed int
	Failed    int
	Log       []string // most recent first
}

// NewProgress creates a Progress keeping at most maxLog trace lines.
func NewProgress(maxLog int) *Progress {
	if maxLog <= 0 {
		maxLog = 50
	}
	return &Progress{maxLog: maxLog}
}

func (p *Progress) reset(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current, p.total, p.completed, p.failed = 0, total, 0, 0
	p.log = p.log[:0]
	p.logStart = 0
}

func (p *Progress) advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current++
}

func (p *Progress) success() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed++
}

func (p *Progress) failure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed++
}

// Logf appends a timestamped line to the bounded trace log.
func (p *Progress) Logf(format string, args ...any) {
	line := time.Now().UTC().Format("15:04:05") + " " + fmt.Sprintf(format, args...)

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.log) < p.maxLog {
		p.log = append(p.log, line)
		return
	}
	p.log[p.logStart] = line
	p.logStart = (p.logStart + 1) % p.maxLog
}

// Snapshot returns a copy of the current state. Log lines come back most
// recent first, matching how the dashboard renders them.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.log)
	log := make([]string, n)
	for i := 0; i < n; i++ {
		// Walk the ring backwards from the newest entry. When the ring is
		// not yet full logStart is 0 and the newest entry sits at n-1, so
		// the same arithmetic covers both cases.
		log[i] = p.log[(p.logStart+n-1-i)%n]
	}

	return Snapshot{
		Current:   p.current,
		Total:     p.total,
		Completed: p.completed,
		Failed:    p.failed,
		Log:       log,
	}
}
