package channel

import (
	"io"
	"sync"
)

// Progress clamps reports to 0..100 and drops values lower than the last one
// forwarded, so a sink always observes a non-decreasing sequence.
type Progress struct {
	mu   sync.Mutex
	sink ProgressFunc
	last int
	sent bool
}

// NewProgress wraps sink. A nil sink discards reports.
func NewProgress(sink ProgressFunc) *Progress {
	return &Progress{sink: sink, last: -1}
}

// Report forwards percent when it does not go backwards.
func (p *Progress) Report(percent int) {
	if p == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent < p.last || (p.sent && percent == p.last) {
		return
	}
	p.last = percent
	p.sent = true
	if p.sink != nil {
		p.sink(percent)
	}
}

// ReportFraction reports done/total scaled into [lo, hi].
func (p *Progress) ReportFraction(done, total int64, lo, hi int) {
	if total <= 0 {
		p.Report(hi)
		return
	}
	if done > total {
		done = total
	}
	p.Report(lo + int(int64(hi-lo)*done/total))
}

// Done emits the final 100 signal.
func (p *Progress) Done() {
	p.Report(100)
}

// Last returns the last forwarded value, or -1 if nothing was reported.
func (p *Progress) Last() int {
	if p == nil {
		return -1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Reader reports bytes read from r as progress within [lo, hi].
type Reader struct {
	r        io.Reader
	total    int64
	read     int64
	lo, hi   int
	progress *Progress
}

// NewReader returns a Reader counting bytes of a body of size total.
func NewReader(r io.Reader, total int64, progress *Progress, lo, hi int) *Reader {
	return &Reader{r: r, total: total, progress: progress, lo: lo, hi: hi}
}

func (r *Reader) Read(b []byte) (int, error) {
	n, err := r.r.Read(b)
	if n > 0 {
		r.read += int64(n)
		r.progress.ReportFraction(r.read, r.total, r.lo, r.hi)
	}
	return n, err
}
