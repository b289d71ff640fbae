package watcher

import (
	"sync"
	"time"
)

// ChangeKind is what happened to a watched file
type ChangeKind int

const (
	ChangeWritten ChangeKind = iota
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeWritten:
		return "WRITTEN"
	case ChangeRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// Change is a debounced change to one file
type Change struct {
	Path string
	Kind ChangeKind
	At   time.Time
}

// Debouncer coalesces bursts of changes to the same path. Editors often
// save by removing and recreating a file, so the latest kind wins.
type Debouncer struct {
	delay   time.Duration
	pending map[string]*pendingChange
	mu      sync.Mutex
	output  chan Change
	stopCh  chan struct{}
	once    sync.Once
}

type pendingChange struct {
	change Change
	timer  *time.Timer
}

// NewDebouncer creates a new change debouncer
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]*pendingChange),
		output:  make(chan Change, 16),
		stopCh:  make(chan struct{}),
	}
}

// Changes returns the channel of debounced changes
func (d *Debouncer) Changes() <-chan Change {
	return d.output
}

// Add records a change and restarts the path's quiet period
func (d *Debouncer) Add(path string, kind ChangeKind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.stopCh:
		return
	default:
	}

	change := Change{Path: path, Kind: kind, At: time.Now()}
	if p, ok := d.pending[path]; ok {
		p.timer.Stop()
		p.change = change
		p.timer = time.AfterFunc(d.delay, func() { d.emit(path) })
		return
	}
	d.pending[path] = &pendingChange{
		change: change,
		timer:  time.AfterFunc(d.delay, func() { d.emit(path) }),
	}
}

func (d *Debouncer) emit(path string) {
	d.mu.Lock()
	p, ok := d.pending[path]
	if ok {
		delete(d.pending, path)
	}
	d.mu.Unlock()

	if ok {
		select {
		case d.output <- p.change:
		case <-d.stopCh:
		}
	}
}

// Flush immediately emits all pending changes
func (d *Debouncer) Flush() {
	d.mu.Lock()
	paths := make([]string, 0, len(d.pending))
	for path, p := range d.pending {
		p.timer.Stop()
		paths = append(paths, path)
	}
	d.mu.Unlock()

	for _, path := range paths {
		d.emit(path)
	}
}

// Stop drops pending changes. The output channel is left open.
func (d *Debouncer) Stop() {
	d.once.Do(func() {
		close(d.stopCh)

		d.mu.Lock()
		for _, p := range d.pending {
			p.timer.Stop()
		}
		d.pending = make(map[string]*pendingChange)
		d.mu.Unlock()
	})
}

// PendingCount returns the number of pending changes
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
