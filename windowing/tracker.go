package windowing

import (
	"sync"
	"time"
)

// DefaultDuration is the length of one aggregation window
const DefaultDuration = 300 * time.Second

// MinDuration is the shortest window whose archive keys, which carry minute
// precision, stay distinct
const MinDuration = 60 * time.Second

const keyResolution = int64(time.Minute / time.Second)

// State is a point-in-time copy of the current window
type State struct {
	StartEpoch      int64    `json:"start_epoch"`
	DurationSeconds int64    `json:"duration_seconds"`
	Files           []string `json:"files"`
}

// Tracker holds the current window and the files staged inside it.
//
// The first window starts on the floor-aligned boundary of its creation time.
// Every later window starts at the wall-clock time of the previous flush, so
// boundaries drift forward instead of following a global grid. A new window
// never starts in the same minute as the one it replaces. The tracker is
// mutated only by the staging writer; the mutex exists for status readers.
type Tracker struct {
	mu       sync.RWMutex
	duration int64
	start    int64
	files    []string
	seen     map[string]struct{}
}

// NewTracker creates a tracker whose first window contains now
func NewTracker(duration time.Duration, now time.Time) *Tracker {
	seconds := int64(duration / time.Second)
	if seconds <= 0 {
		seconds = int64(DefaultDuration / time.Second)
	}

	epoch := now.Unix()
	return &Tracker{
		duration: seconds,
		start:    epoch - epoch%seconds,
		seen:     make(map[string]struct{}),
	}
}

// Add records a successfully written file. A path already in the window is
// not added twice; the return value reports whether it was new.
func (t *Tracker) Add(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[path]; ok {
		return false
	}
	t.seen[path] = struct{}{}
	t.files = append(t.files, path)
	return true
}

// HasElapsed reports whether now is at or past the end of the current window
func (t *Tracker) HasElapsed(now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return now.Unix() >= t.start+t.duration
}

// Start returns the beginning of the current window
func (t *Tracker) Start() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return time.Unix(t.start, 0).UTC()
}

// Files returns a copy of the files staged in the current window
func (t *Tracker) Files() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.files...)
}

// Advance clears the file list and opens a new window starting at now, or
// at the next minute after the closed window's start if that is later
func (t *Tracker) Advance(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.files = nil
	t.seen = make(map[string]struct{})
	t.start = max(now.Unix(), t.nextMinute())
}

// Postpone moves the start of the current window to the next minute and keeps
// its files. Used when the window's archive key is already taken.
func (t *Tracker) Postpone() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.start = t.nextMinute()
	return time.Unix(t.start, 0).UTC()
}

func (t *Tracker) nextMinute() int64 {
	return t.start - t.start%keyResolution + keyResolution
}

// State returns a copy of the current window
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return State{
		StartEpoch:      t.start,
		DurationSeconds: t.duration,
		Files:           append([]string(nil), t.files...),
	}
}
