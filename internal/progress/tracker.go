package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Status is a snapshot of batch progress
type Status struct {
	TotalItems     int64
	ProcessedItems int64
	SucceededItems int64
	FailedItems    int64
	CancelledItems int64
	Retries        int64
	TotalBytes     int64
	ProcessedBytes int64
	StartTime      time.Time
	LastUpdateTime time.Time
	CurrentSpeed   float64 // bytes per second over the last speedWindow
	AverageSpeed   float64 // bytes per second since start
	ETA            time.Duration
}

const (
	maxSpeedSamples = 60
	speedWindow     = 5 * time.Second
)

// Tracker tracks batch progress
type Tracker struct {
	mu           sync.RWMutex
	status       Status
	speedSamples []speedSample
	now          func() time.Time
}

type speedSample struct {
	timestamp time.Time
	bytes     int64
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	return newTrackerWithClock(time.Now)
}

func newTrackerWithClock(now func() time.Time) *Tracker {
	start := now()
	return &Tracker{
		status: Status{
			StartTime:      start,
			LastUpdateTime: start,
		},
		speedSamples: make([]speedSample, 0, maxSpeedSamples),
		now:          now,
	}
}

// SetTotal sets the total number of items and bytes
func (t *Tracker) SetTotal(items, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.TotalItems = items
	t.status.TotalBytes = bytes
}

// AddSuccess records a stored item
func (t *Tracker) AddSuccess(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if bytes < 0 {
		bytes = 0
	}
	t.status.SucceededItems++
	t.status.ProcessedItems++
	t.status.ProcessedBytes += bytes
	t.updateSpeed(bytes)
}

// AddFailed records an item that exhausted its attempts
func (t *Tracker) AddFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.FailedItems++
	t.status.ProcessedItems++
	t.status.LastUpdateTime = t.now()
}

// AddCancelled records an item that was cancelled or never started
func (t *Tracker) AddCancelled() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.CancelledItems++
	t.status.ProcessedItems++
	t.status.LastUpdateTime = t.now()
}

// AddRetry records a scheduled retry
func (t *Tracker) AddRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Retries++
}

// updateSpeed must be called with the lock held
func (t *Tracker) updateSpeed(bytes int64) {
	now := t.now()

	t.speedSamples = append(t.speedSamples, speedSample{timestamp: now, bytes: bytes})
	if len(t.speedSamples) > maxSpeedSamples {
		t.speedSamples = t.speedSamples[1:]
	}

	t.calculateCurrentSpeed(now)
	t.calculateAverageSpeed(now)
	t.calculateETA()

	t.status.LastUpdateTime = now
}

func (t *Tracker) calculateCurrentSpeed(now time.Time) {
	if len(t.speedSamples) < 2 {
		t.status.CurrentSpeed = 0
		return
	}

	cutoff := now.Add(-speedWindow)
	var recentBytes int64
	var first *speedSample

	for i := len(t.speedSamples) - 1; i >= 0; i-- {
		sample := &t.speedSamples[i]
		if sample.timestamp.Before(cutoff) {
			break
		}
		recentBytes += sample.bytes
		first = sample
	}

	if first != nil {
		if elapsed := now.Sub(first.timestamp); elapsed > 0 {
			t.status.CurrentSpeed = float64(recentBytes) / elapsed.Seconds()
		}
	}
}

func (t *Tracker) calculateAverageSpeed(now time.Time) {
	if elapsed := now.Sub(t.status.StartTime); elapsed > 0 {
		t.status.AverageSpeed = float64(t.status.ProcessedBytes) / elapsed.Seconds()
	}
}

func (t *Tracker) calculateETA() {
	if t.status.TotalBytes == 0 || t.status.AverageSpeed == 0 {
		t.status.ETA = 0
		return
	}

	remaining := t.status.TotalBytes - t.status.ProcessedBytes
	if remaining <= 0 {
		t.status.ETA = 0
		return
	}

	t.status.ETA = time.Duration(float64(remaining)/t.status.AverageSpeed) * time.Second
}

// GetStatus returns the current status
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// GetProgressPercent returns the share of processed items
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.TotalItems == 0 {
		return 0
	}
	return float64(t.status.ProcessedItems) / float64(t.status.TotalItems) * 100
}

// GetBytesProgressPercent returns the share of processed bytes
func (t *Tracker) GetBytesProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.TotalBytes == 0 {
		return 0
	}
	return float64(t.status.ProcessedBytes) / float64(t.status.TotalBytes) * 100
}

// FormatSpeed formats a byte rate
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

// FormatBytes formats a byte count
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatDuration formats a duration as 1h2m3s, or "calculating..." when unknown
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "calculating..."
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
