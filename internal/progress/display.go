package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Display periodically renders a tracker to a writer
type Display struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewDisplay creates a progress display writing to stdout
func NewDisplay(tracker *Tracker, interval time.Duration) *Display {
	return NewDisplayTo(os.Stdout, tracker, interval)
}

// NewDisplayTo creates a progress display writing to out
func NewDisplayTo(out io.Writer, tracker *Tracker, interval time.Duration) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		out:      out,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start starts the display loop
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the loop and prints the final summary. Safe to call more than once.
func (d *Display) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		<-d.done
	})
}

func (d *Display) displayLoop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(d.out, strings.Join(d.generateDisplay(d.tracker.GetStatus()), "\n"))
		case <-d.stopCh:
			fmt.Fprintln(d.out, strings.Join(d.generateFinalDisplay(d.tracker.GetStatus()), "\n"))
			return
		}
	}
}

func (d *Display) generateDisplay(status Status) []string {
	itemProgress := d.tracker.GetProgressPercent()
	bytesProgress := d.tracker.GetBytesProgressPercent()

	lines := []string{
		"",
		"Upload progress",
		strings.Repeat("=", 51),
		fmt.Sprintf("Items: %d/%d (%.1f%%)", status.ProcessedItems, status.TotalItems, itemProgress),
		"    " + generateProgressBar(itemProgress, 40),
		fmt.Sprintf("Data:  %s/%s (%.1f%%)", FormatBytes(status.ProcessedBytes), FormatBytes(status.TotalBytes), bytesProgress),
		"    " + generateProgressBar(bytesProgress, 40),
		"",
		fmt.Sprintf("  succeeded: %s", humanize.Comma(status.SucceededItems)),
		fmt.Sprintf("  failed:    %s", humanize.Comma(status.FailedItems)),
		fmt.Sprintf("  cancelled: %s", humanize.Comma(status.CancelledItems)),
		fmt.Sprintf("  retries:   %s", humanize.Comma(status.Retries)),
		"",
		fmt.Sprintf("  current speed: %s", FormatSpeed(status.CurrentSpeed)),
		fmt.Sprintf("  average speed: %s", FormatSpeed(status.AverageSpeed)),
		fmt.Sprintf("  elapsed:       %s", FormatDuration(time.Since(status.StartTime))),
		fmt.Sprintf("  remaining:     %s", FormatDuration(status.ETA)),
	}

	if status.ETA > 0 {
		lines = append(lines, fmt.Sprintf("  finishes:      %s", time.Now().Add(status.ETA).Format("15:04:05")))
	}
	return lines
}

func (d *Display) generateFinalDisplay(status Status) []string {
	return []string{
		"",
		"Upload finished",
		strings.Repeat("=", 51),
		fmt.Sprintf("Processed: %s items", humanize.Comma(status.ProcessedItems)),
		fmt.Sprintf("Data:      %s", FormatBytes(status.ProcessedBytes)),
		fmt.Sprintf("Succeeded: %s", humanize.Comma(status.SucceededItems)),
		fmt.Sprintf("Failed:    %s", humanize.Comma(status.FailedItems)),
		fmt.Sprintf("Cancelled: %s", humanize.Comma(status.CancelledItems)),
		fmt.Sprintf("Elapsed:   %s", FormatDuration(time.Since(status.StartTime))),
		fmt.Sprintf("Speed:     %s", FormatSpeed(status.AverageSpeed)),
		"",
	}
}

func generateProgressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	return fmt.Sprintf("[%s%s] %.1f%%", strings.Repeat("#", filled), strings.Repeat("-", width-filled), percent)
}

// IsTerminalSupported reports whether stdout is a character device
func IsTerminalSupported() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
