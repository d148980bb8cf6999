package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var errTransient = errors.New("connection reset by peer")

// fakeSink records calls and can inject delays, failures and hooks.
type fakeSink struct {
	mu       sync.Mutex
	stored   map[string][]byte
	calls    map[string]int
	events   []string
	failures map[string]int // remaining failures per name, -1 = always
	inflight int
	peak     int

	delay   time.Duration
	onStore func(name string)
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		stored:   make(map[string][]byte),
		calls:    make(map[string]int),
		failures: make(map[string]int),
	}
}

func (s *fakeSink) failTimes(name string, n int) *fakeSink {
	s.failures[name] = n
	return s
}

func (s *fakeSink) Store(ctx context.Context, item Item) error {
	s.mu.Lock()
	s.calls[item.Name]++
	s.events = append(s.events, "start:"+item.Name)
	s.inflight++
	if s.inflight > s.peak {
		s.peak = s.inflight
	}
	fail := false
	if n, ok := s.failures[item.Name]; ok && n != 0 {
		fail = true
		if n > 0 {
			s.failures[item.Name] = n - 1
		}
	}
	hook := s.onStore
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight--
		s.events = append(s.events, "end:"+item.Name)
		s.mu.Unlock()
	}()

	if hook != nil {
		hook(item.Name)
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if fail {
		return fmt.Errorf("store %s: %w", item.Name, errTransient)
	}

	r, err := item.Open()
	if err != nil {
		return err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stored[item.Name] = data
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) callCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *fakeSink) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func (s *fakeSink) peakInflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

func (s *fakeSink) eventLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// recordingObserver counts engine events.
type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	retries  []RetryEvent
	outcomes map[string]Outcome
	count    int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{outcomes: make(map[string]Outcome)}
}

func (o *recordingObserver) OnItemStart(_ string, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, name)
}

func (o *recordingObserver) OnRetry(_ string, event RetryEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, event)
}

func (o *recordingObserver) OnOutcome(_ string, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome.Name] = outcome
	o.count++
}

func makeItems(names ...string) []Item {
	items := make([]Item, len(names))
	for i, name := range names {
		items[i] = BytesItem(name, []byte("content of "+name))
	}
	return items
}

func numberedItems(n int) []Item {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("item-%02d", i)
	}
	return makeItems(names...)
}

func fastOptions() Options {
	return Options{
		MaxRetryAttempts:  3,
		InitialRetryDelay: time.Millisecond,
		BackoffMultiplier: 2,
		MaxConcurrency:    2,
	}
}
