// Package clock schedules session timers. Real timers run callbacks on
// their own goroutines; Manual fires them only when a test advances time.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable scheduled task.
type Timer interface {
	Stop()
}

// Scheduler runs callbacks after a delay or on a fixed period.
type Scheduler interface {
	Now() time.Time
	After(d time.Duration, fn func()) Timer
	Every(d time.Duration, fn func()) Timer
}

// Real returns a Scheduler backed by the time package.
func Real() Scheduler { return realScheduler{} }

type realScheduler struct{}

func (realScheduler) Now() time.Time { return time.Now() }

func (realScheduler) After(d time.Duration, fn func()) Timer {
	return afterTimer{time.AfterFunc(d, fn)}
}

type afterTimer struct{ t *time.Timer }

func (a afterTimer) Stop() { a.t.Stop() }

func (realScheduler) Every(d time.Duration, fn func()) Timer {
	t := &ticker{t: time.NewTicker(d), done: make(chan struct{})}
	go t.run(fn)
	return t
}

type ticker struct {
	t    *time.Ticker
	done chan struct{}
	once sync.Once
}

func (t *ticker) run(fn func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.t.C:
			fn()
		}
	}
}

func (t *ticker) Stop() {
	t.once.Do(func() {
		t.t.Stop()
		close(t.done)
	})
}

// Manual is a Scheduler whose time only moves on Advance. Callbacks run
// synchronously on the goroutine calling Advance.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	m       *Manual
	seq     int
	due     time.Time
	period  time.Duration
	fn      func()
	stopped bool
}

// NewManual returns a Manual scheduler starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) After(d time.Duration, fn func()) Timer {
	return m.add(d, 0, fn)
}

func (m *Manual) Every(d time.Duration, fn func()) Timer {
	return m.add(d, d, fn)
}

func (m *Manual) add(d, period time.Duration, fn func()) *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTask{m: m, seq: m.seq, due: m.now.Add(d), period: period, fn: fn}
	m.tasks = append(m.tasks, t)
	return t
}

func (t *manualTask) Stop() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.stopped = true
}

// Pending reports how many tasks are still scheduled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves time forward by d, firing every task that comes due in
// order. Tasks scheduled by callbacks fire too if they fall inside d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	end := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextLocked(end)
		if next == nil {
			m.now = end
			m.mu.Unlock()
			return
		}
		m.now = next.due
		if next.period > 0 {
			next.due = next.due.Add(next.period)
		} else {
			next.stopped = true
		}
		fn := next.fn
		m.mu.Unlock()
		fn()
	}
}

func (m *Manual) nextLocked(end time.Time) *manualTask {
	live := m.tasks[:0]
	for _, t := range m.tasks {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.tasks = live
	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].due.Equal(m.tasks[j].due) {
			return m.tasks[i].seq < m.tasks[j].seq
		}
		return m.tasks[i].due.Before(m.tasks[j].due)
	})
	if len(m.tasks) == 0 || m.tasks[0].due.After(end) {
		return nil
	}
	return m.tasks[0]
}
