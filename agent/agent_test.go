package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"companion-agent/db"
	"companion-agent/events"
	"companion-agent/llm"
)

type fakeProvider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []*llm.Request
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Generate(ctx context.Context, req *llm.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return "", p.err
	}
	if len(p.replies) == 0 {
		return "", nil
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return reply, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *fakeProvider) lastRequest() *llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	return p.requests[len(p.requests)-1]
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return &fakeTimerHandle{clock: c, timer: t}
}

// Advance moves the clock forward and runs due timers on the calling goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeTimerHandle struct {
	clock *fakeClock
	timer *fakeTimer
}

func (h *fakeTimerHandle) Stop() bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	active := !h.timer.stopped && !h.timer.fired
	h.timer.stopped = true
	return active
}

type notification struct {
	title string
	body  string
}

type fakeNotifier struct {
	mu    sync.Mutex
	shown []notification
}

func (n *fakeNotifier) Show(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, notification{title: title, body: body})
	return nil
}

type testEnv struct {
	svc      *Service
	store    *db.Store
	provider *fakeProvider
	clock    *fakeClock
	notifier *fakeNotifier
	bus      *events.Bus
	configs  []llm.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := db.Open("json", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:    store,
		provider: &fakeProvider{},
		clock:    newFakeClock(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)),
		notifier: &fakeNotifier{},
		bus:      events.New(),
	}
	var mu sync.Mutex
	env.svc = New(Options{
		Store:    store,
		Bus:      env.bus,
		Notifier: env.notifier,
		Clock:    env.clock,
		NewProvider: func(config llm.Config) (llm.Provider, error) {
			mu.Lock()
			env.configs = append(env.configs, config)
			mu.Unlock()
			return env.provider, nil
		},
	})
	env.svc.builder.Location = time.UTC
	t.Cleanup(env.svc.Close)
	return env
}

// patch writes one settings section through the store.
func (e *testEnv) patch(t *testing.T, key string, value any) {
	t.Helper()
	data, err := json.Marshal(value)
	require.NoError(t, err)
	_, err = e.store.PatchSettings(db.SettingsPatch{key: data})
	require.NoError(t, err)
}

func (e *testEnv) disableGreeting(t *testing.T) {
	t.Helper()
	e.patch(t, "proactive", db.ProactiveSettings{Enabled: true, IntervalMinutes: 10, GreetOnCreate: false})
}

func (e *testEnv) logs(t *testing.T) []*db.LogEntry {
	t.Helper()
	logs, err := e.store.ListLogs(1000)
	require.NoError(t, err)
	return logs
}
