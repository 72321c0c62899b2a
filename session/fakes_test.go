package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/isdmx/sandboxd/sandbox"
)

const busyLoop = "while True: pass"

// fakeEnv interprets a tiny language: `name = value`, `print(name)`,
// `sleep <duration>`, and busyLoop, which blocks until its context ends.
type fakeEnv struct {
	mu        sync.Mutex
	vars      map[string]string
	installs  []string
	missing   map[string]bool
	importErr error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	closes      atomic.Int32
	broken      atomic.Bool
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{vars: make(map[string]string), missing: make(map[string]bool)}
}

func (e *fakeEnv) Run(ctx context.Context, code string) (sandbox.RunOutput, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		m := e.maxInFlight.Load()
		if n <= m || e.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if e.broken.Load() || e.closes.Load() > 0 {
		return sandbox.RunOutput{}, sandbox.ErrEnvironmentBroken
	}

	switch {
	case code == busyLoop:
		<-ctx.Done()
		e.broken.Store(true)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return sandbox.RunOutput{}, fmt.Errorf("%w: %w", sandbox.ErrExecutionTimeout, ctx.Err())
		}
		return sandbox.RunOutput{}, ctx.Err()

	case strings.HasPrefix(code, "sleep "):
		d, err := time.ParseDuration(strings.TrimPrefix(code, "sleep "))
		if err != nil {
			return sandbox.RunOutput{ExitCode: 1, Stderr: err.Error()}, nil
		}
		select {
		case <-time.After(d):
			return sandbox.RunOutput{}, nil
		case <-ctx.Done():
			e.broken.Store(true)
			return sandbox.RunOutput{}, fmt.Errorf("%w: %w", sandbox.ErrExecutionTimeout, ctx.Err())
		}

	case strings.HasPrefix(code, "import "):
		if e.importErr != nil {
			return sandbox.RunOutput{}, e.importErr
		}
		mod := strings.TrimPrefix(code, "import ")
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.missing[mod] {
			return sandbox.RunOutput{ExitCode: 1, Stderr: "ModuleNotFoundError: " + mod}, nil
		}
		return sandbox.RunOutput{}, nil

	case strings.Contains(code, "__sandboxd_install"):
		e.mu.Lock()
		defer e.mu.Unlock()
		for lib := range e.missing {
			if strings.Contains(code, fmt.Sprintf("%q", lib)) {
				e.installs = append(e.installs, lib)
				if lib == "unavailable" {
					return sandbox.RunOutput{ExitCode: 1, Stderr: "No matching distribution"}, nil
				}
				delete(e.missing, lib)
			}
		}
		return sandbox.RunOutput{}, nil

	case strings.HasPrefix(code, "print(") && strings.HasSuffix(code, ")"):
		name := strings.TrimSuffix(strings.TrimPrefix(code, "print("), ")")
		e.mu.Lock()
		defer e.mu.Unlock()
		v, ok := e.vars[name]
		if !ok {
			return sandbox.RunOutput{ExitCode: 1, Stderr: fmt.Sprintf("NameError: name '%s' is not defined", name)}, nil
		}
		return sandbox.RunOutput{Stdout: v + "\n"}, nil

	case strings.Contains(code, "="):
		name, value, _ := strings.Cut(code, "=")
		e.mu.Lock()
		defer e.mu.Unlock()
		e.vars[strings.TrimSpace(name)] = strings.TrimSpace(value)
		return sandbox.RunOutput{}, nil
	}
	return sandbox.RunOutput{ExitCode: 1, Stderr: "SyntaxError"}, nil
}

func (e *fakeEnv) Close(context.Context) error {
	e.closes.Add(1)
	return nil
}

func (e *fakeEnv) Installs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.installs...)
}

type fakeProvisioner struct {
	available atomic.Bool
	err       error
	delay     time.Duration
	prepare   func(*fakeEnv)

	attempts atomic.Int32
	mu       sync.Mutex
	envs     []*fakeEnv
}

func newFakeProvisioner() *fakeProvisioner {
	p := &fakeProvisioner{}
	p.available.Store(true)
	return p
}

func (*fakeProvisioner) Name() string { return "fake" }

func (p *fakeProvisioner) Available(context.Context) bool { return p.available.Load() }

func (p *fakeProvisioner) Provision(ctx context.Context, _ string) (sandbox.Environment, error) {
	p.attempts.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", sandbox.ErrProvisioningFailed, ctx.Err())
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	env := newFakeEnv()
	if p.prepare != nil {
		p.prepare(env)
	}
	p.mu.Lock()
	p.envs = append(p.envs, env)
	p.mu.Unlock()
	return env, nil
}

func (p *fakeProvisioner) Envs() []*fakeEnv {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeEnv(nil), p.envs...)
}

type fakeFallback struct {
	calls  atomic.Int32
	result sandbox.ExecutionResult
	err    error
}

func (f *fakeFallback) Execute(context.Context, string, time.Duration) (sandbox.ExecutionResult, error) {
	f.calls.Add(1)
	return f.result, f.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingRecorder struct {
	mu         sync.Mutex
	created    map[string]int
	closed     map[string]int
	executions map[string]int
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{
		created:    make(map[string]int),
		closed:     make(map[string]int),
		executions: make(map[string]int),
	}
}

func (r *recordingRecorder) SessionCreated(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created[mode]++
}

func (r *recordingRecorder) SessionClosed(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed[reason]++
}

func (r *recordingRecorder) ExecutionFinished(mode, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[mode+"/"+outcome]++
}

func (r *recordingRecorder) count(m map[string]int, key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return m[key]
}
