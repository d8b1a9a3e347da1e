package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/germanamz/sessiond/pkg/config"
	"github.com/germanamz/sessiond/pkg/engine"
	"github.com/germanamz/sessiond/pkg/event"
	"github.com/germanamz/sessiond/pkg/multiplex"
)

type fakeEngine struct {
	*engine.Base
	params engine.Params

	startDelay time.Duration
	onStart    func()
	startErr   error
	stopErr    error
	unpairErr  error
	info       map[string]any
	infoDelay  time.Duration

	starts  atomic.Int32
	stops   atomic.Int32
	unpairs atomic.Int32
	closes  atomic.Int32
}

func (f *fakeEngine) Start(context.Context) error {
	f.starts.Add(1)
	if f.startDelay > 0 {
		time.Sleep(f.startDelay)
	}
	if f.onStart != nil {
		f.onStart()
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.SetStatus(engine.StatusWorking)
	return nil
}

func (f *fakeEngine) Stop(context.Context) error {
	f.stops.Add(1)
	if f.stopErr != nil {
		return f.stopErr
	}
	f.CloseEvents()
	return nil
}

func (f *fakeEngine) Close() error {
	f.closes.Add(1)
	f.CloseEvents()
	return nil
}

func (f *fakeEngine) Unpair(context.Context) error {
	f.unpairs.Add(1)
	return f.unpairErr
}

func (f *fakeEngine) EngineInfo(ctx context.Context) (map[string]any, error) {
	if f.infoDelay > 0 {
		time.Sleep(f.infoDelay)
	}
	return f.info, nil
}

// fakeFactory builds fakeEngines and remembers them.
type fakeFactory struct {
	mu        sync.Mutex
	built     []*fakeEngine
	configure func(*fakeEngine)
}

func (f *fakeFactory) construct(p engine.Params) (engine.Session, error) {
	e := &fakeEngine{Base: engine.NewBase(p), params: p}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configure != nil {
		f.configure(e)
	}
	f.built = append(f.built, e)
	return e, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *fakeFactory) last(name string) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.built) - 1; i >= 0; i-- {
		if f.built[i].Name() == name {
			return f.built[i]
		}
	}
	return nil
}

type recordingConductor struct {
	mu    sync.Mutex
	hooks map[string][]config.WebhookConfig
}

func (r *recordingConductor) Configure(s engine.Session, hooks []config.WebhookConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hooks == nil {
		r.hooks = make(map[string][]config.WebhookConfig)
	}
	r.hooks[s.Name()] = hooks
}

func (r *recordingConductor) get(name string) []config.WebhookConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hooks[name]
}

type recordingBootstrap struct {
	mu    sync.Mutex
	calls []string
}

func (b *recordingBootstrap) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *recordingBootstrap) Bootstrap(context.Context) error {
	b.record("bootstrap")
	return nil
}

func (b *recordingBootstrap) Shutdown(context.Context) error {
	b.record("shutdown")
	return nil
}

// next returns the next event on sub matching keep, failing after a second.
func next(t *testing.T, sub *multiplex.Subscription, keep func(event.Event) bool) event.Event {
	t.Helper()

	timeout := time.After(time.Second)
	for {
		select {
		case e, ok := <-sub.C:
			require.True(t, ok, "subscription completed")
			if keep(e) {
				return e
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return event.Event{}
		}
	}
}

func statusIs(name string, status engine.Status) func(event.Event) bool {
	return func(e event.Event) bool {
		payload, ok := e.Payload.(map[string]any)
		return ok && e.Session == name && payload["status"] == status
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Engine = "NOWEB"
	cfg.DataDir = t.TempDir()
	cfg.Timeouts = config.TimeoutsConfig{
		StopGrace:   time.Millisecond,
		UnpairGrace: time.Millisecond,
		EngineInfo:  50 * time.Millisecond,
	}
	return cfg
}

func newTestSupervisor(t *testing.T, mutate func(*Options)) (*Supervisor, *fakeFactory) {
	t.Helper()

	factory := &fakeFactory{}
	opts := Options{
		Config:      testConfig(t),
		Selector:    engine.Uniform(factory.construct),
		Multiplexer: multiplex.New(multiplex.Options{RetryDelay: 5 * time.Millisecond}),
	}
	if mutate != nil {
		mutate(&opts)
	}

	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	return s, factory
}
