package stt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/talkghana/asr-gateway/internal/apierror"
	"github.com/talkghana/asr-gateway/internal/resilience"
)

type transcribeResult struct {
	result *Result
	err    error
}

func newTestManager(t *testing.T, backend Transcriber, probe Prober, mutate ...func(*ManagerConfig)) (*Manager, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	cfg := ManagerConfig{
		Executor:            noDelayExecutor(backend, 3),
		Probe:               probe,
		HealthCheckInterval: time.Minute,
		Reconnect: resilience.NewReconnectSchedule(&resilience.ReconnectConfig{
			MaxAttempts: 5,
			Backoff:     time.Second,
			MaxBackoff:  10 * time.Second,
		}),
		Clock: mock,
	}
	for _, f := range mutate {
		f(&cfg)
	}

	m := NewManager(cfg)
	t.Cleanup(func() { m.Close() })
	return m, mock
}

func transcribeAsync(m *Manager, ctx context.Context, req Request) <-chan transcribeResult {
	out := make(chan transcribeResult, 1)
	go func() {
		result, err := m.Transcribe(ctx, req)
		out <- transcribeResult{result, err}
	}()
	return out
}

func receive(t *testing.T, ch <-chan transcribeResult) transcribeResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("transcription did not settle")
		return transcribeResult{}
	}
}

func nextState(t *testing.T, ch <-chan State) State {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no state change received")
		return 0
	}
}

func TestManager_ConnectsOnConstruction(t *testing.T) {
	backend := &scriptedTranscriber{steps: []func(context.Context, Request) (*Result, error){succeed("hi")}}
	m, mock := newTestManager(t, backend, newSwitchProbe(true))

	waitFor(t, "connected", func() bool { return m.IsAvailable() })

	status := m.Status()
	if status.Health.LastCheckedAt == nil {
		t.Fatal("LastCheckedAt should be set after the first probe")
	}
	if !status.Health.LastCheckedAt.Equal(mock.Now()) {
		t.Errorf("LastCheckedAt = %v, want the manager clock's %v", *status.Health.LastCheckedAt, mock.Now())
	}
	if status.Health.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", status.Health.ConsecutiveFailures)
	}

	result, err := m.Transcribe(context.Background(), Request{Payload: testPayload("audio")})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if result.Text != "hi" {
		t.Errorf("Text = %q, want %q", result.Text, "hi")
	}
}

func TestManager_InitialState(t *testing.T) {
	probe := &gateProbe{results: make(chan bool)}
	m, _ := newTestManager(t, &echoTranscriber{}, probe)

	if got := m.State(); got != StateConnecting {
		t.Errorf("State() = %v, want connecting", got)
	}
	if m.IsAvailable() {
		t.Error("IsAvailable() should be false while connecting")
	}
}

func TestManager_QueuedRequestSettlesAfterReconnect(t *testing.T) {
	probe := newSwitchProbe(false)
	backend := &scriptedTranscriber{steps: []func(context.Context, Request) (*Result, error){succeed("queued result")}}
	m, mock := newTestManager(t, backend, probe)

	waitFor(t, "first failed probe", func() bool { return m.Status().ReconnectTry == 1 })

	pending := transcribeAsync(m, context.Background(), Request{Payload: testPayload("audio")})
	waitFor(t, "request queued", func() bool { return m.Status().QueueLength == 1 })

	select {
	case r := <-pending:
		t.Fatalf("request settled before reconnection: %+v", r)
	case <-time.After(20 * time.Millisecond):
	}
	if got := backend.CallCount(); got != 0 {
		t.Fatalf("backend called %d times while disconnected", got)
	}

	probe.healthy.Store(true)
	mock.Add(3 * time.Second)

	r := receive(t, pending)
	if r.err != nil {
		t.Fatalf("Transcribe() error = %v", r.err)
	}
	if r.result.Text != "queued result" {
		t.Errorf("Text = %q", r.result.Text)
	}
	if got := m.State(); got != StateConnected {
		t.Errorf("State() = %v, want connected", got)
	}
}

func TestManager_PeriodicFailureThenOnline(t *testing.T) {
	probe := newSwitchProbe(true)
	m, mock := newTestManager(t, &echoTranscriber{}, probe)
	waitFor(t, "connected", func() bool { return m.IsAvailable() })

	states, unsubscribe := m.Subscribe()
	defer unsubscribe()

	probe.healthy.Store(false)
	mock.Add(time.Minute)

	if got := nextState(t, states); got != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", got)
	}

	// No immediate retry after a periodic failure
	checks := probe.checks.Load()
	mock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if got := probe.checks.Load(); got != checks {
		t.Errorf("probe ran %d extra times before the next interval", got-checks)
	}

	probe.healthy.Store(true)
	m.NotifyOnline()

	if got := nextState(t, states); got != StateConnecting {
		t.Fatalf("state = %v, want connecting", got)
	}
	if got := nextState(t, states); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}
}

func TestManager_ReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	probe := newSwitchProbe(false)
	m, mock := newTestManager(t, &echoTranscriber{}, probe, func(c *ManagerConfig) {
		c.Reconnect = resilience.NewReconnectSchedule(&resilience.ReconnectConfig{
			MaxAttempts: 3,
			Backoff:     time.Second,
			MaxBackoff:  2 * time.Second,
		})
	})

	for i := 1; i < 3; i++ {
		attempt := i
		waitFor(t, fmt.Sprintf("failed attempt %d", attempt), func() bool { return m.Status().ReconnectTry == attempt })
		if got := m.State(); got != StateConnecting {
			t.Fatalf("after %d failures State() = %v, want connecting", attempt, got)
		}
		mock.Add(2 * time.Second)
	}

	waitFor(t, "error state", func() bool { return m.State() == StateError })
	if got := probe.checks.Load(); got != 3 {
		t.Errorf("probe ran %d times, want 3", got)
	}

	// Parked: no background retries before the next health-check interval
	mock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if got := probe.checks.Load(); got != 3 {
		t.Errorf("probe ran %d times while parked, want 3", got)
	}

	probe.healthy.Store(true)
	m.NotifyOnline()
	waitFor(t, "connected after online", func() bool { return m.IsAvailable() })
}

func TestManager_PeriodicProbeRevivesErrorState(t *testing.T) {
	probe := newSwitchProbe(false)
	m, mock := newTestManager(t, &echoTranscriber{}, probe, func(c *ManagerConfig) {
		c.Reconnect = resilience.NewReconnectSchedule(&resilience.ReconnectConfig{MaxAttempts: 1})
	})
	waitFor(t, "error state", func() bool { return m.State() == StateError })

	probe.healthy.Store(true)
	mock.Add(time.Minute)
	waitFor(t, "connected", func() bool { return m.IsAvailable() })
}

func TestManager_ErrorStateRejectsWaitingRequests(t *testing.T) {
	probe := newSwitchProbe(false)
	m, mock := newTestManager(t, &echoTranscriber{}, probe, func(c *ManagerConfig) {
		c.Reconnect = resilience.NewReconnectSchedule(&resilience.ReconnectConfig{
			MaxAttempts: 2,
			Backoff:     time.Second,
			MaxBackoff:  time.Second,
		})
	})
	waitFor(t, "first failed probe", func() bool { return m.Status().ReconnectTry == 1 })

	pending := transcribeAsync(m, context.Background(), Request{Payload: testPayload("stuck")})
	waitFor(t, "request queued", func() bool { return m.Status().QueueLength == 1 })

	mock.Add(2 * time.Second)

	r := receive(t, pending)
	if !apierror.IsKind(r.err, apierror.KindDisconnected) {
		t.Fatalf("queued request error = %v, want Disconnected", r.err)
	}
	if got := m.State(); got != StateError {
		t.Errorf("State() = %v, want error", got)
	}
	if got := m.Status().QueueLength; got != 0 {
		t.Errorf("QueueLength = %d, want 0", got)
	}

	// New requests fail fast instead of waiting for a recovery that may not come
	if _, err := m.Transcribe(context.Background(), Request{Payload: testPayload("late")}); !apierror.IsKind(err, apierror.KindDisconnected) {
		t.Errorf("Transcribe in error state = %v, want Disconnected", err)
	}

	probe.healthy.Store(true)
	m.NotifyOnline()
	waitFor(t, "connected after online", func() bool { return m.IsAvailable() })

	result, err := m.Transcribe(context.Background(), Request{Payload: testPayload("back")})
	if err != nil {
		t.Fatalf("Transcribe() after recovery error = %v", err)
	}
	if result.Text != "back" {
		t.Errorf("Text = %q, want %q", result.Text, "back")
	}
}

func TestManager_DrainsQueueInOrder(t *testing.T) {
	probe := newSwitchProbe(false)
	backend := &echoTranscriber{}
	m, mock := newTestManager(t, backend, probe)
	waitFor(t, "first failed probe", func() bool { return m.Status().ReconnectTry == 1 })

	var pending []<-chan transcribeResult
	for i := 0; i < 5; i++ {
		pending = append(pending, transcribeAsync(m, context.Background(), Request{Payload: testPayload(fmt.Sprintf("req-%d", i))}))
		n := i + 1
		waitFor(t, "request queued", func() bool { return m.Status().QueueLength == n })
	}

	probe.healthy.Store(true)
	mock.Add(2 * time.Second)

	for i, ch := range pending {
		r := receive(t, ch)
		if r.err != nil {
			t.Fatalf("request %d error = %v", i, r.err)
		}
		if want := fmt.Sprintf("req-%d", i); r.result.Text != want {
			t.Errorf("request %d got %q, want %q", i, r.result.Text, want)
		}
	}

	order := backend.Order()
	for i, text := range order {
		if want := fmt.Sprintf("req-%d", i); text != want {
			t.Errorf("execution %d was %q, want %q", i, text, want)
		}
	}
}

func TestManager_OfflineKeepsQueue(t *testing.T) {
	probe := newSwitchProbe(true)
	m, _ := newTestManager(t, &echoTranscriber{}, probe)
	waitFor(t, "connected", func() bool { return m.IsAvailable() })

	m.NotifyOffline()
	waitFor(t, "disconnected", func() bool { return m.State() == StateDisconnected })
	if !m.Status().Offline {
		t.Error("Status().Offline should be true")
	}

	pending := transcribeAsync(m, context.Background(), Request{Payload: testPayload("kept")})
	waitFor(t, "request queued", func() bool { return m.Status().QueueLength == 1 })

	m.NotifyOnline()
	r := receive(t, pending)
	if r.err != nil {
		t.Fatalf("Transcribe() error = %v", r.err)
	}
	if r.result.Text != "kept" {
		t.Errorf("Text = %q, want %q", r.result.Text, "kept")
	}
}

func TestManager_StaleProbeIgnoredAfterOffline(t *testing.T) {
	probe := &gateProbe{results: make(chan bool, 1)}
	m, _ := newTestManager(t, &echoTranscriber{}, probe)

	m.NotifyOffline()
	waitFor(t, "disconnected", func() bool { return m.State() == StateDisconnected })

	// The probe started before going offline now reports healthy
	probe.results <- true
	time.Sleep(20 * time.Millisecond)

	if got := m.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", got)
	}
}

func TestManager_QueueFull(t *testing.T) {
	m, _ := newTestManager(t, &echoTranscriber{}, newSwitchProbe(false), func(c *ManagerConfig) {
		c.MaxQueueSize = 2
	})
	waitFor(t, "first failed probe", func() bool { return m.Status().ReconnectTry == 1 })

	transcribeAsync(m, context.Background(), Request{Payload: testPayload("a")})
	transcribeAsync(m, context.Background(), Request{Payload: testPayload("b")})
	waitFor(t, "queue filled", func() bool { return m.Status().QueueLength == 2 })

	_, err := m.Transcribe(context.Background(), Request{Payload: testPayload("c")})
	if !apierror.IsKind(err, apierror.KindQueueFull) {
		t.Fatalf("error = %v, want QueueFull", err)
	}
	if got := m.Status().QueueLength; got != 2 {
		t.Errorf("QueueLength = %d, want 2", got)
	}
}

func TestManager_CallerCancelsQueuedRequest(t *testing.T) {
	m, _ := newTestManager(t, &echoTranscriber{}, newSwitchProbe(false))
	waitFor(t, "first failed probe", func() bool { return m.Status().ReconnectTry == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	pending := transcribeAsync(m, ctx, Request{Payload: testPayload("abandoned")})
	waitFor(t, "request queued", func() bool { return m.Status().QueueLength == 1 })

	cancel()
	r := receive(t, pending)
	if !apierror.IsKind(r.err, apierror.KindTimeout) {
		t.Fatalf("error = %v, want Timeout", r.err)
	}
	waitFor(t, "queue emptied", func() bool { return m.Status().QueueLength == 0 })
}

func TestManager_CloseRejectsQueueAndIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t, &echoTranscriber{}, newSwitchProbe(false))
	waitFor(t, "first failed probe", func() bool { return m.Status().ReconnectTry == 1 })

	states, _ := m.Subscribe()

	first := transcribeAsync(m, context.Background(), Request{Payload: testPayload("a")})
	second := transcribeAsync(m, context.Background(), Request{Payload: testPayload("b")})
	waitFor(t, "requests queued", func() bool { return m.Status().QueueLength == 2 })

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	for _, ch := range []<-chan transcribeResult{first, second} {
		r := receive(t, ch)
		if !apierror.IsKind(r.err, apierror.KindDisconnected) {
			t.Errorf("queued request error = %v, want Disconnected", r.err)
		}
	}

	if _, err := m.Transcribe(context.Background(), Request{Payload: testPayload("late")}); !apierror.IsKind(err, apierror.KindDisconnected) {
		t.Errorf("Transcribe after Close error = %v, want Disconnected", err)
	}
	if got := m.Status().QueueLength; got != 0 {
		t.Errorf("QueueLength = %d, want 0", got)
	}

	// Subscription channel drains and closes
	for range states {
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateError:        "error",
		State(42):         "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

// gateProbe blocks each check until a result is sent
type gateProbe struct {
	results chan bool
}

func (p *gateProbe) Check(ctx context.Context) bool {
	select {
	case ok := <-p.results:
		return ok
	case <-ctx.Done():
		return false
	}
}
