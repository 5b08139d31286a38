package stt

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/talkghana/asr-gateway/internal/audio"
	"github.com/talkghana/asr-gateway/internal/resilience"
)

// scriptedTranscriber answers calls from a script; once the script runs out
// the last step repeats
type scriptedTranscriber struct {
	mu    sync.Mutex
	steps []func(ctx context.Context, req Request) (*Result, error)
	calls []Request
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, req Request) (*Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	n := len(s.calls)
	step := s.steps[len(s.steps)-1]
	if n <= len(s.steps) {
		step = s.steps[n-1]
	}
	s.mu.Unlock()
	return step(ctx, req)
}

func (s *scriptedTranscriber) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *scriptedTranscriber) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func succeed(text string) func(context.Context, Request) (*Result, error) {
	return func(_ context.Context, req Request) (*Result, error) {
		return &Result{Text: text, Language: req.Language, Model: req.Model}, nil
	}
}

func fail(err error) func(context.Context, Request) (*Result, error) {
	return func(context.Context, Request) (*Result, error) {
		return nil, err
	}
}

// echoTranscriber returns the payload bytes as the transcript
type echoTranscriber struct {
	mu    sync.Mutex
	order []string
}

func (e *echoTranscriber) Transcribe(_ context.Context, req Request) (*Result, error) {
	text := string(req.Payload.Bytes())
	e.mu.Lock()
	e.order = append(e.order, text)
	e.mu.Unlock()
	return &Result{Text: text}, nil
}

func (e *echoTranscriber) Order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// switchProbe reports the value of healthy
type switchProbe struct {
	healthy atomic.Bool
	checks  atomic.Int32
}

func (p *switchProbe) Check(context.Context) bool {
	p.checks.Add(1)
	return p.healthy.Load()
}

func newSwitchProbe(healthy bool) *switchProbe {
	p := &switchProbe{}
	p.healthy.Store(healthy)
	return p
}

func testPayload(data string) audio.Payload {
	return audio.NewPayload([]byte(data), "audio/webm")
}

// noDelayExecutor retries immediately so tests do not sleep
func noDelayExecutor(backend Transcriber, maxRetries int) *Executor {
	return NewExecutor(backend, ExecutorConfig{
		Policy: resilience.NewRetryPolicy(&resilience.RetryConfig{
			MaxRetries: maxRetries,
		}),
		DefaultLanguage: "en",
		DefaultModel:    "openai/whisper-large-v3",
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
