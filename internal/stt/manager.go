package stt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/talkghana/asr-gateway/internal/apierror"
	"github.com/talkghana/asr-gateway/internal/observability"
	"github.com/talkghana/asr-gateway/internal/resilience"
)

const (
	// DefaultHealthCheckInterval is the period of the background probe
	DefaultHealthCheckInterval = 5 * time.Minute

	// DefaultMaxQueueSize caps requests waiting for a connection
	DefaultMaxQueueSize = 100
)

// ManagerConfig holds the collaborators of a Manager
type ManagerConfig struct {
	Executor            *Executor
	Probe               Prober
	HealthCheckInterval time.Duration // <= 0 uses DefaultHealthCheckInterval
	Reconnect           *resilience.ReconnectSchedule
	MaxQueueSize        int // <= 0 uses DefaultMaxQueueSize
	Clock               clock.Clock
	Logger              zerolog.Logger
	Metrics             *observability.Metrics
}

type outcome struct {
	result *Result
	err    error
}

// pendingRequest is a request waiting for the endpoint to become reachable
type pendingRequest struct {
	id         string
	ctx        context.Context
	req        Request
	reply      chan outcome // buffered, receives exactly one value
	enqueuedAt time.Time
}

type probeResult struct {
	epoch   uint64
	healthy bool
}

// Manager tracks endpoint reachability and gates transcriptions on it.
//
// A single goroutine owns the connection state, the health record and the
// pending queue. Callers, probes and timers talk to it over channels; readers
// get an atomically published Status snapshot.
type Manager struct {
	executor  *Executor
	probe     Prober
	reconnect *resilience.ReconnectSchedule
	maxQueue  int
	clock     clock.Clock
	logger    zerolog.Logger
	metrics   *observability.Metrics
	ticker    *clock.Ticker

	submitCh chan *pendingRequest
	cancelCh chan string
	signalCh chan bool
	probeCh  chan probeResult
	drainCh  chan struct{}

	ctx       context.Context // parent of probe contexts, cancelled on Close
	cancel    context.CancelFunc
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	status atomic.Pointer[Status]

	subMu      sync.Mutex
	subs       map[int]chan State
	nextSub    int
	subsClosed bool

	// Run loop state; never touched outside run()
	state          State
	health         HealthStatus
	queue          []*pendingRequest
	offline        bool
	epoch          uint64
	attempts       int
	probing        bool
	draining       bool
	reconnectTimer *clock.Timer
}

// NewManager creates a manager and immediately starts connecting
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = resilience.NewReconnectSchedule(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Executor == nil {
		panic("stt: NewManager requires an Executor")
	}
	if cfg.Probe == nil {
		panic("stt: NewManager requires a Probe")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		executor:  cfg.Executor,
		probe:     cfg.Probe,
		reconnect: cfg.Reconnect,
		maxQueue:  cfg.MaxQueueSize,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		ticker:    cfg.Clock.Ticker(cfg.HealthCheckInterval),
		submitCh:  make(chan *pendingRequest),
		cancelCh:  make(chan string),
		signalCh:  make(chan bool),
		probeCh:   make(chan probeResult),
		drainCh:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		subs:      make(map[int]chan State),
		state:     StateDisconnected,
	}

	m.transition(StateConnecting)
	m.startProbe()
	m.publish()

	go m.run()
	return m
}

// Transcribe runs req now if the endpoint is connected, otherwise queues it
// until the next successful connection. It blocks until the request settles,
// the manager is closed, or ctx is done. Once the manager has given up
// reconnecting (StateError) it fails fast with Disconnected.
func (m *Manager) Transcribe(ctx context.Context, req Request) (*Result, error) {
	select {
	case <-m.quit:
		return nil, m.reject(apierror.KindDisconnected, "asr client is closed")
	default:
	}

	p := &pendingRequest{
		id:         uuid.NewString(),
		ctx:        ctx,
		req:        req,
		reply:      make(chan outcome, 1),
		enqueuedAt: m.clock.Now(),
	}

	select {
	case m.submitCh <- p:
	case <-m.quit:
		return nil, m.reject(apierror.KindDisconnected, "asr client is closed")
	case <-ctx.Done():
		return nil, apierror.New(apierror.KindTimeout, ctx.Err())
	}

	select {
	case out := <-p.reply:
		return out.result, out.err
	case <-ctx.Done():
		select {
		case m.cancelCh <- p.id:
		case <-m.quit:
		}
		// The request may have settled while we were cancelling
		select {
		case out := <-p.reply:
			return out.result, out.err
		default:
		}
		return nil, apierror.New(apierror.KindTimeout, ctx.Err())
	}
}

// State returns the current connection state
func (m *Manager) State() State {
	return m.status.Load().State
}

// IsAvailable reports whether requests currently run without queuing
func (m *Manager) IsAvailable() bool {
	return m.State() == StateConnected
}

// Status returns a snapshot of the manager
func (m *Manager) Status() Status {
	return *m.status.Load()
}

// NotifyOnline tells the manager the network came back. It is a hint only:
// a disconnected or failed manager starts a fresh connection attempt.
func (m *Manager) NotifyOnline() {
	select {
	case m.signalCh <- true:
	case <-m.quit:
	}
}

// NotifyOffline tells the manager the network went away. Queued requests
// are kept.
func (m *Manager) NotifyOffline() {
	select {
	case m.signalCh <- false:
	case <-m.quit:
	}
}

// Subscribe returns a channel receiving every state the manager enters and
// a function to stop the subscription. Slow subscribers miss updates rather
// than blocking the manager. The channel is closed on unsubscribe or Close.
func (m *Manager) Subscribe() (<-chan State, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	ch := make(chan State, 16)
	if m.subsClosed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

// Close stops probing, rejects every queued request with Disconnected and
// closes subscriptions. It is safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.quit)
	})
	<-m.stopped
	return nil
}

func (m *Manager) run() {
	defer close(m.stopped)
	defer m.ticker.Stop()

	for {
		var reconnectC <-chan time.Time
		if m.reconnectTimer != nil {
			reconnectC = m.reconnectTimer.C
		}

		select {
		case <-m.quit:
			m.shutdown()
			return
		case p := <-m.submitCh:
			m.handleSubmit(p)
		case id := <-m.cancelCh:
			m.handleCancel(id)
		case online := <-m.signalCh:
			if online {
				m.handleOnline()
			} else {
				m.handleOffline()
			}
		case r := <-m.probeCh:
			m.handleProbe(r)
		case <-reconnectC:
			m.reconnectTimer = nil
			if m.state == StateConnecting && !m.probing {
				m.startProbe()
			}
		case <-m.ticker.C:
			m.handleTick()
		case <-m.drainCh:
			m.draining = false
			m.drainNext()
		}

		m.publish()
	}
}

func (m *Manager) handleSubmit(p *pendingRequest) {
	// Parked until a network change or a periodic probe; waiting would be unbounded
	if m.state == StateError {
		p.reply <- outcome{err: m.reject(apierror.KindDisconnected,
			"endpoint unreachable after %d connection attempts", m.attempts)}
		return
	}

	if m.state == StateConnected && len(m.queue) == 0 && !m.draining {
		go func() {
			result, err := m.executor.Execute(p.ctx, p.req)
			p.reply <- outcome{result: result, err: err}
		}()
		return
	}

	if len(m.queue) >= m.maxQueue {
		m.metrics.RecordQueueRejection()
		p.reply <- outcome{err: m.reject(apierror.KindQueueFull,
			"%d requests already waiting for the endpoint", len(m.queue))}
		return
	}

	m.queue = append(m.queue, p)
	m.metrics.SetPending(len(m.queue))
	m.logger.Debug().
		Str("request_id", p.id).
		Str("state", m.state.String()).
		Int("queue_length", len(m.queue)).
		Msg("Request queued until connected")
}

func (m *Manager) handleCancel(id string) {
	for i, p := range m.queue {
		if p.id == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			m.metrics.SetPending(len(m.queue))
			m.logger.Debug().Str("request_id", id).Msg("Queued request abandoned by caller")
			return
		}
	}
}

func (m *Manager) handleOnline() {
	m.offline = false
	if m.state != StateDisconnected && m.state != StateError {
		return
	}

	m.logger.Info().Str("state", m.state.String()).Msg("Network online, reconnecting")
	m.epoch++
	m.probing = false
	m.attempts = 0
	m.transition(StateConnecting)
	m.startProbe()
}

func (m *Manager) handleOffline() {
	m.offline = true
	m.epoch++
	m.probing = false
	m.attempts = 0
	m.stopReconnectTimer()

	if m.state != StateDisconnected {
		m.logger.Info().Int("queue_length", len(m.queue)).Msg("Network offline, pausing")
		m.transition(StateDisconnected)
	}
}

func (m *Manager) handleTick() {
	// Connecting is driven by the reconnect schedule
	if m.probing || m.state == StateConnecting {
		return
	}
	m.startProbe()
}

func (m *Manager) handleProbe(r probeResult) {
	if r.epoch != m.epoch {
		return
	}
	m.probing = false

	now := m.clock.Now()
	m.health.LastCheckedAt = &now
	if r.healthy {
		m.health.ConsecutiveFailures = 0
	} else {
		m.health.ConsecutiveFailures++
	}
	m.metrics.RecordProbe(r.healthy)

	switch m.state {
	case StateConnecting:
		if r.healthy {
			m.connected()
			return
		}
		m.attempts++
		if m.reconnect.Exhausted(m.attempts) {
			m.logger.Error().
				Int("attempts", m.attempts).
				Msg("Endpoint unreachable, giving up until network changes")
			m.transition(StateError)
			if n := m.rejectQueue("endpoint unreachable after %d connection attempts", m.attempts); n > 0 {
				m.logger.Warn().Int("rejected", n).Msg("Rejected queued requests, endpoint unreachable")
			}
			return
		}
		delay := m.reconnect.Next(m.attempts)
		m.logger.Warn().
			Int("attempt", m.attempts).
			Dur("retry_in", delay).
			Msg("Endpoint probe failed")
		m.reconnectTimer = m.clock.Timer(delay)

	case StateConnected:
		if !r.healthy {
			m.logger.Warn().Msg("Periodic probe failed, endpoint disconnected")
			m.transition(StateDisconnected)
		}

	case StateDisconnected, StateError:
		if r.healthy {
			m.transition(StateConnecting)
			m.connected()
		}
	}
}

func (m *Manager) connected() {
	m.attempts = 0
	m.stopReconnectTimer()
	m.transition(StateConnected)
	m.drainNext()
}

// drainNext hands the head of the queue to the executor. Only one drained
// request runs at a time, so the queue is released strictly in order.
func (m *Manager) drainNext() {
	if m.draining || m.state != StateConnected || len(m.queue) == 0 {
		return
	}

	p := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	m.metrics.SetPending(len(m.queue))
	m.draining = true

	m.logger.Debug().
		Str("request_id", p.id).
		Dur("waited", m.clock.Since(p.enqueuedAt)).
		Msg("Draining queued request")

	go func() {
		result, err := m.executor.Execute(p.ctx, p.req)
		p.reply <- outcome{result: result, err: err}
		select {
		case m.drainCh <- struct{}{}:
		case <-m.quit:
		}
	}()
}

func (m *Manager) startProbe() {
	m.probing = true
	epoch := m.epoch
	go func() {
		healthy := m.probe.Check(m.ctx)
		select {
		case m.probeCh <- probeResult{epoch: epoch, healthy: healthy}:
		case <-m.quit:
		}
	}()
}

func (m *Manager) stopReconnectTimer() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) shutdown() {
	m.stopReconnectTimer()
	m.cancel()

	if n := m.rejectQueue("asr client closed before the request was sent"); n > 0 {
		m.logger.Info().Int("rejected", n).Msg("Rejected queued requests on close")
	}

	m.transition(StateDisconnected)
	m.publish()

	m.subMu.Lock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.subsClosed = true
	m.subMu.Unlock()
}

// rejectQueue settles every queued request with Disconnected and returns how
// many there were
func (m *Manager) rejectQueue(format string, args ...any) int {
	n := len(m.queue)
	for _, p := range m.queue {
		p.reply <- outcome{err: m.reject(apierror.KindDisconnected, format, args...)}
	}
	m.queue = nil
	m.metrics.SetPending(0)
	return n
}

func (m *Manager) transition(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to

	m.metrics.RecordTransition(from.String(), to.String(), int(to))
	m.logger.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Connection state changed")

	m.subMu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- to:
		default:
		}
	}
	m.subMu.Unlock()
}

func (m *Manager) publish() {
	m.status.Store(&Status{
		State:        m.state,
		Available:    m.state == StateConnected,
		Offline:      m.offline,
		Health:       m.health,
		QueueLength:  len(m.queue),
		ReconnectTry: m.attempts,
	})
}

func (m *Manager) reject(kind apierror.Kind, format string, args ...any) *apierror.Error {
	err := apierror.Newf(kind, format, args...)
	m.metrics.RecordRequest(kind.String(), 0, 0)
	return err
}
