package toolconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"valet/internal/toolconn/transport"
)

// ErrPromptsUnsupported is returned by ListPrompts for providers that did
// not advertise the prompts capability at connect time.
var ErrPromptsUnsupported = errors.New("provider does not support prompts")

// UnknownProviderError marks a provider id absent from the configured set.
type UnknownProviderError struct {
	ProviderID string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown tool provider %q", e.ProviderID)
}

// ConnectError is the typed failure returned by GetOrCreate when the
// connect attempt fails. The provider is left in the error state.
type ConnectError struct {
	ProviderID string
	Err        error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect provider %s: %v", e.ProviderID, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Conn is one live provider connection. The default dialer returns a
// *transport.Client; tests substitute fakes.
type Conn interface {
	ListTools(ctx context.Context) ([]transport.ToolDefinition, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// promptCapable is the optional prompt-listing capability, negotiated at
// connect from the provider's initialize response.
type promptCapable interface {
	SupportsPrompts() bool
	ListPrompts(ctx context.Context) ([]transport.PromptDefinition, error)
}

// DialFunc establishes a connection for one provider config, including
// the protocol handshake.
type DialFunc func(ctx context.Context, cfg ProviderConfig) (Conn, error)

// Options tune the manager. Zero values take defaults; tests shrink the
// intervals.
type Options struct {
	// HealthInterval is the period of the background health-check loop
	// (default 60s).
	HealthInterval time.Duration

	// HealthTimeout bounds each health probe (default 10s). A hung
	// provider counts as a failed probe instead of stalling the loop.
	HealthTimeout time.Duration

	// Backoff is the reconnect delay schedule (default 5s, 10s, 20s,
	// 60s). One connect attempt follows each delay; exhausting the
	// schedule parks the provider in the disconnected state.
	Backoff []time.Duration

	// Dial overrides the transport dialer.
	Dial DialFunc

	Logger *slog.Logger
}

type entry struct {
	// cfg is the snapshot taken at the last successful connect; Reconcile
	// diffs desired configs against it.
	cfg     ProviderConfig
	conn    Conn
	prompts promptCapable

	state           State
	reason          string
	connectedAt     *time.Time
	lastHealthCheck *time.Time
	tools           []transport.ToolDefinition

	// retryCancel stops the in-flight backoff task, when one exists.
	retryCancel context.CancelFunc
}

// Manager owns the provider connection map. All map mutations serialize
// through one mutex; connect attempts made by GetOrCreate run under it,
// so concurrent connects to distinct providers queue rather than overlap.
type Manager struct {
	healthInterval time.Duration
	healthTimeout  time.Duration
	backoff        []time.Duration
	dial           DialFunc
	logger         *slog.Logger

	mu          sync.Mutex
	configs     map[string]ProviderConfig
	entries     map[string]*entry
	subscribers map[int]StatusFunc
	nextSubID   int

	runCtx    context.Context
	runCancel context.CancelFunc
	loopDone  chan struct{}
}

// NewManager creates a manager over the given provider configs. Start
// launches the health loop; until then connections are made only on
// demand.
func NewManager(configs []ProviderConfig, opts Options) *Manager {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 60 * time.Second
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 10 * time.Second
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 60 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		healthInterval: opts.HealthInterval,
		healthTimeout:  opts.HealthTimeout,
		backoff:        opts.Backoff,
		dial:           opts.Dial,
		logger:         opts.Logger,
		configs:        make(map[string]ProviderConfig, len(configs)),
		entries:        make(map[string]*entry),
		subscribers:    make(map[int]StatusFunc),
	}
	if m.dial == nil {
		m.dial = m.defaultDial
	}
	for _, cfg := range configs {
		m.configs[cfg.ID] = cfg
	}

	m.runCtx, m.runCancel = context.WithCancel(context.Background())
	return m
}

// Start launches the background health-check loop.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loopDone != nil {
		return
	}
	m.loopDone = make(chan struct{})
	go m.healthLoop()
}

// GetOrCreate returns the provider's tool set, connecting first unless the
// provider is already connected. A failed connect parks the provider in
// the error state and returns a *ConnectError; it is not retried until
// GetOrCreate or Reconcile is called again.
func (m *Manager) GetOrCreate(ctx context.Context, providerID string) ([]transport.ToolDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[providerID]
	if !ok {
		return nil, &UnknownProviderError{ProviderID: providerID}
	}

	e := m.entries[providerID]
	if e != nil && e.state == StateConnected {
		return slices.Clone(e.tools), nil
	}

	// Malformed config never enters the state machine.
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{ProviderID: providerID, Err: err}
	}

	if e == nil {
		e = &entry{state: StateDisconnected}
		m.entries[providerID] = e
	}
	m.stopRetryLocked(e)

	if err := m.connectLocked(ctx, providerID, e, cfg); err != nil {
		return nil, &ConnectError{ProviderID: providerID, Err: err}
	}
	return slices.Clone(e.tools), nil
}

// ListAllTools connects every configured provider on demand and returns
// the aggregated tool sets by provider id. Providers that fail to connect
// are skipped; their failure lives in the status snapshot.
func (m *Manager) ListAllTools(ctx context.Context) map[string][]transport.ToolDefinition {
	m.mu.Lock()
	ids := make([]string, 0, len(m.configs))
	for id := range m.configs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)

	out := make(map[string][]transport.ToolDefinition)
	for _, id := range ids {
		tools, err := m.GetOrCreate(ctx, id)
		if err != nil {
			m.logger.Warn("provider unavailable for tool aggregation", "provider", id, "error", err)
			continue
		}
		out[id] = tools
	}
	return out
}

// CallTool invokes one tool on a connected provider. The call itself runs
// outside the manager lock; the connection serializes its own transport.
func (m *Manager) CallTool(ctx context.Context, providerID, name string, args map[string]any) (string, error) {
	m.mu.Lock()
	e := m.entries[providerID]
	if e == nil || e.state != StateConnected {
		m.mu.Unlock()
		return "", fmt.Errorf("provider %s is not connected", providerID)
	}
	conn := e.conn
	m.mu.Unlock()

	return conn.CallTool(ctx, name, args)
}

// ListPrompts lists a connected provider's named prompts. Providers that
// did not negotiate the prompts capability return ErrPromptsUnsupported.
func (m *Manager) ListPrompts(ctx context.Context, providerID string) ([]transport.PromptDefinition, error) {
	m.mu.Lock()
	e := m.entries[providerID]
	if e == nil || e.state != StateConnected {
		m.mu.Unlock()
		return nil, fmt.Errorf("provider %s is not connected", providerID)
	}
	prompts := e.prompts
	m.mu.Unlock()

	if prompts == nil {
		return nil, ErrPromptsUnsupported
	}
	return prompts.ListPrompts(ctx)
}

// Reconcile diffs the desired provider set against the snapshots taken at
// connect. Removed providers are disconnected and evicted; providers whose
// parameters changed are disconnected and reconnected; new providers are
// registered for on-demand connection.
func (m *Manager) Reconcile(ctx context.Context, desired []ProviderConfig) error {
	for _, cfg := range desired {
		if err := cfg.Validate(); err != nil {
			return &ConfigError{ProviderID: cfg.ID, Err: err}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	desiredByID := make(map[string]ProviderConfig, len(desired))
	for _, cfg := range desired {
		desiredByID[cfg.ID] = cfg
	}

	for id, e := range m.entries {
		cfg, keep := desiredByID[id]
		if !keep {
			m.stopRetryLocked(e)
			m.closeConnLocked(e)
			m.transitionLocked(id, e, StateDisconnected, "removed from config")
			delete(m.entries, id)
			continue
		}
		if !reflect.DeepEqual(e.cfg, cfg) {
			wasLive := e.state == StateConnected || e.state == StateReconnecting
			m.stopRetryLocked(e)
			m.closeConnLocked(e)
			e.cfg = cfg
			if wasLive {
				if err := m.connectLocked(ctx, id, e, cfg); err != nil {
					m.logger.Warn("reconnect after config change failed", "provider", id, "error", err)
				}
			}
		}
	}

	m.configs = desiredByID
	return nil
}

// DisconnectAll cancels in-flight backoff waits and disposes every live
// connection, best effort. Providers stay registered.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.entries {
		m.stopRetryLocked(e)
		m.closeConnLocked(e)
		if e.state != StateDisconnected {
			m.transitionLocked(id, e, StateDisconnected, "shutdown")
		}
	}
}

// Close stops the health loop and all backoff tasks, then disconnects
// every provider.
func (m *Manager) Close() {
	m.runCancel()

	m.mu.Lock()
	done := m.loopDone
	m.mu.Unlock()
	if done != nil {
		<-done
	}

	m.DisconnectAll()
}

// Status copies the full provider snapshot, sorted by id. Providers that
// are configured but never touched report as disconnected.
func (m *Manager) Status() []ProviderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ProviderStatus, 0, len(m.configs))
	for id := range m.configs {
		s := ProviderStatus{ID: id, State: StateDisconnected}
		if e := m.entries[id]; e != nil {
			s.State = e.state
			s.Reason = e.reason
			s.ConnectedAt = e.connectedAt
			s.LastHealthCheck = e.lastHealthCheck
			s.ToolCount = len(e.tools)
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b ProviderStatus) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Subscribe registers a transition handler and returns its remove func.
func (m *Manager) Subscribe(fn StatusFunc) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// connectLocked dials, lists the initial tool set, and moves the entry to
// the connected state. On failure the entry lands in the error state with
// the failure reason. Caller holds m.mu.
func (m *Manager) connectLocked(ctx context.Context, id string, e *entry, cfg ProviderConfig) error {
	m.transitionLocked(id, e, StateConnecting, "")

	conn, err := m.dial(ctx, cfg)
	if err != nil {
		m.transitionLocked(id, e, StateError, err.Error())
		return err
	}

	tools, err := conn.ListTools(ctx)
	if err != nil {
		conn.Close()
		m.transitionLocked(id, e, StateError, err.Error())
		return err
	}

	now := time.Now().UTC()
	e.cfg = cfg
	e.conn = conn
	e.prompts = nil
	if pc, ok := conn.(promptCapable); ok && pc.SupportsPrompts() {
		e.prompts = pc
	}
	e.connectedAt = &now
	e.lastHealthCheck = &now
	e.tools = tools
	m.transitionLocked(id, e, StateConnected, "")

	m.logger.Info("tool provider connected",
		"provider", id,
		"tools", len(tools),
		"prompts", e.prompts != nil,
	)
	return nil
}

// healthLoop re-lists every connected provider's tools on a fixed period.
// A failed listing moves the provider to reconnecting and hands it to an
// independent backoff task.
func (m *Manager) healthLoop() {
	defer close(m.loopDone)

	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *Manager) checkHealth() {
	type probe struct {
		id   string
		conn Conn
	}

	m.mu.Lock()
	probes := make([]probe, 0, len(m.entries))
	for id, e := range m.entries {
		if e.state == StateConnected {
			probes = append(probes, probe{id: id, conn: e.conn})
		}
	}
	m.mu.Unlock()

	for _, p := range probes {
		probeCtx, cancel := context.WithTimeout(m.runCtx, m.healthTimeout)
		tools, err := p.conn.ListTools(probeCtx)
		cancel()

		m.mu.Lock()
		e := m.entries[p.id]
		// The entry may have been evicted or reconnected meanwhile.
		if e == nil || e.conn != p.conn || e.state != StateConnected {
			m.mu.Unlock()
			continue
		}
		if err == nil {
			now := time.Now().UTC()
			e.lastHealthCheck = &now
			e.tools = tools
			m.mu.Unlock()
			continue
		}

		m.logger.Warn("tool provider health check failed", "provider", p.id, "error", err)
		m.transitionLocked(p.id, e, StateReconnecting, err.Error())

		retryCtx, cancel := context.WithCancel(m.runCtx)
		e.retryCancel = cancel
		go m.retry(retryCtx, p.id)
		m.mu.Unlock()
	}
}

// retry is the per-provider backoff task: wait, attempt, repeat through
// the schedule. The first success restores the connected state; full
// exhaustion parks the provider disconnected until an explicit
// GetOrCreate or Reconcile.
func (m *Manager) retry(ctx context.Context, id string) {
	for attempt, delay := range m.backoff {
		if !sleepCtx(ctx, delay) {
			return
		}

		m.mu.Lock()
		e := m.entries[id]
		if e == nil || e.state != StateReconnecting {
			m.mu.Unlock()
			return
		}

		m.closeConnLocked(e)
		err := m.reconnectLocked(ctx, id, e)
		if err == nil {
			m.stopRetryLocked(e)
			m.mu.Unlock()
			return
		}
		e.reason = err.Error()
		m.mu.Unlock()

		m.logger.Debug("reconnect attempt failed",
			"provider", id,
			"attempt", attempt+1,
			"error", err,
		)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e == nil || e.state != StateReconnecting {
		return
	}
	m.stopRetryLocked(e)
	m.transitionLocked(id, e, StateDisconnected, "Max retries exceeded")
}

// reconnectLocked re-dials with the entry's connect-time config snapshot,
// staying in the reconnecting state across failed attempts. Caller holds
// m.mu.
func (m *Manager) reconnectLocked(ctx context.Context, id string, e *entry) error {
	conn, err := m.dial(ctx, e.cfg)
	if err != nil {
		return err
	}
	tools, err := conn.ListTools(ctx)
	if err != nil {
		conn.Close()
		return err
	}

	now := time.Now().UTC()
	e.conn = conn
	e.prompts = nil
	if pc, ok := conn.(promptCapable); ok && pc.SupportsPrompts() {
		e.prompts = pc
	}
	e.connectedAt = &now
	e.lastHealthCheck = &now
	e.tools = tools
	m.transitionLocked(id, e, StateConnected, "")

	m.logger.Info("tool provider reconnected", "provider", id, "tools", len(tools))
	return nil
}

// transitionLocked records the state change and notifies subscribers.
// Caller holds m.mu.
func (m *Manager) transitionLocked(id string, e *entry, to State, reason string) {
	from := e.state
	e.state = to
	e.reason = reason
	if from == to {
		return
	}

	ev := StatusEvent{ProviderID: id, From: from, To: to, Reason: reason}
	for _, fn := range m.subscribers {
		m.notify(fn, ev)
	}
}

// notify invokes one subscriber; a panic is contained so a faulty handler
// cannot abort the transition in progress.
func (m *Manager) notify(fn StatusFunc, ev StatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("status subscriber panicked",
				"provider", ev.ProviderID,
				"panic", r,
			)
		}
	}()
	fn(ev)
}

// stopRetryLocked cancels the entry's backoff task. Caller holds m.mu.
func (m *Manager) stopRetryLocked(e *entry) {
	if e.retryCancel != nil {
		e.retryCancel()
		e.retryCancel = nil
	}
}

// closeConnLocked disposes the entry's connection best-effort. Caller
// holds m.mu.
func (m *Manager) closeConnLocked(e *entry) {
	if e.conn == nil {
		return
	}
	if err := e.conn.Close(); err != nil {
		m.logger.Debug("provider connection close failed", "error", err)
	}
	e.conn = nil
	e.prompts = nil
	e.tools = nil
}

// defaultDial builds the real transport for the config and performs the
// protocol handshake.
func (m *Manager) defaultDial(ctx context.Context, cfg ProviderConfig) (Conn, error) {
	var tr transport.Transport
	switch cfg.Kind {
	case KindStdio:
		stdio, err := transport.NewStdioTransport(transport.StdioConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
			Logger:  m.logger,
		})
		if err != nil {
			return nil, err
		}
		tr = stdio
	case KindHTTP:
		tr = transport.NewHTTPTransport(transport.HTTPConfig{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Logger:  m.logger,
		})
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", cfg.Kind)
	}

	client := transport.NewClient(cfg.ID, tr, m.logger)
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// sleepCtx waits for d or until ctx is cancelled. Returns false when
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
