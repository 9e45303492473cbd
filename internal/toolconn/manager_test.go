package toolconn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"valet/internal/toolconn/transport"
)

type fakeConn struct {
	mu       sync.Mutex
	failList bool
	hangList bool
	closed   bool
	prompts  bool
	tools    []transport.ToolDefinition
}

func (c *fakeConn) ListTools(ctx context.Context) ([]transport.ToolDefinition, error) {
	c.mu.Lock()
	fail, hang := c.failList, c.hangList
	tools := c.tools
	c.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, errors.New("provider unreachable")
	}
	return tools, nil
}

func (c *fakeConn) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return "ok:" + name, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) SupportsPrompts() bool {
	return c.prompts
}

func (c *fakeConn) ListPrompts(ctx context.Context) ([]transport.PromptDefinition, error) {
	return []transport.PromptDefinition{{Name: "greeting"}}, nil
}

func (c *fakeConn) setFailing(fail bool) {
	c.mu.Lock()
	c.failList = fail
	c.mu.Unlock()
}

func (c *fakeConn) setHanging(hang bool) {
	c.mu.Lock()
	c.hangList = hang
	c.mu.Unlock()
}

// fakeDialer hands out fakeConns and counts dials; failFrom makes every
// dial past a given count fail.
type fakeDialer struct {
	mu       sync.Mutex
	calls    int
	failFrom int // 0 means never fail
	prompts  bool
	conns    []*fakeConn
	ctxs     []context.Context
	cfgs     []ProviderConfig
}

func (d *fakeDialer) dial(ctx context.Context, cfg ProviderConfig) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.ctxs = append(d.ctxs, ctx)
	d.cfgs = append(d.cfgs, cfg)
	if d.failFrom > 0 && d.calls >= d.failFrom {
		return nil, errors.New("dial refused")
	}
	conn := &fakeConn{
		prompts: d.prompts,
		tools:   []transport.ToolDefinition{{Name: "echo"}, {Name: "fetch"}},
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) dialContext(i int) context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctxs[i]
}

func (d *fakeDialer) lastCfg() ProviderConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfgs[len(d.cfgs)-1]
}

func stdioConfig(id string) ProviderConfig {
	return ProviderConfig{ID: id, Kind: KindStdio, Command: "/usr/bin/" + id}
}

func newTestManager(t *testing.T, dialer *fakeDialer, configs ...ProviderConfig) *Manager {
	t.Helper()
	m := NewManager(configs, Options{
		HealthInterval: 5 * time.Millisecond,
		HealthTimeout:  5 * time.Millisecond,
		Backoff:        []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond},
		Dial:           dialer.dial,
		Logger:         slog.New(slog.DiscardHandler),
	})
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func providerState(m *Manager, id string) (State, string) {
	for _, s := range m.Status() {
		if s.ID == id {
			return s.State, s.Reason
		}
	}
	return "", ""
}

func TestGetOrCreateConnectsThenServesCache(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, stdioConfig("files"))

	tools, err := m.GetOrCreate(context.Background(), "files")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(tools) != 2 {
		t.Errorf("got %d tools, want 2", len(tools))
	}

	if _, err := m.GetOrCreate(context.Background(), "files"); err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if dialer.dialCount() != 1 {
		t.Errorf("dialed %d times, want 1 (cached)", dialer.dialCount())
	}

	state, _ := providerState(m, "files")
	if state != StateConnected {
		t.Errorf("state = %s, want connected", state)
	}
}

func TestGetOrCreateUnknownProvider(t *testing.T) {
	m := newTestManager(t, &fakeDialer{})

	_, err := m.GetOrCreate(context.Background(), "nope")
	var unknown *UnknownProviderError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownProviderError", err)
	}
}

func TestInvalidConfigFailsFastWithoutDialing(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, ProviderConfig{ID: "broken", Kind: KindStdio})

	_, err := m.GetOrCreate(context.Background(), "broken")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if dialer.dialCount() != 0 {
		t.Errorf("dialer invoked for invalid config")
	}
	state, _ := providerState(m, "broken")
	if state != StateDisconnected {
		t.Errorf("state = %s, want disconnected (never entered the machine)", state)
	}
}

func TestConnectFailureLandsInErrorState(t *testing.T) {
	dialer := &fakeDialer{failFrom: 1}
	m := newTestManager(t, dialer, stdioConfig("files"))

	_, err := m.GetOrCreate(context.Background(), "files")
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want ConnectError", err)
	}

	state, reason := providerState(m, "files")
	if state != StateError {
		t.Errorf("state = %s, want error", state)
	}
	if reason == "" {
		t.Errorf("error state carries no reason")
	}

	// Another explicit call retries.
	if _, err := m.GetOrCreate(context.Background(), "files"); err == nil {
		t.Fatal("expected second connect to fail too")
	}
	if dialer.dialCount() != 2 {
		t.Errorf("dialed %d times, want 2", dialer.dialCount())
	}
}

func TestHealthFailureReconnects(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, stdioConfig("files"))

	var mu sync.Mutex
	var transitions []State
	m.Subscribe(func(ev StatusEvent) {
		mu.Lock()
		transitions = append(transitions, ev.To)
		mu.Unlock()
	})

	if _, err := m.GetOrCreate(context.Background(), "files"); err != nil {
		t.Fatal(err)
	}
	m.Start()

	dialer.lastConn().setFailing(true)

	waitFor(t, "reconnect", func() bool {
		return dialer.dialCount() >= 2
	})
	waitFor(t, "connected state", func() bool {
		state, _ := providerState(m, "files")
		return state == StateConnected
	})

	mu.Lock()
	defer mu.Unlock()
	sawReconnecting := false
	for _, s := range transitions {
		if s == StateReconnecting {
			sawReconnecting = true
		}
	}
	if !sawReconnecting {
		t.Errorf("transitions %v never passed through reconnecting", transitions)
	}
}

func TestReconnectReleasesRetryContext(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, stdioConfig("files"))

	if _, err := m.GetOrCreate(context.Background(), "files"); err != nil {
		t.Fatal(err)
	}
	m.Start()
	dialer.lastConn().setFailing(true)

	waitFor(t, "reconnect", func() bool {
		return dialer.dialCount() >= 2
	})
	waitFor(t, "connected state", func() bool {
		state, _ := providerState(m, "files")
		return state == StateConnected
	})

	// The finished backoff task must release its derived context rather
	// than hold it until manager shutdown.
	if dialer.dialContext(1).Err() == nil {
		t.Error("retry context still live after successful reconnect")
	}
}

func TestHungHealthProbeTimesOutAndReconnects(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, stdioConfig("files"))

	if _, err := m.GetOrCreate(context.Background(), "files"); err != nil {
		t.Fatal(err)
	}
	m.Start()
	dialer.lastConn().setHanging(true)

	// The probe deadline turns the hang into a failed check; without it
	// the single health goroutine would block forever.
	waitFor(t, "reconnect after hung probe", func() bool {
		return dialer.dialCount() >= 2
	})
	waitFor(t, "connected state", func() bool {
		state, _ := providerState(m, "files")
		return state == StateConnected
	})
}

func TestBackoffExhaustionParksDisconnected(t *testing.T) {
	// First dial succeeds; every later one fails, so the four backoff
	// attempts all fail.
	dialer := &fakeDialer{failFrom: 2}
	m := newTestManager(t, dialer, stdioConfig("files"))

	if _, err := m.GetOrCreate(context.Background(), "files"); err != nil {
		t.Fatal(err)
	}
	m.Start()
	dialer.lastConn().setFailing(true)

	waitFor(t, "disconnected after exhausted retries", func() bool {
		state, reason := providerState(m, "files")
		return state == StateDisconnected && reason == "Max retries exceeded"
	})

	// 1 initial connect + 4 backoff attempts; no further automatic dials.
	settled := dialer.dialCount()
	if settled != 5 {
		t.Errorf("dialed %d times, want 5", settled)
	}
	time.Sleep(50 * time.Millisecond)
	if dialer.dialCount() != settled {
		t.Errorf("provider was auto-retried after exhaustion")
	}

	// An explicit call is allowed to try again.
	if _, err := m.GetOrCreate(context.Background(), "files"); err == nil {
		t.Fatal("expected explicit retry to fail while dialer refuses")
	}
	if dialer.dialCount() != settled+1 {
		t.Errorf("explicit GetOrCreate did not redial")
	}
}

func TestReconcileEvictsAndReconnects(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, stdioConfig("files"), stdioConfig("search"))
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, "files"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetOrCreate(ctx, "search"); err != nil {
		t.Fatal(err)
	}
	filesConn := dialer.conns[0]

	changed := stdioConfig("files")
	changed.Args = []string{"--workdir", "/tmp"}
	if err := m.Reconcile(ctx, []ProviderConfig{changed}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	// search was removed: evicted and closed.
	if _, err := m.GetOrCreate(ctx, "search"); err == nil {
		t.Error("evicted provider still resolvable")
	}
	searchConn := dialer.conns[1]
	searchConn.mu.Lock()
	closed := searchConn.closed
	searchConn.mu.Unlock()
	if !closed {
		t.Error("evicted provider connection not closed")
	}

	// files changed params: old connection closed, new dial made.
	filesConn.mu.Lock()
	oldClosed := filesConn.closed
	filesConn.mu.Unlock()
	if !oldClosed {
		t.Error("changed provider's old connection not closed")
	}
	if dialer.dialCount() != 3 {
		t.Errorf("dialed %d times, want 3 (two initial + one reconnect)", dialer.dialCount())
	}
	state, _ := providerState(m, "files")
	if state != StateConnected {
		t.Errorf("files state = %s, want connected", state)
	}
}

func TestReconcileAdoptsConfigWhileReconnecting(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager([]ProviderConfig{stdioConfig("files")}, Options{
		HealthInterval: 5 * time.Millisecond,
		HealthTimeout:  5 * time.Millisecond,
		// An hour-long delay parks the provider in reconnecting for the
		// duration of the test.
		Backoff: []time.Duration{time.Hour},
		Dial:    dialer.dial,
		Logger:  slog.New(slog.DiscardHandler),
	})
	t.Cleanup(m.Close)
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, "files"); err != nil {
		t.Fatal(err)
	}
	m.Start()
	dialer.lastConn().setFailing(true)

	waitFor(t, "reconnecting state", func() bool {
		state, _ := providerState(m, "files")
		return state == StateReconnecting
	})

	changed := stdioConfig("files")
	changed.Args = []string{"--workdir", "/tmp"}
	if err := m.Reconcile(ctx, []ProviderConfig{changed}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	// The stale backoff task is stopped and the new parameters dialed.
	state, _ := providerState(m, "files")
	if state != StateConnected {
		t.Errorf("state = %s, want connected after reconcile", state)
	}
	args := dialer.lastCfg().Args
	if len(args) != 2 || args[0] != "--workdir" {
		t.Errorf("reconnect used stale config: args = %v", args)
	}
	if dialer.dialCount() != 2 {
		t.Errorf("dialed %d times, want 2", dialer.dialCount())
	}
}

func TestReconcileUnchangedProviderKeepsConnection(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, stdioConfig("files"))
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, "files"); err != nil {
		t.Fatal(err)
	}
	if err := m.Reconcile(ctx, []ProviderConfig{stdioConfig("files")}); err != nil {
		t.Fatal(err)
	}
	if dialer.dialCount() != 1 {
		t.Errorf("unchanged provider was redialed")
	}
}

func TestSubscriberPanicDoesNotCorruptTransition(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, stdioConfig("files"))

	m.Subscribe(func(ev StatusEvent) {
		panic("bad subscriber")
	})

	if _, err := m.GetOrCreate(context.Background(), "files"); err != nil {
		t.Fatalf("GetOrCreate with panicking subscriber: %v", err)
	}
	state, _ := providerState(m, "files")
	if state != StateConnected {
		t.Errorf("state = %s, want connected", state)
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, stdioConfig("files"))

	var mu sync.Mutex
	count := 0
	remove := m.Subscribe(func(ev StatusEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	remove()

	if _, err := m.GetOrCreate(context.Background(), "files"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("removed subscriber received %d events", count)
	}
}

func TestPromptCapabilityNegotiatedAtConnect(t *testing.T) {
	ctx := context.Background()

	withPrompts := &fakeDialer{prompts: true}
	m := newTestManager(t, withPrompts, stdioConfig("files"))
	if _, err := m.GetOrCreate(ctx, "files"); err != nil {
		t.Fatal(err)
	}
	prompts, err := m.ListPrompts(ctx, "files")
	if err != nil {
		t.Fatalf("ListPrompts: %v", err)
	}
	if len(prompts) != 1 || prompts[0].Name != "greeting" {
		t.Errorf("prompts = %+v", prompts)
	}

	plain := &fakeDialer{}
	m2 := newTestManager(t, plain, stdioConfig("files"))
	if _, err := m2.GetOrCreate(ctx, "files"); err != nil {
		t.Fatal(err)
	}
	if _, err := m2.ListPrompts(ctx, "files"); !errors.Is(err, ErrPromptsUnsupported) {
		t.Errorf("err = %v, want ErrPromptsUnsupported", err)
	}
}

func TestCallToolRequiresConnectedProvider(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, stdioConfig("files"))
	ctx := context.Background()

	if _, err := m.CallTool(ctx, "files", "echo", nil); err == nil {
		t.Error("CallTool succeeded on a disconnected provider")
	}

	if _, err := m.GetOrCreate(ctx, "files"); err != nil {
		t.Fatal(err)
	}
	out, err := m.CallTool(ctx, "files", "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if out != "ok:echo" {
		t.Errorf("out = %q", out)
	}
}

func TestDisconnectAllDisposesConnections(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, stdioConfig("files"), stdioConfig("search"))
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, "files"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetOrCreate(ctx, "search"); err != nil {
		t.Fatal(err)
	}

	m.DisconnectAll()

	for _, conn := range dialer.conns {
		conn.mu.Lock()
		closed := conn.closed
		conn.mu.Unlock()
		if !closed {
			t.Error("connection left open after DisconnectAll")
		}
	}
	for _, s := range m.Status() {
		if s.State != StateDisconnected {
			t.Errorf("provider %s state = %s after DisconnectAll", s.ID, s.State)
		}
	}
}

func TestListAllToolsSkipsFailingProviders(t *testing.T) {
	// Second dial (search, alphabetical) fails.
	dialer := &fakeDialer{failFrom: 2}
	m := newTestManager(t, dialer, stdioConfig("files"), stdioConfig("search"))

	all := m.ListAllTools(context.Background())
	if len(all) != 1 {
		t.Fatalf("aggregated %d providers, want 1", len(all))
	}
	if _, ok := all["files"]; !ok {
		t.Errorf("files missing from aggregation: %v", all)
	}
}
