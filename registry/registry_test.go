package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/botforgehq/botforge/messenger"
	"github.com/botforgehq/botforge/model"
)

// fakeClient is a scriptable messenger.Client. Run blocks until the
// context is canceled; updates injected with inject() go through the
// installed handler synchronously.
type fakeClient struct {
	name     string
	closeErr []error // consumed per Close call; nil entry = success

	mu         sync.Mutex
	handler    messenger.Handler
	running    bool
	closeCalls int
	sent       []sentMessage
	menuEdits  int
}

type sentMessage struct {
	ChatID int64
	Text   string
	Menu   []messenger.Button
}

func (c *fakeClient) Name() string { return c.name }

func (c *fakeClient) Run(ctx context.Context, h messenger.Handler) error {
	c.mu.Lock()
	c.handler = h
	c.running = true
	c.mu.Unlock()
	<-ctx.Done()
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

// inject drives one update through the installed handler. Injecting
// into a session whose Run loop has exited fails the test: a dead
// poller must never look like it is still serving traffic.
func (c *fakeClient) inject(t *testing.T, u messenger.Update) {
	t.Helper()
	c.mu.Lock()
	h := c.handler
	running := c.running
	c.mu.Unlock()
	if h == nil || !running {
		t.Fatalf("update injected into a dead session (%s)", c.name)
	}
	h(context.Background(), u)
}

func (c *fakeClient) Send(_ context.Context, chatID int64, text string, menu []messenger.Button) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{ChatID: chatID, Text: text, Menu: menu})
	return nil
}

func (c *fakeClient) EditMenu(_ context.Context, _ int64, _ int, _ []messenger.Button) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.menuEdits++
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.closeCalls
	c.closeCalls++
	if idx < len(c.closeErr) {
		return c.closeErr[idx]
	}
	return nil
}

func (c *fakeClient) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// awaitRunning waits for the client's Run loop to come up. Tests use a
// zero settle delay, so Start can return before the loop goroutine has
// been scheduled.
func awaitRunning(t *testing.T, c *fakeClient) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.isRunning() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("poll loop for %s never came up", c.name)
}

func (c *fakeClient) sentMessages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

// fakeDialer hands out one fakeClient per Open call, in order.
type fakeDialer struct {
	mu      sync.Mutex
	clients []*fakeClient
	openErr error
	opened  int
}

func (d *fakeDialer) Open(string) (messenger.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	if d.opened >= len(d.clients) {
		d.clients = append(d.clients, &fakeClient{name: fmt.Sprintf("bot%d", d.opened)})
	}
	c := d.clients[d.opened]
	d.opened++
	return c, nil
}

type fakeGraphs struct {
	graph model.Graph
	cfg   *model.AIConfig
}

func (g *fakeGraphs) LoadGraph(string) (model.Graph, error)        { return g.graph, nil }
func (g *fakeGraphs) LoadAIConfig(string) (*model.AIConfig, error) { return g.cfg, nil }

type staticCompleter string

func (s staticCompleter) Complete(context.Context, *model.AIConfig, string) string {
	return string(s)
}

func newTestRegistry(d *fakeDialer, g Graphs) *Registry {
	return New(d, g, staticCompleter("hello"), WithSettleDelay(0), WithStopGrace(200*time.Millisecond))
}

func TestStartStop(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(d, &fakeGraphs{})

	s, err := r.Start(context.Background(), "tok-1", "shopbot")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State() != model.SessionRunning {
		t.Fatalf("expected running, got %s", s.State())
	}

	r.Stop("tok-1")
	if _, ok := r.Lookup("tok-1"); ok {
		t.Fatal("session still registered after stop")
	}
	if got := d.clients[0].closeCalls; got != 1 {
		t.Fatalf("expected 1 close call, got %d", got)
	}
}

func TestDoubleStartKeepsOneLiveSession(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(d, &fakeGraphs{})

	if _, err := r.Start(context.Background(), "tok-1", "shopbot"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := r.Start(context.Background(), "tok-1", "shopbot"); err != nil {
		t.Fatalf("second start: %v", err)
	}
	awaitRunning(t, d.clients[1])

	if len(r.List()) != 1 {
		t.Fatalf("expected exactly one session, got %d", len(r.List()))
	}
	// Old poller fully torn down, new one live.
	if d.clients[0].isRunning() {
		t.Fatal("first poller leaked")
	}
	if d.clients[0].closeCalls != 1 {
		t.Fatalf("first client not closed: %d calls", d.clients[0].closeCalls)
	}
	if !d.clients[1].isRunning() {
		t.Fatal("second poller not running")
	}
	r.ShutdownAll()
}

func TestConcurrentStartsConverge(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(d, &fakeGraphs{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Start(context.Background(), "tok-1", "racer")
		}()
	}
	wg.Wait()

	if len(r.List()) != 1 {
		t.Fatalf("expected one live session after racing starts, got %d", len(r.List()))
	}
	// Starts serialize on the token lock, so the last client opened is the
	// surviving session; every earlier one was stopped before its successor's
	// Start returned.
	d.mu.Lock()
	survivor := d.clients[d.opened-1]
	d.mu.Unlock()
	awaitRunning(t, survivor)
	running := 0
	for _, c := range d.clients {
		if c.isRunning() {
			running++
		}
	}
	if running != 1 {
		t.Fatalf("expected exactly one live poller, got %d", running)
	}
	r.ShutdownAll()
}

func TestStartOutlivesCallerContext(t *testing.T) {
	d := &fakeDialer{}
	r := newTestRegistry(d, &fakeGraphs{})

	// Start with a short-lived context, the way an HTTP handler would.
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := r.Start(ctx, "tok-1", "longlived"); err != nil {
		t.Fatalf("start: %v", err)
	}
	c := d.clients[0]
	awaitRunning(t, c)

	cancel()
	time.Sleep(20 * time.Millisecond)
	if !c.isRunning() {
		t.Fatal("poll loop died when the caller's context was canceled")
	}
	if len(r.List()) != 1 {
		t.Fatalf("expected the session to stay registered, got %d", len(r.List()))
	}

	// Only the registry's own stop tears the loop down.
	r.Stop("tok-1")
	if c.isRunning() {
		t.Fatal("poll loop still live after stop")
	}
}

func TestStopUnknownTokenIsNoop(t *testing.T) {
	r := newTestRegistry(&fakeDialer{}, &fakeGraphs{})
	r.Stop("no-such-token") // must not panic or block
}

func TestStartFailureLeavesNoEntry(t *testing.T) {
	d := &fakeDialer{openErr: errors.New("401 unauthorized")}
	r := newTestRegistry(d, &fakeGraphs{})

	_, err := r.Start(context.Background(), "bad-tok", "broken")
	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected *StartError, got %v", err)
	}
	if _, ok := r.Lookup("bad-tok"); ok {
		t.Fatal("failed start left a registry entry")
	}
}

func TestShutdownAllEmptiesRegistryDespiteCloseFailures(t *testing.T) {
	stubborn := errors.New("connection reset")
	d := &fakeDialer{clients: []*fakeClient{
		{name: "a", closeErr: []error{stubborn, stubborn, stubborn}},
		{name: "b"},
		{name: "c", closeErr: []error{stubborn, stubborn, stubborn}},
	}}
	r := newTestRegistry(d, &fakeGraphs{})

	for i, tok := range []string{"tok-a", "tok-b", "tok-c"} {
		if _, err := r.Start(context.Background(), tok, fmt.Sprintf("bot-%d", i)); err != nil {
			t.Fatalf("start %s: %v", tok, err)
		}
	}

	r.ShutdownAll()
	if got := len(r.List()); got != 0 {
		t.Fatalf("registry not empty after shutdown: %d sessions", got)
	}
}

func TestShutdownAllWithZeroSessions(t *testing.T) {
	r := newTestRegistry(&fakeDialer{}, &fakeGraphs{})
	r.ShutdownAll()
}

func TestCloseRetriesOnRateLimit(t *testing.T) {
	d := &fakeDialer{clients: []*fakeClient{{
		name: "limited",
		closeErr: []error{
			&messenger.RateLimitError{RetryAfter: time.Millisecond},
			&messenger.RateLimitError{RetryAfter: time.Millisecond},
			nil,
		},
	}}}
	r := newTestRegistry(d, &fakeGraphs{})

	if _, err := r.Start(context.Background(), "tok-1", "limited"); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.Stop("tok-1")

	if got := d.clients[0].closeCalls; got != 3 {
		t.Fatalf("expected 3 close attempts, got %d", got)
	}
	if _, ok := r.Lookup("tok-1"); ok {
		t.Fatal("entry not removed")
	}
}

func TestCloseGivesUpAfterBudget(t *testing.T) {
	rl := &messenger.RateLimitError{RetryAfter: time.Millisecond}
	d := &fakeDialer{clients: []*fakeClient{{
		name:     "hopeless",
		closeErr: []error{rl, rl, rl, rl},
	}}}
	r := newTestRegistry(d, &fakeGraphs{})

	if _, err := r.Start(context.Background(), "tok-1", "hopeless"); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.Stop("tok-1")

	if got := d.clients[0].closeCalls; got != 3 {
		t.Fatalf("close attempts must stop at the budget: got %d", got)
	}
	if _, ok := r.Lookup("tok-1"); ok {
		t.Fatal("entry must be removed even when close never succeeds")
	}
}

func TestHandlerRoutesUpdates(t *testing.T) {
	graph := model.Graph{
		{ID: "start", Text: "Welcome", Options: []string{"Menu"}},
		{ID: "menu", Text: "The menu", Next: "prices"},
		{ID: "prices", Text: "Coffee is 3 euros"},
	}
	d := &fakeDialer{}
	r := newTestRegistry(d, &fakeGraphs{graph: graph})

	if _, err := r.Start(context.Background(), "tok-1", "shopbot"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.ShutdownAll()
	c := d.clients[0]
	awaitRunning(t, c)

	c.inject(t, messenger.Update{Kind: messenger.KindCommand, ChatID: 7, Command: "start"})
	sent := c.sentMessages()
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "Welcome") {
		t.Fatalf("unexpected /start replies: %+v", sent)
	}
	if len(sent[0].Menu) != 1 || sent[0].Menu[0].Data != "menu" {
		t.Fatalf("menu not attached: %+v", sent[0].Menu)
	}

	// Free-text id match double-emits: the node, then its next node.
	c.inject(t, messenger.Update{Kind: messenger.KindText, ChatID: 7, Text: "menu"})
	sent = c.sentMessages()
	if len(sent) != 3 {
		t.Fatalf("expected 3 total sends after free-text match, got %d", len(sent))
	}
	if !strings.Contains(sent[1].Text, "The menu") || !strings.Contains(sent[2].Text, "Coffee is 3 euros") {
		t.Fatalf("chained responses out of order: %+v", sent[1:])
	}
}

func TestHandlerAIDelegation(t *testing.T) {
	cfg := &model.AIConfig{Provider: model.ProviderOpenAI, APIKey: "k"}
	d := &fakeDialer{}
	r := newTestRegistry(d, &fakeGraphs{graph: model.Graph{}, cfg: cfg})

	if _, err := r.Start(context.Background(), "tok-1", "aibot"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.ShutdownAll()
	c := d.clients[0]
	awaitRunning(t, c)

	c.inject(t, messenger.Update{Kind: messenger.KindText, ChatID: 7, Text: "what is the meaning of life"})
	sent := c.sentMessages()
	if len(sent) != 1 || sent[0].Text != "AI: hello" {
		t.Fatalf("expected AI-prefixed reply, got %+v", sent)
	}
}
