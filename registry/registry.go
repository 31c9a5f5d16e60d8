// Package registry is the process-wide supervisor of bot sessions.
//
// Each session is one long-poll loop against the messaging provider,
// bound to a single bot token. The registry owns the full lifecycle:
// start, restart-on-duplicate-start, and drain-on-shutdown. Start and
// stop are serialized per token, so at most one live session exists per
// token at any instant.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/botforgehq/botforge/dialog"
	"github.com/botforgehq/botforge/messenger"
	"github.com/botforgehq/botforge/metrics"
	"github.com/botforgehq/botforge/model"
)

// Graphs is the persistence view a session needs: the latest node graph
// and AI config for its token, re-read on every inbound event.
type Graphs interface {
	LoadGraph(token string) (model.Graph, error)
	LoadAIConfig(token string) (*model.AIConfig, error)
}

// Notifier receives session lifecycle notices (ops channel). Nil is fine.
type Notifier interface {
	Notify(text string)
}

// StartError wraps a failure to construct or launch a session. The
// registry entry is already rolled back when the caller sees it.
type StartError struct {
	Token string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("starting session for token %s: %v", model.Truncate(e.Token, 12), e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// StopError reports that a client could not be closed cleanly after the
// retry budget. It is logged, never returned: the entry is removed
// regardless.
type StopError struct {
	Token string
	Err   error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stopping session for token %s: %v", model.Truncate(e.Token, 12), e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }

const (
	defaultStopGrace     = 2 * time.Second
	defaultSettleDelay   = 500 * time.Millisecond
	defaultCloseAttempts = 3
)

// Session is one running bot: its token, display name, open client, and
// the cancellable dispatch loop.
type Session struct {
	Token     string
	Name      string
	StartedAt time.Time

	client messenger.Client
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state model.SessionState
}

// State returns the session's lifecycle state.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st model.SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Info is a read-only session snapshot for listings.
type Info struct {
	Token     string             `json:"token"`
	Name      string             `json:"name"`
	State     model.SessionState `json:"state"`
	StartedAt time.Time          `json:"started_at"`
}

// Registry maps bot tokens to live sessions.
type Registry struct {
	dialer   messenger.Dialer
	graphs   Graphs
	ai       dialog.Completer
	notifier Notifier

	stopGrace     time.Duration
	settleDelay   time.Duration
	closeAttempts int

	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithNotifier installs an ops notifier for lifecycle notices.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// WithSettleDelay overrides the post-start settling delay (tests use 0).
func WithSettleDelay(d time.Duration) Option {
	return func(r *Registry) { r.settleDelay = d }
}

// WithStopGrace overrides the cancellation-acknowledgement timeout.
func WithStopGrace(d time.Duration) Option {
	return func(r *Registry) { r.stopGrace = d }
}

// New creates an empty Registry. The dialer opens messaging clients, the
// graphs collaborator serves node graphs and AI configs, and ai handles
// free-text misses.
func New(dialer messenger.Dialer, graphs Graphs, ai dialog.Completer, opts ...Option) *Registry {
	r := &Registry{
		dialer:        dialer,
		graphs:        graphs,
		ai:            ai,
		stopGrace:     defaultStopGrace,
		settleDelay:   defaultSettleDelay,
		closeAttempts: defaultCloseAttempts,
		sessions:      make(map[string]*Session),
		locks:         make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// tokenLock returns the per-token mutex, creating it on first use. Locks
// are never removed; the token set is small (one per configured bot).
func (r *Registry) tokenLock(token string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lk, ok := r.locks[token]
	if !ok {
		lk = &sync.Mutex{}
		r.locks[token] = lk
	}
	return lk
}

// Start launches a session for token. If one is already live it is fully
// stopped first, so two near-simultaneous starts still converge on a
// single poller. Returns once the dispatch loop has had its settling
// window; construction failures roll back the entry and surface as a
// *StartError.
func (r *Registry) Start(ctx context.Context, token, name string) (*Session, error) {
	lk := r.tokenLock(token)
	lk.Lock()
	defer lk.Unlock()

	if old := r.lookup(token); old != nil {
		log.Printf("registry: session for %q already running, restarting", name)
		r.stopSession(old)
	}

	client, err := r.dialer.Open(token)
	if err != nil {
		metrics.SessionStarts.WithLabelValues("error").Inc()
		return nil, &StartError{Token: token, Err: err}
	}

	// The session must outlive the caller: admin requests return long
	// before the poll loop ends, so the loop context is detached from the
	// caller's cancellation. Only stopSession cancels it.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		Token:     token,
		Name:      name,
		StartedAt: time.Now().UTC(),
		client:    client,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     model.SessionStarting,
	}

	r.mu.Lock()
	r.sessions[token] = s
	r.mu.Unlock()

	go func() {
		defer close(s.done)
		if err := client.Run(sctx, r.handler(token, client)); err != nil && sctx.Err() == nil {
			log.Printf("registry: dispatch loop for %q exited: %v", name, err)
		}
	}()

	// Settling window in lieu of an explicit readiness signal from the
	// poll loop.
	if r.settleDelay > 0 {
		select {
		case <-time.After(r.settleDelay):
		case <-s.done:
			// Loop died before settling: roll back so no partial entry
			// remains.
			r.remove(token, s)
			cancel()
			r.closeClient(token, client)
			metrics.SessionStarts.WithLabelValues("error").Inc()
			return nil, &StartError{Token: token, Err: errors.New("dispatch loop exited during startup")}
		}
	}

	s.setState(model.SessionRunning)
	metrics.SessionStarts.WithLabelValues("ok").Inc()
	metrics.SessionsRunning.Inc()
	r.notify(fmt.Sprintf("bot %q session started", name))
	log.Printf("registry: session for %q running", name)
	return s, nil
}

// Stop tears down the session for token. It is a no-op for unknown
// tokens. Close failures are logged as a StopError; the entry is removed
// regardless.
func (r *Registry) Stop(token string) {
	lk := r.tokenLock(token)
	lk.Lock()
	defer lk.Unlock()

	if s := r.lookup(token); s != nil {
		r.stopSession(s)
	}
}

// ShutdownAll drains every session. Safe with zero sessions; a failing
// teardown never blocks the others.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	tokens := make([]string, 0, len(r.sessions))
	for token := range r.sessions {
		tokens = append(tokens, token)
	}
	r.mu.Unlock()

	for _, token := range tokens {
		r.Stop(token)
	}
}

// Lookup returns the live session for token, if any.
func (r *Registry) Lookup(token string) (*Session, bool) {
	s := r.lookup(token)
	return s, s != nil
}

// List returns snapshots of all live sessions, ordered by name.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Info{
			Token:     s.Token,
			Name:      s.Name,
			State:     s.State(),
			StartedAt: s.StartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) lookup(token string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[token]
}

func (r *Registry) remove(token string, s *Session) {
	r.mu.Lock()
	if r.sessions[token] == s {
		delete(r.sessions, token)
	}
	r.mu.Unlock()
}

// stopSession cancels the dispatch loop, waits out the grace period,
// closes the client with retries, and removes the entry. Callers hold
// the token lock.
func (r *Registry) stopSession(s *Session) {
	s.setState(model.SessionStopping)
	s.cancel()

	select {
	case <-s.done:
		log.Printf("registry: polling for %q stopped", s.Name)
	case <-time.After(r.stopGrace):
		log.Printf("registry: polling for %q did not acknowledge cancellation within %s", s.Name, r.stopGrace)
	}

	r.closeClient(s.Token, s.client)

	r.remove(s.Token, s)
	s.setState(model.SessionStopped)
	metrics.SessionsRunning.Dec()
	r.notify(fmt.Sprintf("bot %q session stopped", s.Name))
}

// closeClient releases the underlying client, honoring the provider's
// retry-after hint up to the attempt budget. Exhausting the budget logs
// a StopError and gives up.
func (r *Registry) closeClient(token string, client messenger.Client) {
	var lastErr error
	for attempt := 0; attempt < r.closeAttempts; attempt++ {
		err := client.Close()
		if err == nil {
			return
		}
		lastErr = err

		var rl *messenger.RateLimitError
		if errors.As(err, &rl) {
			log.Printf("registry: close rate limited, retrying in %s", rl.RetryAfter)
			time.Sleep(rl.RetryAfter)
			continue
		}
		break
	}
	log.Print(&StopError{Token: token, Err: lastErr})
}

func (r *Registry) notify(text string) {
	if r.notifier != nil {
		r.notifier.Notify(text)
	}
}
