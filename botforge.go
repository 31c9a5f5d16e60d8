// Package botforge is the top-level entry point for the BotForge platform.
//
// Use the Builder to compose a custom BotForge application:
//
//	app, err := botforge.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := botforge.NewBuilder().
//	    WithStore(myStore).
//	    WithDialer(myDialer).
//	    WithNotifier(myNotifier).
//	    Build()
package botforge

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/botforgehq/botforge/dialog"
	"github.com/botforgehq/botforge/httpapi"
	"github.com/botforgehq/botforge/messenger"
	"github.com/botforgehq/botforge/model"
	"github.com/botforgehq/botforge/registry"
	"github.com/botforgehq/botforge/store"
)

// Config holds top-level configuration for a BotForge application.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (default ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.botforge").
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// RevealChunk is how many runes each typewriter step reveals (default 24).
	RevealChunk int

	// RevealDelay is the pause between typewriter steps (default 200ms).
	RevealDelay time.Duration
}

// Builder constructs a BotForge App.
type Builder struct {
	config   Config
	store    store.Store
	dialer   messenger.Dialer
	ai       dialog.Completer
	notifier registry.Notifier
	mailer   httpapi.Mailer
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the persistence layer implementation.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithDialer sets the messenger dialer used to open bot connections.
func (b *Builder) WithDialer(d messenger.Dialer) *Builder {
	b.dialer = d
	return b
}

// WithAI sets the fallback completer used for unmatched free text.
func (b *Builder) WithAI(c dialog.Completer) *Builder {
	b.ai = c
	return b
}

// WithNotifier sets the ops notifier for session lifecycle events.
func (b *Builder) WithNotifier(n registry.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithMailer sets the mailer used to deliver verification codes.
func (b *Builder) WithMailer(m httpapi.Mailer) *Builder {
	b.mailer = m
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	opts := []registry.Option{}
	if b.notifier != nil {
		opts = append(opts, registry.WithNotifier(b.notifier))
	}
	reg := registry.New(b.dialer, storeGraphs{b.store}, b.ai, opts...)

	handler := httpapi.New(b.store, reg, b.mailer)

	return &App{
		config:   b.config,
		store:    b.store,
		registry: reg,
		handler:  handler,
	}, nil
}

// storeGraphs adapts the persistence layer to the registry's read-only
// graph loader.
type storeGraphs struct {
	store store.Store
}

func (g storeGraphs) LoadGraph(token string) (model.Graph, error) {
	return g.store.LoadGraph(token)
}

func (g storeGraphs) LoadAIConfig(token string) (*model.AIConfig, error) {
	return g.store.LoadAIConfig(token)
}

// App is a running BotForge application.
type App struct {
	config   Config
	store    store.Store
	registry *registry.Registry
	handler  *httpapi.Handler
}

// Registry returns the session registry for direct access.
func (a *App) Registry() *registry.Registry { return a.registry }

// Start starts the HTTP server. Blocks until ctx is done, then stops
// every running bot session and closes the store.
func (a *App) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("BotForge server listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	a.registry.ShutdownAll()
	return a.store.Close()
}
