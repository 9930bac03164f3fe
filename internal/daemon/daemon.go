// Package daemon provides the background sync daemon.
//
// The daemon:
// 1. Runs a full sync cycle (fetch + send) on a fixed interval
// 2. Watches a trigger directory so other processes can request an
//    immediate sync by dropping a file into it
// 3. Applies account events reported by the transport
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zonesync/zonesync/internal/transport"
)

// Syncer is the coordinator surface the daemon drives.
type Syncer interface {
	Sync(ctx context.Context) error
	HandleAccountEvent(ev transport.AccountEvent) error
	PendingCount() int
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often a full sync cycle runs unprompted.
	SyncInterval time.Duration

	// DebounceInterval is how long to wait before acting on trigger
	// files. This batches rapid trigger bursts into one sync.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon drives periodic and on-demand sync cycles for one replica.
type Daemon struct {
	syncer     Syncer
	events     <-chan transport.AccountEvent
	triggerDir string
	config     *Config

	watcher      *fsnotify.Watcher
	triggerQueue map[string]time.Time // trigger file -> timestamp
	triggerMu    sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - syncer: the replica's sync coordinator
//   - events: the transport's account event stream (may be nil)
//   - triggerDir: directory watched for sync trigger files
//
// Use Start() to begin syncing.
func New(syncer Syncer, events <-chan transport.AccountEvent, triggerDir string) (*Daemon, error) {
	return NewWithConfig(syncer, events, triggerDir, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer Syncer, events <-chan transport.AccountEvent, triggerDir string, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if triggerDir == "" {
		return nil, fmt.Errorf("triggerDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:       syncer,
		events:       events,
		triggerDir:   triggerDir,
		config:       config,
		watcher:      watcher,
		triggerQueue: make(map[string]time.Time),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Run an initial full sync cycle
// 2. Start watching the trigger directory
// 3. Sync periodically and on trigger
// 4. Apply account events as they arrive
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := os.MkdirAll(d.triggerDir, 0o755); err != nil {
		return fmt.Errorf("failed to create trigger directory: %w", err)
	}

	// Initial sync surfaces connectivity problems at startup instead of
	// one interval later. Incomplete rounds are retried on schedule.
	if err := d.runSync(ctx); err != nil {
		d.config.Logger.Printf("Warning: initial sync failed: %v", err)
	}

	if err := d.watcher.Add(d.triggerDir); err != nil {
		return fmt.Errorf("failed to watch trigger directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.triggerDir)

	d.wg.Add(3)
	go d.watchTriggerEvents()
	go d.processTriggerQueue()
	go d.syncPeriodically()

	if d.events != nil {
		d.wg.Add(1)
		go d.watchAccountEvents()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// runSync executes one full sync cycle.
func (d *Daemon) runSync(ctx context.Context) error {
	start := time.Now()
	err := d.syncer.Sync(ctx)
	if err != nil {
		return err
	}
	d.config.Logger.Printf("Sync complete in %v, %d pending", time.Since(start).Round(time.Millisecond), d.syncer.PendingCount())
	return nil
}

// watchTriggerEvents monitors the trigger directory and queues requests.
func (d *Daemon) watchTriggerEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			d.config.Logger.Printf("Sync trigger: %s", filepath.Base(event.Name))
			d.queueTrigger(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueTrigger records a trigger file with its arrival time.
func (d *Daemon) queueTrigger(path string) {
	d.triggerMu.Lock()
	defer d.triggerMu.Unlock()

	d.triggerQueue[path] = time.Now()
}

// processTriggerQueue drains matured triggers into sync cycles.
func (d *Daemon) processTriggerQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processMaturedTriggers()
		}
	}
}

// processMaturedTriggers runs one sync for all triggers older than the
// debounce interval, then removes their files.
func (d *Daemon) processMaturedTriggers() {
	d.triggerMu.Lock()
	now := time.Now()
	var matured []string
	for path, queuedAt := range d.triggerQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		matured = append(matured, path)
		delete(d.triggerQueue, path)
	}
	d.triggerMu.Unlock()

	if len(matured) == 0 {
		return
	}

	if err := d.runSync(d.ctx); err != nil {
		d.config.Logger.Printf("Error syncing on trigger: %v", err)
	}

	for _, path := range matured {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.config.Logger.Printf("Error removing trigger file %s: %v", path, err)
		}
	}
}

// syncPeriodically runs sync cycles on the configured interval.
func (d *Daemon) syncPeriodically() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.runSync(d.ctx); err != nil {
				d.config.Logger.Printf("Error in periodic sync: %v", err)
			}
		}
	}
}

// watchAccountEvents applies account transitions as they arrive.
func (d *Daemon) watchAccountEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-d.events:
			if !ok {
				return
			}
			d.config.Logger.Printf("Account event: %s", ev)
			if err := d.syncer.HandleAccountEvent(ev); err != nil {
				d.config.Logger.Printf("Error handling account event %s: %v", ev, err)
				continue
			}
			// Sign-in queues a full re-upload; push it out promptly.
			if ev == transport.AccountSignIn {
				if err := d.runSync(d.ctx); err != nil {
					d.config.Logger.Printf("Error syncing after sign-in: %v", err)
				}
			}
		}
	}
}
