// Package daemon runs the bridge unattended: a ticker drives periodic
// fetches on both directions, and an fsnotify watch on the staging
// directories drives pushes as soon as a batch file lands. Push
// triggers are debounced so one fetch writing several batches causes a
// single drain.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Hooks are the pipeline entry points the daemon drives. Each hook owns
// its own error reporting; a hook error is logged and the loop carries
// on.
type Hooks struct {
	FetchGeo func(ctx context.Context) error
	FetchCMS func(ctx context.Context) error
	PushGeo  func(ctx context.Context) error
	PushCMS  func(ctx context.Context) error
}

// Config wires the watched staging directories and cadence.
type Config struct {
	IncidentsDir   string
	AttachmentsDir string
	UpdatesDir     string
	FetchInterval  time.Duration
	Debounce       time.Duration
}

// Daemon is the unattended run loop.
type Daemon struct {
	cfg   Config
	hooks Hooks
	log   *zap.Logger
}

// New builds a daemon. A zero Debounce defaults to two seconds.
func New(cfg Config, hooks Hooks, log *zap.Logger) *Daemon {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Daemon{cfg: cfg, hooks: hooks, log: log}
}

// Run blocks until ctx is canceled. It performs one fetch+push cycle on
// startup so a restart drains whatever the previous process left
// queued.
func (d *Daemon) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range []string{d.cfg.IncidentsDir, d.cfg.AttachmentsDir, d.cfg.UpdatesDir} {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	ticker := time.NewTicker(d.cfg.FetchInterval)
	defer ticker.Stop()

	// Debounce timers start stopped; a queue event arms them.
	geoTimer := time.NewTimer(0)
	stopTimer(geoTimer)
	cmsTimer := time.NewTimer(0)
	stopTimer(cmsTimer)

	d.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			d.fetch(ctx)

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !d.isBatchEvent(event) {
				continue
			}
			switch filepath.Dir(event.Name) {
			case filepath.Clean(d.cfg.UpdatesDir):
				resetTimer(cmsTimer, d.cfg.Debounce)
			default:
				resetTimer(geoTimer, d.cfg.Debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.log.Warn("watcher error", zap.Error(err))

		case <-geoTimer.C:
			d.run(ctx, "push geo", d.hooks.PushGeo)

		case <-cmsTimer.C:
			d.run(ctx, "push cms", d.hooks.PushCMS)
		}
	}
}

// isBatchEvent reports whether the event is a finished batch file
// arriving. Requeue writes go through a .tmp rename, so only the rename
// target shows up as a create.
func (d *Daemon) isBatchEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	return !strings.HasSuffix(event.Name, ".tmp")
}

func (d *Daemon) cycle(ctx context.Context) {
	d.fetch(ctx)
	d.run(ctx, "push geo", d.hooks.PushGeo)
	d.run(ctx, "push cms", d.hooks.PushCMS)
}

func (d *Daemon) fetch(ctx context.Context) {
	d.run(ctx, "fetch geo", d.hooks.FetchGeo)
	d.run(ctx, "fetch cms", d.hooks.FetchCMS)
}

func (d *Daemon) run(ctx context.Context, name string, hook func(ctx context.Context) error) {
	if hook == nil || ctx.Err() != nil {
		return
	}
	if err := hook(ctx); err != nil {
		d.log.Warn("daemon step failed", zap.String("step", name), zap.Error(err))
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
