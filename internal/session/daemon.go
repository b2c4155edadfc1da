package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Flusher snapshots the store to disk on a fixed interval and once more on
// shutdown. Flush failures are logged and swallowed: persistence is
// best-effort and must never crash the process or block live turns.
type Flusher struct {
	logger   *slog.Logger
	store    *Store
	path     string
	interval time.Duration
	cron     *cron.Cron
}

// NewFlusher creates a Flusher writing snapshots of store to path every
// interval.
func NewFlusher(log *slog.Logger, store *Store, path string, interval time.Duration) *Flusher {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Flusher{
		logger:   log.With(slog.String("component", "session_flusher")),
		store:    store,
		path:     path,
		interval: interval,
	}
}

// LoadInitial populates the store from the last durable snapshot. Must run
// before concurrent traffic is accepted. Missing or corrupt state starts
// empty and is never fatal.
func (f *Flusher) LoadInitial() {
	snap, err := ReadSnapshot(f.path)
	if err != nil {
		f.logger.Warn("snapshot unreadable, starting empty", slog.String("path", f.path), slog.Any("error", err))
		return
	}
	if snap == nil {
		f.logger.Info("no prior snapshot, starting empty", slog.String("path", f.path))
		return
	}
	f.store.Load(snap)
	f.logger.Info("snapshot loaded", slog.String("path", f.path), slog.Int("sessions", f.store.Size()))
}

// Flush writes one snapshot now.
func (f *Flusher) Flush() error {
	snap := f.store.Snapshot()
	if err := WriteSnapshot(f.path, snap); err != nil {
		return err
	}
	return nil
}

// Start begins the periodic flush loop.
func (f *Flusher) Start() error {
	if f.cron != nil {
		return fmt.Errorf("flusher already started")
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", f.interval)
	if _, err := c.AddFunc(spec, func() {
		if err := f.Flush(); err != nil {
			f.logger.Warn("flush failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("schedule flush: %w", err)
	}
	c.Start()
	f.cron = c
	f.logger.Info("flush loop started", slog.Duration("interval", f.interval))
	return nil
}

// Stop halts the loop and performs the final shutdown flush.
func (f *Flusher) Stop(ctx context.Context) error {
	if f.cron != nil {
		stopCtx := f.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		f.cron = nil
	}
	if err := f.Flush(); err != nil {
		f.logger.Warn("final flush failed", slog.Any("error", err))
	}
	return nil
}
