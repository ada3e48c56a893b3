// Package schemawatch polls a supergraph file and emits the schema reload
// signal when its content changes.
package schemawatch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/hanpama/fedgate/internal/ctxlog"
)

// ReloadFunc receives the new supergraph. An error leaves the watcher ready
// to deliver the same content again on the next poll.
type ReloadFunc func(ctx context.Context, supergraph []byte) error

type Watcher struct {
	path     string
	interval time.Duration
	reload   ReloadFunc

	last uint64
}

// New watches path. initial is the content already loaded by the caller; it
// is not delivered.
func New(path string, interval time.Duration, initial []byte, reload ReloadFunc) *Watcher {
	return &Watcher{path: path, interval: interval, reload: reload, last: xxhash.Sum64(initial)}
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	logger := ctxlog.FromContext(ctx).With(zap.String("supergraph", w.path))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				logger.Warn("supergraph reload failed", zap.Error(err))
			}
		}
	}
}

// Check reads the file once and delivers it if it changed.
func (w *Watcher) Check(ctx context.Context) (bool, error) {
	sdl, err := os.ReadFile(w.path)
	if err != nil {
		return false, fmt.Errorf("schemawatch: %w", err)
	}
	sum := xxhash.Sum64(sdl)
	if sum == w.last {
		return false, nil
	}
	if err := w.reload(ctx, sdl); err != nil {
		return false, fmt.Errorf("schemawatch: %w", err)
	}
	w.last = sum
	ctxlog.FromContext(ctx).Info("supergraph changed", zap.String("supergraph", w.path), zap.String("hash", fmt.Sprintf("%016x", sum)))
	return true, nil
}
