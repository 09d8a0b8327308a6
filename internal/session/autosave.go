package session

import (
	"context"
	"log/slog"
	"time"
)

const defaultAutosaveInterval = time.Minute

// StartAutosaver pauses every live session on each tick and once more when
// ctx ends. The returned channel closes after the final flush.
func StartAutosaver(ctx context.Context, reg *Registry, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = defaultAutosaveInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Autosave worker started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				flushAll(ctx, reg)
			case <-ctx.Done():
				slog.Info("Autosave worker shutting down", "reason", ctx.Err())
				flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				flushAll(flushCtx, reg)
				cancel()
				return
			}
		}
	}()
	return done
}

func flushAll(ctx context.Context, reg *Registry) {
	saved, failed := 0, 0
	for _, m := range reg.All() {
		if err := m.PauseSession(ctx); err != nil {
			failed++
			slog.Warn("Autosave failed", "user_id", m.UserID(), "error", err)
			continue
		}
		saved++
	}
	if saved+failed > 0 {
		slog.Debug("Autosave complete", "sessions", saved, "failed", failed)
	}
}
