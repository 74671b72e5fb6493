package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// Reaper periodically releases conversations stuck in processing — a claim
// whose worker died keeps new dispatches coalescing forever otherwise.
type Reaper struct {
	links      store.ConversationStore
	expr       string
	staleAfter time.Duration
}

func NewReaper(links store.ConversationStore, cronExpr string, staleAfter time.Duration) *Reaper {
	return &Reaper{links: links, expr: cronExpr, staleAfter: staleAfter}
}

// Start runs the sweep on the cron schedule until the context is cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	g := gronx.New()
	if !g.IsValid(r.expr) {
		return fmt.Errorf("invalid reaper cron expression %q", r.expr)
	}
	slog.Info("stale-claim reaper scheduled", "cron", r.expr, "stale_after", r.staleAfter)

	for {
		next, err := gronx.NextTick(r.expr, false)
		if err != nil {
			return fmt.Errorf("compute next reaper tick: %w", err)
		}
		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			return nil
		}
		r.sweep(ctx)
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	released, err := r.links.ReleaseStale(ctx, r.staleAfter)
	if err != nil {
		slog.Error("stale-claim sweep failed", "error", err)
		return
	}
	if released > 0 {
		slog.Warn("released stale dispatch claims", "count", released)
	}
}
