// Package dispatch owns the asynchronous AI pipeline: claiming conversations
// for dispatch, calling the engine with bounded retries, relaying answers
// back to the inbox conversation, and recovering claims that would otherwise
// stay stuck in processing.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/chatbridge/internal/bus"
	"github.com/nextlevelbuilder/chatbridge/internal/config"
	"github.com/nextlevelbuilder/chatbridge/internal/engine"
	"github.com/nextlevelbuilder/chatbridge/internal/gate"
	"github.com/nextlevelbuilder/chatbridge/internal/retry"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// EngineAPI is the slice of the AI-engine client the coordinator consumes.
type EngineAPI interface {
	ChatMessage(ctx context.Context, req engine.ChatRequest) (*engine.ChatResponse, error)
}

// MessagePoster posts outgoing messages to inbox conversations.
type MessagePoster interface {
	SendMessage(ctx context.Context, conversationID, content string, private bool) error
}

// errEmptyAnswer marks an engine response with no usable answer text.
// Treated like any other malformed AI response: retryable.
var errEmptyAnswer = errors.New("engine returned empty answer")

// Coordinator runs the dispatch worker pool.
type Coordinator struct {
	links  store.ConversationStore
	engine EngineAPI
	inbox  MessagePoster
	bus    *bus.MessageBus
	cfg    config.DispatchConfig
	tracer trace.Tracer
}

func New(links store.ConversationStore, engineAPI EngineAPI, poster MessagePoster, msgBus *bus.MessageBus, cfg config.DispatchConfig) *Coordinator {
	return &Coordinator{
		links:  links,
		engine: engineAPI,
		inbox:  poster,
		bus:    msgBus,
		cfg:    cfg,
		tracer: otel.Tracer("chatbridge/dispatch"),
	}
}

// TryDispatch claims the conversation and enqueues an AI call. The claim is
// an atomic pending→processing test-and-set: losing it means another dispatch
// is already in flight and the event is coalesced, not retried. Returns true
// when a job was enqueued.
func (c *Coordinator) TryDispatch(ctx context.Context, conversationID, content string, seq int64) (bool, error) {
	link, err := c.links.Get(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("load link: %w", err)
	}

	// Re-entrant retrigger: a processed conversation goes back through
	// pending before it can be claimed again.
	if gate.Allowed(link.Status, store.StatusPending, gate.CauseEligibleEvent) {
		if _, err := c.links.TransitionStatus(ctx, conversationID, store.StatusPending, store.StatusProcessed); err != nil {
			return false, fmt.Errorf("refresh link: %w", err)
		}
	}

	claimed, err := c.links.TransitionStatus(ctx, conversationID, store.StatusProcessing, store.StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim dispatch: %w", err)
	}
	if !claimed {
		slog.Debug("dispatch coalesced", "conversation", conversationID)
		return false, nil
	}

	job := bus.DispatchJob{
		ConversationID: conversationID,
		Content:        content,
		Seq:            seq,
		EnqueuedAt:     time.Now(),
	}
	if !c.bus.PublishDispatch(job) {
		// Queue full: release the claim so a later event can retrigger.
		if _, rerr := c.links.TransitionStatus(ctx, conversationID, store.StatusPending, store.StatusProcessing); rerr != nil {
			slog.Error("failed to release claim after full queue", "conversation", conversationID, "error", rerr)
		}
		slog.Warn("dispatch queue full, claim released", "conversation", conversationID)
		return false, nil
	}
	return true, nil
}

// Start runs the worker pool until the context is cancelled.
func (c *Coordinator) Start(ctx context.Context) error {
	workers := c.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	slog.Info("starting dispatch workers", "workers", workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				job, ok := c.bus.ConsumeDispatch(ctx)
				if !ok {
					return nil
				}
				c.process(ctx, job)
			}
		})
	}
	return g.Wait()
}

func (c *Coordinator) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  c.cfg.MaxAttempts,
		InitialDelay: c.cfg.BackoffInitial(),
		MaxDelay:     c.cfg.BackoffMax(),
	}
}

// process runs one dispatch job end to end.
func (c *Coordinator) process(ctx context.Context, job bus.DispatchJob) {
	ctx, span := c.tracer.Start(ctx, "dispatch.process",
		trace.WithAttributes(attribute.String("conversation.id", job.ConversationID)))
	defer span.End()

	link, err := c.links.Get(ctx, job.ConversationID)
	if err != nil {
		slog.Error("dispatch aborted, link unreadable", "conversation", job.ConversationID, "error", err)
		return
	}

	resp, err := retry.Do(ctx, c.retryConfig(), func() (*engine.ChatResponse, error) {
		r, cerr := c.engine.ChatMessage(ctx, engine.ChatRequest{
			Query:      job.Content,
			SessionRef: link.AISessionRef,
		})
		if cerr != nil {
			return nil, cerr
		}
		if !r.HasAnswer() {
			return nil, errEmptyAnswer
		}
		return r, nil
	})
	if err != nil {
		c.release(ctx, job.ConversationID, err)
		return
	}

	// The engine snapshots input state at session creation, so the returned
	// reference binds exactly once.
	if link.AISessionRef == "" && resp.SessionRef != "" {
		bound, berr := c.links.BindSessionRef(ctx, job.ConversationID, resp.SessionRef)
		if berr != nil {
			slog.Error("session ref bind failed", "conversation", job.ConversationID, "error", berr)
		} else if !bound {
			slog.Debug("session ref already bound", "conversation", job.ConversationID)
		}
	}

	// Answer delivery has its own bounded retry. A terminal failure here is a
	// delivery failure, not an AI failure: the answer is not resent and the
	// conversation still counts as processed.
	if _, derr := retry.Do(ctx, c.retryConfig(), func() (struct{}, error) {
		return struct{}{}, c.inbox.SendMessage(ctx, job.ConversationID, resp.Answer, false)
	}); derr != nil {
		slog.Error("answer delivery failed", "conversation", job.ConversationID, "error", derr)
	}

	ok, terr := c.links.TransitionStatus(ctx, job.ConversationID, store.StatusProcessed, store.StatusProcessing)
	if terr != nil {
		slog.Error("processed transition failed", "conversation", job.ConversationID, "error", terr)
		return
	}
	if !ok {
		// A resolve callback may have landed mid-flight; that wins.
		slog.Debug("processed transition skipped", "conversation", job.ConversationID)
	}
}

// release reverts a failed dispatch back to pending so a future eligible
// event can retrigger, and posts a best-effort operator-handoff note.
func (c *Coordinator) release(ctx context.Context, conversationID string, cause error) {
	slog.Error("AI dispatch exhausted retries", "conversation", conversationID, "error", cause)

	if _, err := c.links.TransitionStatus(ctx, conversationID, store.StatusPending, store.StatusProcessing); err != nil {
		slog.Error("failed to release claim", "conversation", conversationID, "error", err)
	}
	if c.cfg.ApologyMessage == "" {
		return
	}
	if err := c.inbox.SendMessage(ctx, conversationID, c.cfg.ApologyMessage, false); err != nil {
		slog.Warn("apology delivery failed", "conversation", conversationID, "error", err)
	}
}
