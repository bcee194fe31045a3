// Package runtime assembles the protocol engine and manages its lifecycle.
// The Processor owns the per-turn orchestration: lease, load, transition,
// escalation, persistence, and metrics. It can be embedded in larger
// applications or run standalone behind the HTTP server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindshift/protocol-engine/internal/config"
	"github.com/mindshift/protocol-engine/internal/domain"
	"github.com/mindshift/protocol-engine/internal/engine"
	"github.com/mindshift/protocol-engine/internal/guardrail"
	"github.com/mindshift/protocol-engine/internal/history"
	"github.com/mindshift/protocol-engine/internal/interpret"
	"github.com/mindshift/protocol-engine/internal/metrics"
	"github.com/mindshift/protocol-engine/internal/safetysink"
	"github.com/mindshift/protocol-engine/internal/session"
	"github.com/mindshift/protocol-engine/internal/telemetry"
)

// TurnReply is the outcome of one processed turn.
type TurnReply struct {
	Result domain.ProcessingResult

	// Context is the post-turn session context. On retry and safety
	// outcomes it is the unchanged pre-turn context.
	Context *domain.SessionContext

	// Prompt is the text to present next: the new step's prompt after a
	// transition, or the current step's re-prompt on retry.
	Prompt string

	// DelegateTokens is the estimated prompt size of any delegate call
	// made during this turn.
	DelegateTokens int
}

// Processor wires the transition engine to sessions, history, guardrails,
// the AI gate, and observability.
type Processor struct {
	cfg     *config.Config
	eng     *engine.Engine
	guard   *guardrail.Evaluator
	store   *session.Store
	history *history.Manager
	gate    *interpret.Gate
	rec     *metrics.Recorder
	sink    *safetysink.Sink
	watcher *config.Watcher
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start begins background work: the safety sink, the config watcher, and
// the idle-session reaper.
func (p *Processor) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.sink.Start(p.ctx)

	if p.watcher != nil {
		if err := p.watcher.Watch(p.ctx, p.onConfigChange); err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
	}

	p.wg.Add(1)
	go p.reapLoop()

	p.logger.Info("processor started",
		slog.String("version", p.cfg.Engine.Version),
		slog.Int("undo_depth", p.cfg.Engine.UndoDepth))
	return nil
}

// Shutdown stops background work and closes owned resources.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down processor")

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("shutdown wait cancelled", slog.String("error", ctx.Err().Error()))
	}

	p.sink.Close()

	if p.watcher != nil {
		if err := p.watcher.Close(); err != nil {
			p.logger.Error("failed to close config watcher", slog.String("error", err.Error()))
		}
	}
	if err := p.store.Close(); err != nil {
		p.logger.Error("failed to close session store", slog.String("error", err.Error()))
		return err
	}

	p.logger.Info("processor shutdown complete")
	return nil
}

// Engine exposes the transition engine, mainly for tests and embedding.
func (p *Processor) Engine() *engine.Engine { return p.eng }

// CreateSession opens a session for the user. With an empty modality the
// session starts at method selection; a named modality skips straight to
// that graph's entry step. An empty version uses the configured default;
// a named version only labels the session for metrics, the engine tunables
// stay process-wide.
func (p *Processor) CreateSession(ctx context.Context, userID, modality, version string) (*domain.SessionContext, string, error) {
	if version == "" {
		version = p.cfg.Engine.Version
	} else if !config.KnownVersion(version) {
		return nil, "", fmt.Errorf("unknown protocol version %q", version)
	}

	now := time.Now().UTC()
	sctx := &domain.SessionContext{
		SessionID:        uuid.NewString(),
		UserID:           userID,
		Version:          version,
		Status:           domain.StatusActive,
		CurrentStep:      domain.MethodSelectStep,
		StartTime:        now,
		LastActivityTime: now,
	}

	if modality != "" {
		m, ok := domain.ParseModality(modality)
		if !ok {
			return nil, "", fmt.Errorf("unknown modality %q", modality)
		}
		entry, err := p.eng.Registry().Entry(m)
		if err != nil {
			return nil, "", err
		}
		sctx.Modality = m
		sctx.CurrentStep = entry
		if g, err := p.eng.Registry().Graph(m); err == nil {
			if def, ok := g.Step(entry); ok {
				sctx.CurrentPhase = def.Phase
			}
		}
	}

	if err := p.store.Create(ctx, sctx); err != nil {
		return nil, "", err
	}
	p.rec.SetActiveSessions(len(p.store.Active()))

	prompt, err := p.eng.PromptFor(sctx)
	if err != nil {
		return nil, "", err
	}

	p.logger.Info("session created",
		slog.String("session_id", sctx.SessionID),
		slog.String("user_id", userID),
		slog.String("step", string(sctx.CurrentStep)))
	return sctx, prompt, nil
}

// Turn processes one user input against the session, serialized by the
// session lease. Concurrent turns on the same session see ErrSessionBusy
// once the caller's context gives up waiting.
func (p *Processor) Turn(ctx context.Context, sessionID, input string) (TurnReply, error) {
	start := time.Now()

	ctx, span := telemetry.StartTurnSpan(ctx, sessionID)
	defer span.End()

	lease, err := p.store.Acquire(ctx, sessionID)
	if err != nil {
		return TurnReply{}, err
	}
	defer p.store.Release(lease)

	sctx, err := p.store.Get(ctx, sessionID)
	if err != nil {
		return TurnReply{}, err
	}

	reply, err := p.processTurn(ctx, lease, sctx, input)
	outcome := outcomeFor(reply.Result, err)
	telemetry.AnnotateTurn(span, string(sctx.Modality), string(sctx.CurrentStep), string(outcome))
	p.rec.Record(sessionID, sctx.Version, time.Since(start), outcome,
		reply.Result.TriggeredAI, reply.DelegateTokens)
	return reply, err
}

func (p *Processor) processTurn(ctx context.Context, lease *session.Lease, sctx *domain.SessionContext, input string) (TurnReply, error) {
	prior := sctx.Clone()

	res, updated, err := p.eng.Advance(sctx, input)
	if err != nil {
		return TurnReply{}, err
	}

	var tokens int
	if res.NeedsLinguisticProcessing {
		res, updated, tokens, err = p.escalate(ctx, sctx, input, res.Detail)
		if err != nil {
			return TurnReply{DelegateTokens: tokens}, err
		}
	}

	if res.SafetyFlagged {
		p.sink.Emit(domain.SafetyEvent{
			EventID:   uuid.NewString(),
			SessionID: sctx.SessionID,
			UserID:    sctx.UserID,
			Step:      sctx.CurrentStep,
			Indicator: res.Detail,
			Code:      res.Reason,
		})
	}

	reply := TurnReply{Result: res, Context: sctx, DelegateTokens: tokens}

	if updated == nil {
		// Retry or safety: session state is untouched, re-prompt the
		// current step.
		prompt, perr := p.eng.PromptFor(sctx)
		if perr != nil {
			return reply, perr
		}
		reply.Prompt = prompt
		return reply, nil
	}

	if err := p.commitTurn(ctx, lease, prior, updated); err != nil {
		return reply, err
	}

	reply.Context = updated
	prompt, perr := p.eng.PromptFor(updated)
	if perr != nil {
		return reply, perr
	}
	reply.Prompt = prompt
	return reply, nil
}

// commitTurn persists a successful transition and pushes the pre-turn
// snapshot onto the undo stack. History is pushed only after the write
// succeeds so undo can never resurrect an unpersisted turn.
func (p *Processor) commitTurn(ctx context.Context, lease *session.Lease, prior, updated *domain.SessionContext) error {
	if updated.Status == domain.StatusCompleted {
		if err := p.store.Retire(ctx, lease, updated, domain.StatusCompleted); err != nil {
			return err
		}
		p.history.Drop(updated.SessionID)
		p.rec.SetActiveSessions(len(p.store.Active()))
		p.logger.Info("session completed",
			slog.String("session_id", updated.SessionID),
			slog.String("modality", string(updated.Modality)))
		return nil
	}

	if err := p.store.Put(ctx, lease, updated); err != nil {
		return err
	}
	p.history.Push(updated.SessionID, prior)
	return nil
}

func (p *Processor) escalate(ctx context.Context, sctx *domain.SessionContext, input, reason string) (domain.ProcessingResult, *domain.SessionContext, int, error) {
	if p.gate == nil {
		return domain.ProcessingResult{
			CanContinue:   true,
			RequiresRetry: true,
			Reason:        domain.ReasonAmbiguous,
			Detail:        "no linguistic delegate configured",
		}, nil, 0, nil
	}
	return p.gate.Escalate(ctx, sctx, input, reason)
}

// Undo restores the most recent pre-turn snapshot. It reports the restored
// context and its prompt, or ErrNothingToUndo on an empty stack.
func (p *Processor) Undo(ctx context.Context, sessionID string) (*domain.SessionContext, string, error) {
	lease, err := p.store.Acquire(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	defer p.store.Release(lease)

	if _, err := p.store.Get(ctx, sessionID); err != nil {
		return nil, "", err
	}

	restored, ok := p.history.Undo(sessionID)
	if !ok {
		return nil, "", ErrNothingToUndo
	}
	if err := p.store.Put(ctx, lease, restored); err != nil {
		return nil, "", err
	}

	prompt, err := p.eng.PromptFor(restored)
	if err != nil {
		return nil, "", err
	}
	p.logger.Info("turn undone",
		slog.String("session_id", sessionID),
		slog.String("step", string(restored.CurrentStep)))
	return restored, prompt, nil
}

// Abandon closes a session without completing it.
func (p *Processor) Abandon(ctx context.Context, sessionID string) error {
	lease, err := p.store.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer p.store.Release(lease)

	sctx, err := p.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := p.store.Retire(ctx, lease, sctx, domain.StatusAbandoned); err != nil {
		return err
	}
	p.history.Drop(sessionID)
	p.rec.Forget(sessionID)
	p.rec.SetActiveSessions(len(p.store.Active()))

	p.logger.Info("session abandoned", slog.String("session_id", sessionID))
	return nil
}

// Session returns a copy of the session context.
func (p *Processor) Session(ctx context.Context, sessionID string) (*domain.SessionContext, error) {
	return p.store.Get(ctx, sessionID)
}

// Stats returns the aggregated per-session metrics.
func (p *Processor) Stats(sessionID string) (metrics.SessionStats, bool) {
	return p.rec.Session(sessionID)
}

// ErrNothingToUndo is returned by Undo when no snapshots remain.
var ErrNothingToUndo = errors.New("nothing to undo")

// onConfigChange applies the hot-reloadable subset of a new config: the
// crisis indicator list and the content floor stay live, everything else
// needs a restart.
func (p *Processor) onConfigChange(cfg *config.Config) {
	p.guard.ReplaceIndicators(cfg.Guardrail.CrisisIndicators)
	p.guard.SetContentFloor(cfg.Guardrail.MinContentLen)
	p.logger.Info("guardrail settings reloaded",
		slog.Int("indicators", len(cfg.Guardrail.CrisisIndicators)),
		slog.Int("min_content_len", cfg.Guardrail.MinContentLen))
}

// reapLoop abandons sessions idle past the configured TTL so leases,
// history, and metrics for dead sessions get released.
func (p *Processor) reapLoop() {
	defer p.wg.Done()

	interval := time.Duration(p.cfg.Session.ReapIntervalSecs) * time.Second
	idleTTL := time.Duration(p.cfg.Session.IdleTTLMinutes) * time.Minute

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reapIdle(idleTTL)
		}
	}
}

func (p *Processor) reapIdle(idleTTL time.Duration) {
	cutoff := time.Now().Add(-idleTTL)
	for id, last := range p.store.Active() {
		if last.After(cutoff) {
			continue
		}
		ctx, cancel := context.WithTimeout(p.ctx, 2*time.Second)
		if err := p.Abandon(ctx, id); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			p.logger.Warn("failed to reap idle session",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		} else if err == nil {
			p.logger.Info("idle session reaped", slog.String("session_id", id))
		}
		cancel()
	}
}

func outcomeFor(res domain.ProcessingResult, err error) metrics.Outcome {
	switch {
	case err != nil:
		return metrics.OutcomeError
	case res.SafetyFlagged:
		return metrics.OutcomeSafety
	case res.RequiresRetry:
		return metrics.OutcomeRetry
	case res.TriggeredAI:
		return metrics.OutcomeAI
	default:
		return metrics.OutcomeScripted
	}
}

