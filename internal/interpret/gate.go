package interpret

import (
	"context"
	"log/slog"
	"time"

	"github.com/mindshift/protocol-engine/internal/domain"
	"github.com/mindshift/protocol-engine/internal/engine"
)

// DefaultTimeout bounds one delegate call. DefaultMaxRetries is the hard
// cap on re-attempts before the turn surfaces a retry to the user instead
// of looping on the delegate.
const (
	DefaultTimeout    = 4 * time.Second
	DefaultMaxRetries = 1
)

// Config carries the gate tunables, injected from the version preset.
type Config struct {
	Timeout             time.Duration
	MaxRetries          int
	ConfidenceThreshold float64
}

// Gate decides whether a delegate proposal can be trusted and reconciles an
// accepted proposal back into a valid engine transition.
type Gate struct {
	interp Interpreter
	eng    *engine.Engine
	est    *TokenEstimator
	cfg    Config
	logger *slog.Logger
}

// New builds a gate. The token estimator may be nil, disabling cost
// attribution.
func New(interp Interpreter, eng *engine.Engine, est *TokenEstimator, cfg Config, logger *slog.Logger) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 || cfg.MaxRetries > DefaultMaxRetries {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.5
	}
	return &Gate{interp: interp, eng: eng, est: est, cfg: cfg, logger: logger}
}

// Escalate hands the turn to the linguistic delegate and applies its
// proposal when it survives validation. Timeouts and rejected proposals
// come back as retryable results, never fatal errors, with TriggeredAI set
// so the metrics recorder can attribute delegate cost. The returned token
// count is the estimated prompt size of the delegate call.
func (g *Gate) Escalate(ctx context.Context, sctx *domain.SessionContext, rawInput string, reason string) (domain.ProcessingResult, *domain.SessionContext, int, error) {
	def, err := g.eng.Registry().Lookup(sctx.Modality, sctx.CurrentStep)
	if err != nil {
		return domain.ProcessingResult{}, nil, 0, &domain.IntegrityError{
			Op: "gate.escalate", Modality: sctx.Modality, Step: sctx.CurrentStep,
			Detail: err.Error(),
		}
	}

	req := Request{
		ProblemStatement: sctx.ProblemStatement,
		RecentTurns:      sctx.Transcript,
		AmbiguityReason:  reason,
		RawInput:         rawInput,
		AllowedSteps:     def.InterpretationTargets,
	}

	tokens := 0
	if g.est != nil {
		tokens = g.est.Estimate(req)
	}

	proposal, err := g.call(ctx, req)
	if err != nil {
		g.logger.Warn("linguistic delegate unavailable",
			slog.String("session_id", sctx.SessionID),
			slog.String("step", string(sctx.CurrentStep)),
			slog.String("error", err.Error()))
		return retryResult(domain.ReasonDelegateTimeout, "linguistic delegate did not answer in time"), nil, tokens, nil
	}

	if !g.acceptable(sctx, def.InterpretationTargets, proposal) {
		g.logger.Warn("rejected delegate proposal",
			slog.String("session_id", sctx.SessionID),
			slog.String("proposed_step", string(proposal.ProposedNextStep)),
			slog.Float64("confidence", proposal.Confidence))
		code := domain.ReasonDelegateInvalid
		if proposal.Confidence < g.cfg.ConfidenceThreshold {
			code = domain.ReasonDelegateDoubt
		}
		return retryResult(code, "delegate proposal rejected"), nil, tokens, nil
	}

	res, updated, err := g.eng.ApplyInterpreted(sctx, rawInput, proposal.ProposedNextStep)
	if err != nil {
		return domain.ProcessingResult{}, nil, tokens, err
	}
	return res, updated, tokens, nil
}

// call runs the delegate with the configured timeout, re-attempting at most
// MaxRetries times.
func (g *Gate) call(ctx context.Context, req Request) (Proposal, error) {
	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		proposal, err := g.interp.Interpret(callCtx, req)
		cancel()
		if err == nil {
			return proposal, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break // the turn itself is done, no point re-attempting
		}
	}
	return Proposal{}, lastErr
}

// acceptable validates a proposal: the step must be a member of the current
// modality's graph, must be among the step's allowed interpretation targets
// when any are declared, and must carry enough confidence.
func (g *Gate) acceptable(sctx *domain.SessionContext, allowed []domain.StepID, p Proposal) bool {
	if p.Confidence < g.cfg.ConfidenceThreshold {
		return false
	}
	if !g.eng.Registry().Contains(sctx.Modality, p.ProposedNextStep) {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, id := range allowed {
		if id == p.ProposedNextStep {
			return true
		}
	}
	return false
}

func retryResult(code domain.ReasonCode, detail string) domain.ProcessingResult {
	return domain.ProcessingResult{
		CanContinue:   true,
		RequiresRetry: true,
		TriggeredAI:   true,
		Reason:        code,
		Detail:        detail,
	}
}
