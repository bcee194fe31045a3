package runtime

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mindshift/protocol-engine/internal/config"
	"github.com/mindshift/protocol-engine/internal/engine"
	"github.com/mindshift/protocol-engine/internal/graph"
	"github.com/mindshift/protocol-engine/internal/guardrail"
	"github.com/mindshift/protocol-engine/internal/history"
	"github.com/mindshift/protocol-engine/internal/interpret"
	"github.com/mindshift/protocol-engine/internal/metrics"
	"github.com/mindshift/protocol-engine/internal/safetysink"
	"github.com/mindshift/protocol-engine/internal/session"
)

// Option is a functional option for configuring a Processor.
type Option func(*builder) error

type builder struct {
	cfg        *config.Config
	configPath string
	persist    session.Persistence
	interp     interpret.Interpreter
	forwarder  safetysink.Forwarder
	registerer prometheus.Registerer
	graphOpts  []graph.Option
	logger     *slog.Logger
}

// WithFileConfig loads configuration from a YAML file and watches it for
// hot-reload of the guardrail indicator lists.
func WithFileConfig(path string) Option {
	return func(b *builder) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		b.cfg = cfg
		b.configPath = path
		return nil
	}
}

// WithConfig uses an already-loaded config. No hot-reload.
func WithConfig(cfg *config.Config) Option {
	return func(b *builder) error {
		b.cfg = cfg
		return nil
	}
}

// WithSQLite persists sessions to a SQLite database (default for
// single-instance deployments).
func WithSQLite(path string) Option {
	return func(b *builder) error {
		store, err := session.NewSQLStore(path)
		if err != nil {
			return fmt.Errorf("create sqlite store: %w", err)
		}
		b.persist = store
		return nil
	}
}

// WithPersistence sets a custom session persistence backend.
func WithPersistence(p session.Persistence) Option {
	return func(b *builder) error {
		b.persist = p
		return nil
	}
}

// WithOpenAIInterpreter enables the linguistic delegate backed by the
// OpenAI chat API.
func WithOpenAIInterpreter(cfg interpret.OpenAIConfig) Option {
	return func(b *builder) error {
		interp, err := interpret.NewOpenAIInterpreter(cfg)
		if err != nil {
			return fmt.Errorf("create openai interpreter: %w", err)
		}
		b.interp = interp
		return nil
	}
}

// WithInterpreter sets a custom linguistic delegate.
func WithInterpreter(i interpret.Interpreter) Option {
	return func(b *builder) error {
		b.interp = i
		return nil
	}
}

// WithSafetyForwarder sets the destination for safety events. Defaults to
// structured logging.
func WithSafetyForwarder(f safetysink.Forwarder) Option {
	return func(b *builder) error {
		b.forwarder = f
		return nil
	}
}

// WithRegisterer sets the Prometheus registerer for engine metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(b *builder) error {
		b.registerer = r
		return nil
	}
}

// WithGraphOverride replaces or adds a step graph, for experiments that
// diverge from the built-in modality scripts.
func WithGraphOverride(opt graph.Option) Option {
	return func(b *builder) error {
		b.graphOpts = append(b.graphOpts, opt)
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *builder) error {
		b.logger = logger
		return nil
	}
}

// New assembles a Processor. Configuration is required; persistence
// defaults to SQLite at the configured path.
func New(opts ...Option) (*Processor, error) {
	b := &builder{
		logger:     slog.Default(),
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if b.cfg == nil {
		return nil, fmt.Errorf("config required (use WithFileConfig or WithConfig)")
	}
	if b.persist == nil {
		b.logger.Info("no persistence specified, using sqlite",
			slog.String("path", b.cfg.Storage.Path))
		store, err := session.NewSQLStore(b.cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("create default sqlite store: %w", err)
		}
		b.persist = store
	}

	registry, err := graph.New(b.graphOpts...)
	if err != nil {
		return nil, fmt.Errorf("build step graphs: %w", err)
	}

	guard := guardrail.New(guardrail.Config{
		CrisisIndicators: b.cfg.Guardrail.CrisisIndicators,
		MinContentLen:    b.cfg.Guardrail.MinContentLen,
	})

	eng := engine.New(registry, guard, engine.Config{
		LoopBoundOverride:     b.cfg.Engine.LoopBoundOverride,
		InterpretReentryBound: b.cfg.Engine.InterpretReentryBound,
	})

	var gate *interpret.Gate
	if b.interp != nil {
		est, err := interpret.NewTokenEstimator()
		if err != nil {
			b.logger.Warn("token estimator unavailable, delegate cost attribution disabled",
				slog.String("error", err.Error()))
		}
		gate = interpret.New(b.interp, eng, est, interpret.Config{
			Timeout:             time.Duration(b.cfg.Interpreter.TimeoutMs) * time.Millisecond,
			MaxRetries:          b.cfg.Interpreter.MaxRetries,
			ConfidenceThreshold: b.cfg.Interpreter.ConfidenceThreshold,
		}, b.logger)
	} else {
		b.logger.Info("no linguistic delegate configured, ambiguous inputs fall back to retry")
	}

	if b.forwarder == nil {
		b.forwarder = &safetysink.LogForwarder{Logger: b.logger}
	}

	// Hot reload only engages when the config file actually exists;
	// env-only deployments run without a watcher.
	var watcher *config.Watcher
	if b.configPath != "" {
		if _, statErr := os.Stat(b.configPath); statErr == nil {
			watcher, err = config.NewWatcher(b.configPath, b.logger)
			if err != nil {
				return nil, fmt.Errorf("create config watcher: %w", err)
			}
		}
	}

	p := &Processor{
		cfg:     b.cfg,
		eng:     eng,
		guard:   guard,
		store:   session.New(b.persist, session.WithLeaseTTL(time.Duration(b.cfg.Session.LeaseTTLSeconds)*time.Second)),
		history: history.New(b.cfg.Engine.UndoDepth),
		gate:    gate,
		rec:     metrics.New(b.registerer),
		sink:    safetysink.New(b.forwarder, b.logger, 0),
		watcher: watcher,
		logger:  b.logger,
	}
	return p, nil
}
