// Package metrics records per-turn latency, script-hit, and AI-usage
// counters, aggregated per session and globally. The aggregates exist for
// observability only: nothing in the transition path reads them.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder maintains the prometheus collectors plus per-session running
// aggregates.
type Recorder struct {
	turnLatency    *prometheus.HistogramVec
	turnsTotal     *prometheus.CounterVec
	delegateTokens prometheus.Counter
	activeSessions prometheus.Gauge
	safetyEvents   prometheus.Counter

	mu       sync.Mutex
	sessions map[string]*SessionStats
}

// SessionStats is one session's running aggregate, safe to hand out by
// value.
type SessionStats struct {
	Turns          int           `json:"turns"`
	ScriptedTurns  int           `json:"scripted_turns"`
	AITurns        int           `json:"ai_turns"`
	RetryTurns     int           `json:"retry_turns"`
	SafetyTurns    int           `json:"safety_turns"`
	TotalLatency   time.Duration `json:"-"`
	AvgLatencyMs   float64       `json:"avg_latency_ms"`
	ScriptHitRate  float64       `json:"script_hit_rate"`
	AIUsageRate    float64       `json:"ai_usage_rate"`
	DelegateTokens int           `json:"delegate_tokens"`
}

// Outcome labels a completed turn for recording.
type Outcome string

const (
	OutcomeScripted Outcome = "scripted"
	OutcomeRetry    Outcome = "retry"
	OutcomeSafety   Outcome = "safety"
	OutcomeAI       Outcome = "ai"
	OutcomeError    Outcome = "error"
)

// New creates a recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "protocol_engine",
			Name:      "turn_latency_seconds",
			Help:      "Latency of one processed turn.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"version", "outcome"}),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "protocol_engine",
			Name:      "turns_total",
			Help:      "Processed turns by outcome.",
		}, []string{"version", "outcome"}),
		delegateTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "protocol_engine",
			Name:      "delegate_tokens_total",
			Help:      "Estimated tokens sent to the linguistic delegate.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "protocol_engine",
			Name:      "active_sessions",
			Help:      "Sessions currently resident in the context store.",
		}),
		safetyEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "protocol_engine",
			Name:      "safety_events_total",
			Help:      "Turns that tripped a crisis indicator.",
		}),
		sessions: make(map[string]*SessionStats),
	}
	if reg != nil {
		reg.MustRegister(r.turnLatency, r.turnsTotal, r.delegateTokens, r.activeSessions, r.safetyEvents)
	}
	return r
}

// Record registers one completed turn.
func (r *Recorder) Record(sessionID, version string, latency time.Duration, outcome Outcome, aiTriggered bool, delegateTokens int) {
	r.turnLatency.WithLabelValues(version, string(outcome)).Observe(latency.Seconds())
	r.turnsTotal.WithLabelValues(version, string(outcome)).Inc()
	if delegateTokens > 0 {
		r.delegateTokens.Add(float64(delegateTokens))
	}
	if outcome == OutcomeSafety {
		r.safetyEvents.Inc()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		st = &SessionStats{}
		r.sessions[sessionID] = st
	}
	st.Turns++
	st.TotalLatency += latency
	switch outcome {
	case OutcomeScripted:
		st.ScriptedTurns++
	case OutcomeRetry:
		st.RetryTurns++
	case OutcomeSafety:
		st.SafetyTurns++
	case OutcomeAI:
		st.AITurns++
	}
	if aiTriggered {
		// OutcomeAI already counted above; this catches AI-assisted turns
		// recorded under another outcome (e.g. a rejected proposal retry).
		if outcome != OutcomeAI {
			st.AITurns++
		}
	}
	st.DelegateTokens += delegateTokens
	st.AvgLatencyMs = float64(st.TotalLatency.Milliseconds()) / float64(st.Turns)
	st.ScriptHitRate = float64(st.ScriptedTurns) / float64(st.Turns)
	st.AIUsageRate = float64(st.AITurns) / float64(st.Turns)
}

// Session returns a copy of one session's aggregates.
func (r *Recorder) Session(sessionID string) (SessionStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		return SessionStats{}, false
	}
	return *st, true
}

// Forget drops a retired session's aggregates.
func (r *Recorder) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// SetActiveSessions updates the resident-session gauge.
func (r *Recorder) SetActiveSessions(n int) {
	r.activeSessions.Set(float64(n))
}
