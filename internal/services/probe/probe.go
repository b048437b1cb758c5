package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Zepatrol/internal/domain/target"
)

const (
	ErrOffline            = "offline"
	ErrScoreNotIncreasing = "score not increasing"
)

// Outcome is the uniform result of one probe invocation.
type Outcome struct {
	OK        bool
	LatencyMS *int64
	Error     string
	Score     *float64

	// Offline is set when the endpoint answered but reported itself offline.
	Offline bool

	// Stagnant is set by the score verdict when an online node did not improve.
	Stagnant bool
}

func Failed(msg string) Outcome { return Outcome{OK: false, Error: msg} }

func failedAfter(msg string, lat time.Duration) Outcome {
	ms := lat.Milliseconds()
	return Outcome{OK: false, Error: msg, LatencyMS: &ms}
}

func okAfter(lat time.Duration) Outcome {
	ms := lat.Milliseconds()
	return Outcome{OK: true, LatencyMS: &ms}
}

type Prober interface {
	Probe(ctx context.Context, spec target.Spec) Outcome
}

type ProberFunc func(ctx context.Context, spec target.Spec) Outcome

func (f ProberFunc) Probe(ctx context.Context, spec target.Spec) Outcome { return f(ctx, spec) }

// Registry dispatches a spec to the prober registered for its method and
// bounds the call with a timeout. It never panics.
type Registry struct {
	probers map[target.Method]Prober
	timeout time.Duration
}

func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{probers: make(map[target.Method]Prober), timeout: timeout}
}

func (r *Registry) Register(m target.Method, p Prober) *Registry {
	r.probers[m] = p
	return r
}

func (r *Registry) Probe(ctx context.Context, spec target.Spec) (out Outcome) {
	if spec == nil {
		return Failed("no probe configured")
	}
	p, ok := r.probers[spec.Method()]
	if !ok {
		return Failed(fmt.Sprintf("unsupported validation method %q", spec.Method()))
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = Failed(fmt.Sprintf("probe panic: %v", rec))
		}
	}()
	return p.Probe(ctx, spec)
}

func mismatch(want target.Method, got target.Spec) Outcome {
	return Failed(fmt.Sprintf("%s prober got %T", want, got))
}
