package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/agent"
	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
	"github.com/deeplifeai/swarmweaver-sub001/internal/events"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
)

const instrumentationName = "github.com/deeplifeai/swarmweaver-sub001/internal/functions"

// DefaultTimeout bounds a single handler invocation.
const DefaultTimeout = 30 * time.Second

// Registry errors.
var (
	ErrUnknownFunction  = errors.New("unknown function")
	ErrDuplicate        = errors.New("function already registered")
	ErrInvalidSpec      = errors.New("invalid function spec")
	ErrNotPermitted     = errors.New("function not permitted for agent")
	ErrInvalidArguments = errors.New("invalid function arguments")
	ErrTimeout          = errors.New("function timed out")
)

// Spec describes a function to the model.
type Spec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Handler performs a function. args has already passed schema validation.
// The returned value must be JSON-serializable.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Result is the outcome of Execute.
type Result struct {
	Success  bool            `json:"success"`
	Data     any             `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Category apperr.Category `json:"category,omitempty"`
}

type entry struct {
	spec    Spec
	schema  *jsonschema.Schema
	handler Handler
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	agents  *agent.Registry
	timeout time.Duration
	emitter events.Emitter
	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithAgents enables per-agent allowlists. Without it every agent may call
// every function.
func WithAgents(reg *agent.Registry) Option {
	return func(r *Registry) { r.agents = reg }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithEmitter sets the event emitter.
func WithEmitter(e events.Emitter) Option {
	return func(r *Registry) { r.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithTracer sets the tracer used for execution spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) { r.tracer = t }
}

// WithMetrics sets execution metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		timeout: DefaultTimeout,
		emitter: events.Nop{},
		logger:  logging.Nop(),
		tracer:  otel.Tracer(instrumentationName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("functions")
	return r
}

// FromAppConfig returns the options for the functions configuration section.
func FromAppConfig(fc config.FunctionsConfig) []Option {
	return []Option{WithTimeout(fc.Timeout)}
}

// Register adds a function. The parameter schema is compiled once here.
func (r *Registry) Register(spec Spec, h Handler) error {
	if spec.Name == "" || h == nil {
		return fmt.Errorf("%w: name and handler are required", ErrInvalidSpec)
	}
	if len(spec.Parameters) == 0 {
		spec.Parameters = json.RawMessage(`{"type":"object"}`)
	}
	schema, err := jsonschema.NewCompiler().Compile(spec.Parameters)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSpec, spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, spec.Name)
	}
	r.entries[spec.Name] = &entry{spec: spec, schema: schema, handler: h}
	return nil
}

// MustRegister is Register that panics on error. For static wiring only.
func (r *Registry) MustRegister(spec Spec, h Handler) {
	if err := r.Register(spec, h); err != nil {
		panic(err)
	}
}

// Specs returns the specs for names that are registered, sorted by name.
// No names means all functions.
func (r *Registry) Specs(names ...string) []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Spec
	if len(names) == 0 {
		for _, e := range r.entries {
			out = append(out, e.spec)
		}
	} else {
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			if e, ok := r.entries[n]; ok && !seen[n] {
				seen[n] = true
				out = append(out, e.spec)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SpecsFor returns the specs the agent may call.
func (r *Registry) SpecsFor(a *agent.Agent) []Spec {
	if a == nil {
		return nil
	}
	if len(a.Functions) == 0 {
		return nil
	}
	return r.Specs(a.Functions...)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Execute runs the named function for agentID. The conversation key is only
// used to attribute the emitted event.
func (r *Registry) Execute(ctx context.Context, key chat.Key, name string, args json.RawMessage, agentID string) Result {
	ctx, span := r.tracer.Start(ctx, "functions.Execute",
		trace.WithAttributes(
			attribute.String("function.name", name),
			attribute.String("agent.id", agentID),
		),
	)
	defer span.End()

	start := r.now()
	data, err := r.execute(ctx, name, args, agentID)
	elapsed := r.now().Sub(start)

	res := Result{Success: err == nil, Data: data}
	ev := events.FunctionCalledEvent{
		Key:       key,
		Name:      name,
		AgentID:   agentID,
		Success:   err == nil,
		Duration:  elapsed,
		Timestamp: r.now(),
	}
	if err != nil {
		cat := apperr.Classify(err)
		res.Data = nil
		res.Error = err.Error()
		res.Category = cat
		ev.ErrorCategory = string(cat)
		ev.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn(ctx, "function failed",
			zap.String("function", name),
			zap.String("agent", agentID),
			zap.String("category", string(cat)),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
	} else {
		r.logger.Debug(ctx, "function executed",
			zap.String("function", name),
			zap.String("agent", agentID),
			zap.Duration("duration", elapsed),
		)
	}
	span.SetAttributes(attribute.Bool("function.success", res.Success))
	r.metrics.record(ctx, name, res.Category, elapsed)
	r.emitter.Emit(ev)
	return res
}

func (r *Registry) execute(ctx context.Context, name string, args json.RawMessage, agentID string) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "functions.Execute", fmt.Errorf("%w: %s", ErrUnknownFunction, name))
	}

	if r.agents != nil {
		a, ok := r.agents.Get(agentID)
		if !ok || !a.HasFunction(name) {
			return nil, apperr.New(apperr.Authorization, "functions.Execute",
				fmt.Errorf("%w: %s may not call %s", ErrNotPermitted, agentID, name))
		}
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := validate(e.schema, args); err != nil {
		return nil, apperr.New(apperr.Validation, "functions.Execute", err)
	}

	return r.run(ctx, e, args)
}

func validate(schema *jsonschema.Schema, args json.RawMessage) error {
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	result := schema.Validate(v)
	if result.Valid {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidArguments, result.Errors)
}

type outcome struct {
	data any
	err  error
}

// run races the handler against the timeout. The handler's context is
// cancelled on timeout but the handler is not waited for.
func (r *Registry) run(ctx context.Context, e *entry, args json.RawMessage) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error(ctx, "function handler panicked",
					zap.String("function", e.spec.Name),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()),
				)
				done <- outcome{err: apperr.Newf(apperr.Internal, "functions.Execute", "handler %s panicked: %v", e.spec.Name, p)}
			}
		}()
		data, err := e.handler(ctx, args)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.New(apperr.Timeout, "functions.Execute",
				fmt.Errorf("%w: %s after %s", ErrTimeout, e.spec.Name, r.timeout))
		}
		return nil, err
	}
}
