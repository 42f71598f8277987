package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/agent"
	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
	"github.com/deeplifeai/swarmweaver-sub001/internal/conversation"
	"github.com/deeplifeai/swarmweaver-sub001/internal/events"
	"github.com/deeplifeai/swarmweaver-sub001/internal/handoff"
	"github.com/deeplifeai/swarmweaver-sub001/internal/llm"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
	"github.com/deeplifeai/swarmweaver-sub001/internal/loop"
	"github.com/deeplifeai/swarmweaver-sub001/internal/workflow"
)

const instrumentationName = "github.com/deeplifeai/swarmweaver-sub001/internal/orchestrator"

// Replies sent without an agent.
const (
	NoAgentReply = "No agent is available to handle this right now. Please try again shortly or mention a specific agent."
	EmptyReply   = "I don't have anything to add yet."
	LoopWarning  = "Loop warning: this request repeats recent activity in this conversation. " +
		"Do not repeat the same action. Summarize what has been done and ask for clarification if you are stuck."
)

// SystemSenderID is the sender of replies not attributed to an agent.
const SystemSenderID = "swarmweaver"

// ReasonReplyMention is the handoff reason for agents mentioned in a reply.
const ReasonReplyMention = "reply_mention"

// actionPrefixLen bounds the message text used as a loop action label.
const actionPrefixLen = 100

// ErrMissingDependency is returned by New when a required component is nil.
var ErrMissingDependency = errors.New("orchestrator dependency is required")

// Deps are the components the pipeline composes.
type Deps struct {
	Mediator  *handoff.Mediator
	Workflow  *workflow.Manager
	Loops     *loop.Detector
	Memory    *conversation.Manager
	Generator llm.Generator
	Functions Executor
	Sender    Sender
}

func (d Deps) validate() error {
	missing := []string{}
	if d.Mediator == nil {
		missing = append(missing, "mediator")
	}
	if d.Workflow == nil {
		missing = append(missing, "workflow")
	}
	if d.Loops == nil {
		missing = append(missing, "loops")
	}
	if d.Memory == nil {
		missing = append(missing, "memory")
	}
	if d.Generator == nil {
		missing = append(missing, "generator")
	}
	if d.Functions == nil {
		missing = append(missing, "functions")
	}
	if d.Sender == nil {
		missing = append(missing, "sender")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingDependency, strings.Join(missing, ", "))
	}
	return nil
}

// Config holds orchestrator settings.
type Config struct {
	// LaneCapacity is the number of messages a conversation may queue.
	LaneCapacity int
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{LaneCapacity: 64}
}

// FromAppConfig converts the configuration file section.
func FromAppConfig(oc config.OrchestratorConfig) Config {
	return Config{LaneCapacity: oc.LaneCapacity}
}

// Orchestrator runs the per-message pipeline.
type Orchestrator struct {
	deps    Deps
	emitter events.Emitter
	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *Metrics
	now     func() time.Time

	lanes *Dispatcher

	// base bounds in-flight work independently of submitting callers.
	base       context.Context
	cancelBase context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter sets the event emitter.
func WithEmitter(e events.Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMetrics sets pipeline metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. Every dependency is required.
func New(deps Deps, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.LaneCapacity < 1 {
		cfg.LaneCapacity = DefaultConfig().LaneCapacity
	}
	o := &Orchestrator{
		deps:    deps,
		emitter: events.Nop{},
		logger:  logging.Nop(),
		tracer:  otel.Tracer(instrumentationName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	o.base, o.cancelBase = context.WithCancel(context.Background())
	o.lanes = NewDispatcher(cfg.LaneCapacity, o.handle)
	return o, nil
}

// Dispatch queues msg on its conversation lane and returns without waiting.
// Only invalid messages, full lanes and a closed orchestrator are reported.
func (o *Orchestrator) Dispatch(ctx context.Context, msg chat.MessageReceived) error {
	_, err := o.submit(ctx, msg)
	return err
}

// Process queues msg and waits for its turn to complete. If ctx is done
// first, processing continues in the background and ctx's error is returned.
func (o *Orchestrator) Process(ctx context.Context, msg chat.MessageReceived) (*Turn, error) {
	done, err := o.submit(ctx, msg)
	if err != nil {
		return nil, err
	}
	select {
	case turn := <-done:
		return turn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Exec runs fn on key's lane, so it never interleaves with a turn of the
// same conversation, and waits for it. If ctx is done first, fn still runs
// and ctx's error is returned.
func (o *Orchestrator) Exec(ctx context.Context, key chat.Key, fn func(ctx context.Context) error) error {
	errc := make(chan error, 1)
	done, err := o.lanes.Run(context.WithoutCancel(ctx), key, func(ctx context.Context) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(o.base, cancel)
		defer stop()
		defer func() {
			if p := recover(); p != nil {
				o.logger.Error(ctx, "control action panicked",
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()),
				)
				errc <- apperr.Newf(apperr.Internal, "orchestrator.Exec", "panic: %v", p)
			}
		}()
		errc <- fn(ctx)
	})
	if err != nil {
		o.logger.Warn(ctx, "control action not queued",
			zap.String("conversation", key.String()),
			zap.Error(err),
		)
		return err
	}
	select {
	case <-done:
		return <-errc
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lanes returns the number of conversations with queued or running work.
func (o *Orchestrator) Lanes() int {
	return o.lanes.Lanes()
}

// Close stops accepting messages and waits for queued turns. When ctx ends
// first, in-flight turns are cancelled.
func (o *Orchestrator) Close(ctx context.Context) error {
	err := o.lanes.Close(ctx)
	o.cancelBase()
	return err
}

func (o *Orchestrator) submit(ctx context.Context, msg chat.MessageReceived) (<-chan *Turn, error) {
	if err := msg.Validate(); err != nil {
		err = apperr.New(apperr.Validation, "orchestrator.Dispatch", err)
		o.logger.Warn(ctx, "rejected inbound message", zap.Error(err))
		o.emitter.Emit(events.ErrorEvent{
			Key:       msg.Key(),
			Source:    "orchestrator",
			Category:  string(apperr.Validation),
			Error:     err.Error(),
			Message:   apperr.UserMessage(err),
			Timestamp: o.now(),
		})
		return nil, err
	}
	done, err := o.lanes.Submit(context.WithoutCancel(ctx), msg)
	if err != nil {
		o.logger.Warn(ctx, "message not queued",
			zap.String("conversation", msg.Key().String()),
			zap.Error(err),
		)
	}
	return done, err
}

// handle runs on the lane worker. The caller's cancellation has been
// detached; only Close cancels a running turn.
func (o *Orchestrator) handle(ctx context.Context, msg chat.MessageReceived) *Turn {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(o.base, cancel)
	defer stop()
	return o.process(ctx, msg)
}

func (o *Orchestrator) process(ctx context.Context, msg chat.MessageReceived) (turn *Turn) {
	key := msg.Key()
	turn = &Turn{
		Key:       key,
		Message:   msg,
		RequestID: uuid.NewString(),
		Phase:     PhaseReceived,
		StartedAt: o.now(),
	}
	ctx = logging.WithConversation(ctx, key.String())
	ctx = logging.WithRequestID(ctx, turn.RequestID)
	ctx, span := o.tracer.Start(ctx, "orchestrator.Process",
		trace.WithAttributes(
			attribute.String("conversation.key", key.String()),
			attribute.String("request.id", turn.RequestID),
		),
	)
	o.metrics.turnStarted(ctx)

	defer func() {
		if p := recover(); p != nil {
			o.logger.Error(ctx, "turn panicked",
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			o.fail(ctx, turn, apperr.Newf(apperr.Internal, "orchestrator.Process", "panic: %v", p))
		}
		turn.CompletedAt = o.now()
		elapsed := turn.CompletedAt.Sub(turn.StartedAt)

		span.SetAttributes(
			attribute.String("turn.phase", string(turn.Phase)),
			attribute.String("agent.id", turn.AgentID),
			attribute.Bool("loop.suspected", turn.LoopSuspected),
		)
		span.End()
		o.metrics.turnFinished(ctx, turn.Outcome(), elapsed)
		o.emitter.Emit(events.MessageProcessedEvent{
			Key:       key,
			AgentID:   turn.AgentID,
			Outcome:   turn.Outcome(),
			Duration:  elapsed,
			Timestamp: turn.CompletedAt,
		})
		o.logger.Info(ctx, "message processed",
			zap.String("agent", turn.AgentID),
			zap.String("phase", string(turn.Phase)),
			zap.Int("calls", len(turn.Calls)),
			zap.Duration("duration", elapsed),
		)
	}()

	if err := o.run(ctx, turn); err != nil {
		o.fail(ctx, turn, err)
	}
	return turn
}

func (o *Orchestrator) run(ctx context.Context, turn *Turn) error {
	msg, key := turn.Message, turn.Key

	if action := messageAction(msg); o.deps.Loops.RecordAction(key.String(), action) {
		o.loopSuspected(ctx, turn, action)
	}
	turn.Phase = PhaseLoopChecked

	dec, release := o.deps.Mediator.AssignNextAgent(ctx, msg)
	defer release()
	if dec.Agent == nil {
		return o.noAgent(ctx, turn)
	}
	a := dec.Agent
	turn.AgentID, turn.RouteReason = a.ID, dec.Reason
	ctx = logging.WithAgent(ctx, a.ID)
	turn.Phase = PhaseRouted
	o.logger.Debug(ctx, "message routed", zap.String("reason", dec.Reason))

	history := o.deps.Memory.GetConversationHistory(key)
	if turn.LoopSuspected {
		history = append(history, chat.Message{Role: chat.RoleSystem, Content: LoopWarning, Timestamp: o.now()})
	}
	userMsg := chat.Message{Role: chat.RoleUser, Content: msg.Content, Name: msg.SenderID, Timestamp: turn.StartedAt}
	history = append(history, userMsg)
	turn.Phase = PhaseContextFetched

	resp, err := o.generate(ctx, a, history)
	if err != nil {
		return err
	}
	turn.Phase = PhaseGenerated

	for _, call := range resp.ToolCalls {
		turn.Calls = append(turn.Calls, o.call(ctx, turn, a, call))
	}
	if len(resp.ToolCalls) > 0 {
		turn.Phase = PhaseFunctionsExecuted
	}

	turn.Reply = composeReply(resp.Text, turn.Calls)
	o.deps.Memory.UpdateConversationHistory(ctx, key, userMsg, chat.Message{
		Role:      chat.RoleAssistant,
		Content:   turn.Reply,
		Name:      a.ID,
		Timestamp: o.now(),
	})
	turn.Handoffs = o.handoffs(ctx, turn, a, resp.Text)
	turn.Phase = PhaseStateUpdated

	if err := o.deps.Sender.Send(ctx, chat.Outbound{
		ChannelID: key.ChannelID,
		ThreadID:  key.ThreadID,
		Text:      turn.Reply,
		SenderID:  a.ID,
	}); err != nil {
		return classified("orchestrator.deliver", err)
	}
	turn.Phase = PhaseDelivered
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, a *agent.Agent, history []chat.Message) (*llm.Response, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Generate",
		trace.WithAttributes(attribute.String("agent.id", a.ID)),
	)
	defer span.End()

	start := o.now()
	resp, err := o.deps.Generator.Generate(ctx, &llm.Request{
		System:   a.SystemPrompt,
		Messages: history,
		Tools:    o.deps.Functions.SpecsFor(a),
	})
	o.metrics.generated(ctx, a.ID, o.now().Sub(start), err != nil)
	if err == nil && resp == nil {
		err = apperr.Newf(apperr.API, "orchestrator.generate", "model returned no response")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classified("orchestrator.generate", err)
	}
	span.SetAttributes(
		attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
		attribute.Int("llm.input_tokens", resp.InputTokens),
		attribute.Int("llm.output_tokens", resp.OutputTokens),
	)
	return resp, nil
}

// call executes one requested function and applies its workflow
// side effect. Failures are recorded on the CallRecord, never returned.
func (o *Orchestrator) call(ctx context.Context, turn *Turn, a *agent.Agent, call llm.ToolCall) CallRecord {
	if action := functionAction(call.Name); o.deps.Loops.RecordAction(turn.Key.String(), action) {
		o.loopSuspected(ctx, turn, action)
	}

	res := o.deps.Functions.Execute(ctx, turn.Key, call.Name, call.Arguments, a.ID)
	rec := CallRecord{Call: call, Result: res}
	if !res.Success {
		return rec
	}

	stage, err := o.advance(ctx, turn.Key, call, res.Data)
	if err != nil {
		o.logger.Warn(ctx, "workflow update failed", zap.String("function", call.Name), zap.Error(err))
		o.emitter.Emit(events.ErrorEvent{
			Key:       turn.Key,
			Source:    "workflow",
			Category:  string(apperr.Classify(err)),
			Error:     err.Error(),
			Message:   "workflow state was not updated",
			Timestamp: o.now(),
		})
		return rec
	}
	rec.Transition = stage
	return rec
}

// advance moves the workflow forward when the call fits the current stage.
// It returns the empty stage when nothing changed.
func (o *Orchestrator) advance(ctx context.Context, key chat.Key, call llm.ToolCall, data any) (workflow.Stage, error) {
	current, err := o.deps.Workflow.GetState(ctx, key)
	if err != nil {
		return "", err
	}
	next, ok := NextState(call.Name, current, call.Arguments, data)
	if !ok {
		return "", nil
	}
	allowed, err := o.deps.Workflow.CanTransition(ctx, key, next.Stage())
	if err != nil {
		return "", err
	}
	if !allowed {
		o.logger.Debug(ctx, "transition not allowed", zap.String("function", call.Name), zap.String("to", string(next.Stage())))
		return "", nil
	}
	if err := o.deps.Workflow.SetState(ctx, key, next); err != nil {
		return "", err
	}
	o.deps.Loops.MarkWorkflowSuccess(key.String(), "")
	return next.Stage(), nil
}

// handoffs records a handoff to every other agent mentioned in text.
func (o *Orchestrator) handoffs(ctx context.Context, turn *Turn, from *agent.Agent, text string) []string {
	var out []string
	for _, to := range handoff.ResolveMentions(o.deps.Mediator.Registry(), text) {
		if to.ID == from.ID {
			continue
		}
		if err := o.deps.Mediator.RecordHandoff(ctx, from.ID, to.ID, turn.Key, ReasonReplyMention); err != nil {
			o.logger.Warn(ctx, "failed to record handoff", zap.String("to", to.ID), zap.Error(err))
			continue
		}
		out = append(out, to.ID)
	}
	return out
}

func (o *Orchestrator) noAgent(ctx context.Context, turn *Turn) error {
	o.logger.Warn(ctx, "no agent available")
	turn.Reply = NoAgentReply
	if err := o.deps.Sender.Send(ctx, chat.Outbound{
		ChannelID: turn.Key.ChannelID,
		ThreadID:  turn.Key.ThreadID,
		Text:      NoAgentReply,
		SenderID:  SystemSenderID,
	}); err != nil {
		return classified("orchestrator.deliver", err)
	}
	turn.Phase = PhaseNoAgent
	return nil
}

func (o *Orchestrator) loopSuspected(ctx context.Context, turn *Turn, action string) {
	turn.LoopSuspected = true
	repeats := o.deps.Loops.Count(turn.Key.String(), action)
	o.logger.Warn(ctx, "possible loop detected", zap.String("action", action), zap.Int("repeats", repeats))
	o.emitter.Emit(events.LoopSuspectedEvent{
		Key:       turn.Key,
		Action:    action,
		Repeats:   repeats,
		Timestamp: o.now(),
	})
}

// fail delivers a best-effort error reply and emits an ErrorEvent.
func (o *Orchestrator) fail(ctx context.Context, turn *Turn, err error) {
	cat := apperr.Classify(err)
	text := apperr.UserMessage(err)
	turn.Error = err.Error()
	turn.Reply = text
	turn.Phase = PhaseErrorDelivered

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	o.logger.Error(ctx, "message processing failed",
		zap.String("category", string(cat)),
		zap.Error(err),
	)
	o.emitter.Emit(events.ErrorEvent{
		Key:       turn.Key,
		Source:    "orchestrator",
		Category:  string(cat),
		Error:     err.Error(),
		Message:   text,
		Timestamp: o.now(),
	})

	sender := turn.AgentID
	if sender == "" {
		sender = SystemSenderID
	}
	if sendErr := o.deps.Sender.Send(ctx, chat.Outbound{
		ChannelID: turn.Key.ChannelID,
		ThreadID:  turn.Key.ThreadID,
		Text:      text,
		SenderID:  sender,
	}); sendErr != nil {
		o.logger.Warn(ctx, "failed to deliver error reply", zap.Error(sendErr))
	}
}

// classified keeps an existing category or infers one.
func classified(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.New(apperr.Classify(err), op, err)
}

func messageAction(msg chat.MessageReceived) string {
	content := strings.Join(strings.Fields(strings.ToLower(msg.Content)), " ")
	if r := []rune(content); len(r) > actionPrefixLen {
		content = string(r[:actionPrefixLen])
	}
	return "message:" + msg.SenderID + ":" + content
}

func functionAction(name string) string {
	return "function:" + name
}

const maxResultLen = 200

// composeReply appends one line per function call to the model's text.
func composeReply(text string, calls []CallRecord) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(text))
	for _, c := range calls {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(describeCall(c))
	}
	if b.Len() == 0 {
		return EmptyReply
	}
	return b.String()
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func describeCall(c CallRecord) string {
	if !c.Result.Success {
		return fmt.Sprintf("- %s failed: %s", c.Call.Name, c.Result.Error)
	}
	line := fmt.Sprintf("- %s succeeded", c.Call.Name)
	if c.Result.Data != nil {
		if raw, err := json.Marshal(c.Result.Data); err == nil {
			line += ": " + truncate(string(raw), maxResultLen)
		}
	}
	if c.Transition != "" {
		line += fmt.Sprintf(" (workflow: %s)", c.Transition)
	}
	return line
}
