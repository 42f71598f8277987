package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/events"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
)

// ErrNilState is returned by SetState when state is nil.
var ErrNilState = errors.New("workflow state is nil")

// transitions is the fixed transition graph. The empty stage is the
// "no state" origin.
var transitions = map[Stage][]Stage{
	"":                 {StageIssueCreated},
	StageIssueCreated:  {StageBranchCreated},
	StageBranchCreated: {StageCodeCommitted},
	StageCodeCommitted: {StageCodeCommitted, StagePRCreated},
	StagePRCreated:     {StagePRReviewed},
	StagePRReviewed:    {StagePRMerged, StageCodeCommitted},
	StagePRMerged:      {StageIssueCreated},
}

// Next returns the stages reachable from stage in the transition table.
// Pass "" for a conversation with no state.
func Next(from Stage) []Stage {
	next := transitions[from]
	out := make([]Stage, len(next))
	copy(out, next)
	return out
}

// Allowed reports whether the table has an edge from -> to.
func Allowed(from, to Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore overrides the default MemoryStore.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithEmitter sets the event emitter.
func WithEmitter(e events.Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns per-conversation workflow state. Callers serialize work per
// conversation; the Manager itself only guarantees store-level safety.
type Manager struct {
	store   Store
	emitter events.Emitter
	logger  *logging.Logger
	now     func() time.Time
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		store:   NewMemoryStore(),
		emitter: events.Nop{},
		logger:  logging.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("workflow")
	return m
}

// GetState returns the current state, or nil when the conversation has none.
func (m *Manager) GetState(ctx context.Context, key chat.Key) (State, error) {
	st, err := m.store.Get(ctx, key.String())
	if errors.Is(err, ErrStateNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow state %s: %w", key, err)
	}
	return st, nil
}

// SetState overwrites the current state and emits a WorkflowTransitionEvent.
// It does not consult the transition table; use CanTransition first.
func (m *Manager) SetState(ctx context.Context, key chat.Key, state State) error {
	if state == nil {
		return ErrNilState
	}
	prev, err := m.GetState(ctx, key)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, key.String(), state); err != nil {
		return fmt.Errorf("set workflow state %s: %w", key, err)
	}

	var prevStage Stage
	if prev != nil {
		prevStage = prev.Stage()
	}
	m.logger.Info(ctx, "workflow transition",
		zap.String("conversation", key.String()),
		zap.String("from", string(prevStage)),
		zap.String("to", string(state.Stage())),
		zap.Int("issue", state.Issue()),
	)
	m.emitter.Emit(events.WorkflowTransitionEvent{
		Key:           key,
		PreviousStage: string(prevStage),
		NewStage:      string(state.Stage()),
		IssueNumber:   state.Issue(),
		PRNumber:      PRNumberOf(state),
		Timestamp:     m.now(),
	})
	return nil
}

// CanTransition reports whether target is reachable from the current stage.
// Only the table is consulted, never the state payload.
func (m *Manager) CanTransition(ctx context.Context, key chat.Key, target Stage) (bool, error) {
	st, err := m.GetState(ctx, key)
	if err != nil {
		return false, err
	}
	return Allowed(stageOf(st), target), nil
}

// AvailableTransitions returns the stages reachable from the current stage.
func (m *Manager) AvailableTransitions(ctx context.Context, key chat.Key) ([]Stage, error) {
	st, err := m.GetState(ctx, key)
	if err != nil {
		return nil, err
	}
	return Next(stageOf(st)), nil
}

// Reset deletes the conversation's state.
func (m *Manager) Reset(ctx context.Context, key chat.Key) error {
	if err := m.store.Delete(ctx, key.String()); err != nil {
		return fmt.Errorf("reset workflow state %s: %w", key, err)
	}
	m.logger.Info(ctx, "workflow reset", zap.String("conversation", key.String()))
	return nil
}

func stageOf(s State) Stage {
	if s == nil {
		return ""
	}
	return s.Stage()
}
