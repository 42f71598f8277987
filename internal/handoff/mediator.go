// Package handoff selects the agent that handles each turn and tracks agent
// availability and load.
//
// Selection order, first match wins:
//  1. an explicitly mentioned agent (message mentions, <@ID> or @Name)
//  2. the role owning the conversation's workflow stage
//  3. the first keyword-matched role with an available agent
//
// A mentioned agent that is unavailable is replaced only by another agent of
// the same role. Within a role the least recently assigned agent wins.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/agent"
	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
	"github.com/deeplifeai/swarmweaver-sub001/internal/events"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
	"github.com/deeplifeai/swarmweaver-sub001/internal/workflow"
)

// ErrUnknownAgent is returned for agent ids that are not registered.
var ErrUnknownAgent = errors.New("unknown agent")

// Selection reasons.
const (
	ReasonMention         = "mention"
	ReasonMentionFallback = "mention_fallback"
	ReasonWorkflow        = "workflow_stage"
	ReasonKeyword         = "keyword"
)

// StateSource provides workflow state for stage routing.
type StateSource interface {
	GetState(ctx context.Context, key chat.Key) (workflow.State, error)
}

// Config holds mediator settings.
type Config struct {
	// MaxLoad caps concurrent turns per agent.
	MaxLoad int
	// HandoffTTL expires pending handoffs that were never taken up.
	HandoffTTL time.Duration
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{MaxLoad: 3, HandoffTTL: 30 * time.Minute}
}

// FromAppConfig converts the configuration file section.
func FromAppConfig(rc config.RoutingConfig) Config {
	return Config{MaxLoad: rc.MaxLoad, HandoffTTL: rc.HandoffTTL}
}

// Decision is the outcome of agent selection.
type Decision struct {
	Agent  *agent.Agent
	Reason string
}

// AgentStatus is a point-in-time view of one agent's availability.
type AgentStatus struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Role             agent.Role `json:"role"`
	Available        bool       `json:"available"`
	CurrentLoad      int        `json:"current_load"`
	LastAssignedTime time.Time  `json:"last_assigned_time"`
	Accepting        bool       `json:"accepting"`
}

type availability struct {
	available    bool
	load         int
	lastAssigned time.Time
}

type pendingKey struct {
	agentID string
	conv    string
}

// Mediator routes turns to agents.
type Mediator struct {
	registry *agent.Registry
	states   StateSource
	cfg      Config
	emitter  events.Emitter
	logger   *logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	avail   map[string]*availability
	pending map[pendingKey]time.Time
}

// Option configures a Mediator.
type Option func(*Mediator)

// WithEmitter sets the event emitter.
func WithEmitter(e events.Emitter) Option {
	return func(m *Mediator) { m.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Mediator) { m.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Mediator) { m.now = now }
}

// NewMediator creates a mediator. Every registered agent starts available
// with zero load. states may be nil to disable stage routing.
func NewMediator(reg *agent.Registry, states StateSource, cfg Config, opts ...Option) *Mediator {
	def := DefaultConfig()
	if cfg.MaxLoad < 1 {
		cfg.MaxLoad = def.MaxLoad
	}
	if cfg.HandoffTTL <= 0 {
		cfg.HandoffTTL = def.HandoffTTL
	}
	m := &Mediator{
		registry: reg,
		states:   states,
		cfg:      cfg,
		emitter:  events.Nop{},
		logger:   logging.Nop(),
		now:      time.Now,
		avail:    make(map[string]*availability, reg.Len()),
		pending:  make(map[pendingKey]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("handoff")
	for _, a := range reg.All() {
		m.avail[a.ID] = &availability{available: true}
	}
	return m
}

// Registry returns the agent registry.
func (m *Mediator) Registry() *agent.Registry {
	return m.registry
}

// DetermineNextAgent selects the agent for msg without reserving it.
// Decision.Agent is nil when no suitable agent is available.
func (m *Mediator) DetermineNextAgent(ctx context.Context, msg chat.MessageReceived) Decision {
	st := m.workflowState(ctx, msg.Key())

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decideLocked(ctx, msg, st)
}

// AssignNextAgent selects the agent for msg and starts its turn under the
// same lock, so concurrent conversations cannot push an agent past
// MaxLoad. release ends the turn; it is safe to call more than once and is
// a no-op when no agent was assigned.
func (m *Mediator) AssignNextAgent(ctx context.Context, msg chat.MessageReceived) (Decision, func()) {
	key := msg.Key()
	st := m.workflowState(ctx, key)

	m.mu.Lock()
	d := m.decideLocked(ctx, msg, st)
	if d.Agent != nil {
		m.beginTurnLocked(d.Agent.ID, key)
	}
	m.mu.Unlock()

	if d.Agent == nil {
		return d, func() {}
	}
	var once sync.Once
	id := d.Agent.ID
	return d, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			_ = m.releaseLocked(id)
		})
	}
}

// workflowState looks up the conversation's stage for routing. Lookup
// failures are reported and routing continues without a stage.
func (m *Mediator) workflowState(ctx context.Context, key chat.Key) workflow.State {
	if m.states == nil {
		return nil
	}
	st, err := m.states.GetState(ctx, key)
	if err != nil {
		m.logger.Warn(ctx, "workflow lookup failed during routing", zap.Error(err))
		m.emitter.Emit(events.ErrorEvent{
			Key:       key,
			Source:    "handoff",
			Category:  string(apperr.Classify(err)),
			Error:     err.Error(),
			Message:   "workflow lookup failed during routing",
			Timestamp: m.now(),
		})
		return nil
	}
	return st
}

func (m *Mediator) decideLocked(ctx context.Context, msg chat.MessageReceived, st workflow.State) Decision {
	m.expirePendingLocked()

	if mentioned := m.mentionedAgent(msg); mentioned != nil {
		if m.acceptingLocked(mentioned.ID) {
			return Decision{Agent: mentioned, Reason: ReasonMention}
		}
		alt := m.pickLRULocked(mentioned.Role)
		if alt == nil {
			m.logger.Info(ctx, "mentioned agent unavailable and no same-role fallback",
				zap.String("agent", mentioned.ID),
				zap.String("role", string(mentioned.Role)),
			)
			return Decision{}
		}
		m.logger.Info(ctx, "mentioned agent unavailable, using same-role fallback",
			zap.String("agent", mentioned.ID),
			zap.String("fallback", alt.ID),
		)
		return Decision{Agent: alt, Reason: ReasonMentionFallback}
	}

	if st != nil {
		if a := m.pickLRULocked(RoleForState(st)); a != nil {
			return Decision{Agent: a, Reason: ReasonWorkflow}
		}
	}

	for _, role := range KeywordRoles(msg.Content) {
		if a := m.pickLRULocked(role); a != nil {
			return Decision{Agent: a, Reason: ReasonKeyword}
		}
	}
	return Decision{}
}

func (m *Mediator) mentionedAgent(msg chat.MessageReceived) *agent.Agent {
	for _, id := range msg.Mentions {
		if id == msg.SenderID {
			continue
		}
		if a, ok := m.registry.Get(id); ok {
			return a
		}
	}
	for _, a := range ResolveMentions(m.registry, msg.Content) {
		if a.ID != msg.SenderID {
			return a
		}
	}
	return nil
}

// pickLRULocked returns the available agent of role assigned least recently, with
// ties broken by registration order.
func (m *Mediator) pickLRULocked(role agent.Role) *agent.Agent {
	if role == "" {
		return nil
	}
	var candidates []*agent.Agent
	for _, a := range m.registry.ByRole(role) {
		if m.acceptingLocked(a.ID) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return m.avail[candidates[i].ID].lastAssigned.Before(m.avail[candidates[j].ID].lastAssigned)
	})
	return candidates[0]
}

func (m *Mediator) acceptingLocked(id string) bool {
	st, ok := m.avail[id]
	return ok && st.available && st.load < m.cfg.MaxLoad
}

// IsAgentAvailable reports available && currentLoad < MaxLoad.
func (m *Mediator) IsAgentAvailable(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expirePendingLocked()
	return m.acceptingLocked(id)
}

// MarkAgentBusy adds one unit of load, capped at MaxLoad, and stamps the
// assignment time.
func (m *Mediator) MarkAgentBusy(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markBusyLocked(id)
}

func (m *Mediator) markBusyLocked(id string) error {
	st, ok := m.avail[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	if st.load < m.cfg.MaxLoad {
		st.load++
	}
	st.lastAssigned = m.now()
	return nil
}

// MarkAgentAvailable removes one unit of load, floored at zero.
func (m *Mediator) MarkAgentAvailable(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(id)
}

func (m *Mediator) releaseLocked(id string) error {
	st, ok := m.avail[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	if st.load > 0 {
		st.load--
	}
	return nil
}

// SetAgentAvailability explicitly enables or disables an agent. Load is
// unchanged.
func (m *Mediator) SetAgentAvailability(id string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.avail[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	st.available = available
	return nil
}

// RecordHandoff emits a HandoffEvent, marks the receiver busy and reserves
// that load for the receiver's next turn in the conversation. It does not
// change workflow state.
func (m *Mediator) RecordHandoff(ctx context.Context, fromID, toID string, key chat.Key, reason string) error {
	m.mu.Lock()
	st, ok := m.avail[toID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAgent, toID)
	}
	pk := pendingKey{agentID: toID, conv: key.String()}
	switch _, dup := m.pending[pk]; {
	case dup:
		// One reservation per agent and conversation.
		m.pending[pk] = m.now()
	case st.load < m.cfg.MaxLoad:
		st.load++
		m.pending[pk] = m.now()
	}
	st.lastAssigned = m.now()
	m.mu.Unlock()

	m.logger.Info(ctx, "handoff recorded",
		zap.String("from", fromID),
		zap.String("to", toID),
		zap.String("reason", reason),
	)
	m.emitter.Emit(events.HandoffEvent{
		Key:         key,
		FromAgentID: fromID,
		ToAgentID:   toID,
		Reason:      reason,
		Timestamp:   m.now(),
	})
	return nil
}

// BeginTurn accounts for agentID starting a turn in key. A pending handoff
// reservation is consumed instead of adding load a second time.
func (m *Mediator) BeginTurn(agentID string, key chat.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expirePendingLocked()
	if _, ok := m.avail[agentID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	m.beginTurnLocked(agentID, key)
	return nil
}

func (m *Mediator) beginTurnLocked(agentID string, key chat.Key) {
	pk := pendingKey{agentID: agentID, conv: key.String()}
	if _, ok := m.pending[pk]; ok {
		delete(m.pending, pk)
		m.avail[agentID].lastAssigned = m.now()
		return
	}
	_ = m.markBusyLocked(agentID)
}

// EndTurn releases the load taken by BeginTurn.
func (m *Mediator) EndTurn(agentID string) error {
	return m.MarkAgentAvailable(agentID)
}

// PendingHandoffs returns the number of unexpired reservations.
func (m *Mediator) PendingHandoffs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expirePendingLocked()
	return len(m.pending)
}

func (m *Mediator) expirePendingLocked() {
	now := m.now()
	for pk, at := range m.pending {
		if now.Sub(at) > m.cfg.HandoffTTL {
			delete(m.pending, pk)
			_ = m.releaseLocked(pk.agentID)
		}
	}
}

// Snapshot returns every agent's availability in registration order.
func (m *Mediator) Snapshot() []AgentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expirePendingLocked()

	agents := m.registry.All()
	out := make([]AgentStatus, 0, len(agents))
	for _, a := range agents {
		st := m.avail[a.ID]
		out = append(out, AgentStatus{
			ID:               a.ID,
			Name:             a.Name,
			Role:             a.Role,
			Available:        st.available,
			CurrentLoad:      st.load,
			LastAssignedTime: st.lastAssigned,
			Accepting:        m.acceptingLocked(a.ID),
		})
	}
	return out
}
