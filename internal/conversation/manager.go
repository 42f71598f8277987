package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
	"github.com/deeplifeai/swarmweaver-sub001/internal/events"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
)

// SummaryPrefix introduces the synthetic summary message.
const SummaryPrefix = "Previous conversation summary: "

// placeholderSummary stands in when the very first summarization fails.
const placeholderSummary = "Earlier messages in this conversation could not be summarized."

// ErrNoSummarizer is returned by ForceSummarize when no summarizer is configured.
var ErrNoSummarizer = errors.New("no summarizer configured")

// Config holds memory settings.
type Config struct {
	MaxRecentMessages      int
	SummaryThreshold       int
	// SummaryRetries is the number of attempts per summarization.
	SummaryRetries    int
	SummaryRetryDelay time.Duration
	// SummaryMaxFailures failed summarizations pause automatic attempts
	// until SummaryRefreshInterval has passed since the last one.
	SummaryMaxFailures     int
	SummaryRefreshInterval time.Duration
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		MaxRecentMessages:      20,
		SummaryThreshold:       30,
		SummaryRetries:         3,
		SummaryRetryDelay:      5 * time.Second,
		SummaryMaxFailures:     3,
		SummaryRefreshInterval: 30 * time.Minute,
	}
}

// FromAppConfig converts the configuration file section.
func FromAppConfig(cc config.ConversationConfig) Config {
	return Config{
		MaxRecentMessages:      cc.MaxRecentMessages,
		SummaryThreshold:       cc.SummaryThreshold,
		SummaryRetries:         cc.SummaryRetries,
		SummaryRetryDelay:      cc.SummaryRetryDelay,
		SummaryMaxFailures:     cc.SummaryMaxFailures,
		SummaryRefreshInterval: cc.SummaryRefreshInterval,
	}
}

// Summary is the condensed form of a conversation's older turns.
type Summary struct {
	Text string
	// LastSummarizedIndex is the absolute index of the last turn covered by
	// Text, or -1. It never decreases.
	LastSummarizedIndex int
	LastUpdated         time.Time
	FailedAttempts      int
	LastAttempt         time.Time
}

type conversation struct {
	mu sync.Mutex
	// messages[0] has absolute index offset.
	messages []chat.Message
	offset   int
	summary  Summary
}

func (c *conversation) total() int {
	return c.offset + len(c.messages)
}

// Manager owns conversation memory.
type Manager struct {
	cfg        Config
	summarizer Summarizer
	emitter    events.Emitter
	logger     *logging.Logger
	now        func() time.Time

	mu    sync.Mutex
	convs map[string]*conversation
}

// Option configures a Manager.
type Option func(*Manager)

// WithSummarizer sets the summarizer. Without one, history is still bounded
// but never summarized.
func WithSummarizer(s Summarizer) Option {
	return func(m *Manager) { m.summarizer = s }
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

// NewManager creates a Manager. Zero config fields take defaults.
func NewManager(cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.MaxRecentMessages < 1 {
		cfg.MaxRecentMessages = def.MaxRecentMessages
	}
	if cfg.SummaryThreshold <= cfg.MaxRecentMessages {
		cfg.SummaryThreshold = cfg.MaxRecentMessages + (def.SummaryThreshold - def.MaxRecentMessages)
	}
	if cfg.SummaryRetries < 1 {
		cfg.SummaryRetries = def.SummaryRetries
	}
	if cfg.SummaryMaxFailures < 1 {
		cfg.SummaryMaxFailures = def.SummaryMaxFailures
	}
	if cfg.SummaryRetryDelay < 0 {
		cfg.SummaryRetryDelay = 0
	}
	if cfg.SummaryRefreshInterval <= 0 {
		cfg.SummaryRefreshInterval = def.SummaryRefreshInterval
	}
	m := &Manager{
		cfg:     cfg,
		emitter: events.Nop{},
		logger:  logging.Nop(),
		now:     time.Now,
		convs:   make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("conversation")
	return m
}

func (m *Manager) get(key chat.Key, create bool) *conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[key.String()]
	if !ok && create {
		c = &conversation{summary: Summary{LastSummarizedIndex: -1}}
		m.convs[key.String()] = c
	}
	return c
}

// GetConversationHistory returns at most MaxRecentMessages recent turns,
// preceded by the summary message when a summary exists.
func (m *Manager) GetConversationHistory(key chat.Key) []chat.Message {
	c := m.get(key, false)
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	recent := c.messages
	if len(recent) > m.cfg.MaxRecentMessages {
		recent = recent[len(recent)-m.cfg.MaxRecentMessages:]
	}

	out := make([]chat.Message, 0, len(recent)+1)
	if c.summary.Text != "" {
		out = append(out, chat.Message{
			Role:      chat.RoleSystem,
			Content:   SummaryPrefix + c.summary.Text,
			Timestamp: c.summary.LastUpdated,
		})
	}
	return append(out, recent...)
}

// UpdateConversationHistory appends a user turn and the assistant's reply,
// then summarizes if the backlog exceeds the threshold.
func (m *Manager) UpdateConversationHistory(ctx context.Context, key chat.Key, userMsg, assistantMsg chat.Message) {
	m.append(ctx, key, userMsg, assistantMsg)
}

// AppendMessage appends one turn, then summarizes if needed.
func (m *Manager) AppendMessage(ctx context.Context, key chat.Key, msg chat.Message) {
	m.append(ctx, key, msg)
}

func (m *Manager) append(ctx context.Context, key chat.Key, msgs ...chat.Message) {
	c := m.get(key, true)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := m.now()
	for _, msg := range msgs {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		c.messages = append(c.messages, msg)
	}

	if c.total()-(c.summary.LastSummarizedIndex+1) > m.cfg.SummaryThreshold {
		m.autoSummarize(ctx, key, c)
	}
}

// autoSummarize honors the failure back-off. Caller holds c.mu.
func (m *Manager) autoSummarize(ctx context.Context, key chat.Key, c *conversation) {
	if m.summarizer == nil {
		m.trimUnsummarized(c)
		return
	}
	if c.summary.FailedAttempts >= m.cfg.SummaryMaxFailures {
		if m.now().Sub(c.summary.LastAttempt) < m.cfg.SummaryRefreshInterval {
			return
		}
		c.summary.FailedAttempts = 0
	}
	_ = m.generateSummary(ctx, key, c)
}

// trimUnsummarized bounds memory when summarization is disabled.
func (m *Manager) trimUnsummarized(c *conversation) {
	if over := len(c.messages) - m.cfg.SummaryThreshold; over > 0 {
		c.messages = append([]chat.Message(nil), c.messages[over:]...)
		c.offset += over
	}
}

// generateSummary summarizes [LastSummarizedIndex+1, total-MaxRecentMessages).
// Caller holds c.mu.
func (m *Manager) generateSummary(ctx context.Context, key chat.Key, c *conversation) error {
	start := c.summary.LastSummarizedIndex + 1
	end := c.total() - m.cfg.MaxRecentMessages
	if end <= start {
		return nil
	}
	slice := c.messages[start-c.offset : end-c.offset]

	c.summary.LastAttempt = m.now()
	previous := c.summary.Text
	if previous == placeholderSummary {
		previous = ""
	}

	var text string
	var err error
	for attempt := 1; attempt <= m.cfg.SummaryRetries; attempt++ {
		text, err = m.summarizer.Summarize(ctx, previous, slice)
		if err == nil {
			break
		}
		m.logger.Warn(ctx, "summarization attempt failed",
			zap.String("conversation", key.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < m.cfg.SummaryRetries && !sleep(ctx, m.cfg.SummaryRetryDelay) {
			err = ctx.Err()
			break
		}
	}

	if err != nil {
		c.summary.FailedAttempts++
		if c.summary.Text == "" {
			c.summary.Text = placeholderSummary
			c.summary.LastUpdated = m.now()
		}
		m.logger.Error(ctx, "summarization failed",
			zap.String("conversation", key.String()),
			zap.Int("failed_attempts", c.summary.FailedAttempts),
			zap.Error(err),
		)
		m.emitter.Emit(events.ErrorEvent{
			Key:       key,
			Source:    "conversation",
			Category:  string(apperr.Classify(err)),
			Error:     err.Error(),
			Message:   "conversation summarization failed",
			Timestamp: m.now(),
		})
		return fmt.Errorf("summarize %s: %w", key, err)
	}

	c.summary.Text = text
	c.summary.LastSummarizedIndex = end - 1
	c.summary.LastUpdated = m.now()
	c.summary.FailedAttempts = 0

	// Drop everything the summary now covers.
	drop := end - c.offset
	c.messages = append([]chat.Message(nil), c.messages[drop:]...)
	c.offset = end

	m.logger.Info(ctx, "conversation summarized",
		zap.String("conversation", key.String()),
		zap.Int("from", start),
		zap.Int("to", end),
	)
	return nil
}

// ForceSummarize summarizes the backlog now, ignoring the threshold and
// failure back-off.
func (m *Manager) ForceSummarize(ctx context.Context, key chat.Key) error {
	if m.summarizer == nil {
		return ErrNoSummarizer
	}
	c := m.get(key, false)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return m.generateSummary(ctx, key, c)
}

// ResetConversation clears history and summary.
func (m *Manager) ResetConversation(key chat.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, key.String())
}

// GetSummary returns the conversation's summary state.
func (m *Manager) GetSummary(key chat.Key) (Summary, bool) {
	c := m.get(key, false)
	if c == nil {
		return Summary{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary, c.summary.LastSummarizedIndex >= 0 || c.summary.Text != ""
}

// Stats reports stored and total turn counts for a conversation.
func (m *Manager) Stats(key chat.Key) (stored, total int) {
	c := m.get(key, false)
	if c == nil {
		return 0, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages), c.total()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
