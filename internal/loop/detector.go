// Package loop flags runaway repetition of identical actions within a
// conversation.
//
// Detection is advisory: RecordAction only returns a signal and never blocks
// or alters the caller's control flow.
package loop

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
)

// Config holds detector settings.
type Config struct {
	// Window is the trailing interval over which repeats are counted.
	Window time.Duration
	// Cooldown clears history when no success was recorded for this long.
	Cooldown time.Duration
	// Threshold is the number of identical actions within Window, including
	// the current one, that flags a loop.
	Threshold int
	// SweepInterval is how often idle conversations are evicted.
	SweepInterval time.Duration
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		Window:        5 * time.Minute,
		Cooldown:      10 * time.Minute,
		Threshold:     3,
		SweepInterval: time.Hour,
	}
}

// FromAppConfig converts the configuration file section.
func FromAppConfig(lc config.LoopConfig) Config {
	return Config{
		Window:        lc.Window,
		Cooldown:      lc.Cooldown,
		Threshold:     lc.Threshold,
		SweepInterval: lc.SweepInterval,
	}
}

type record struct {
	action string
	at     time.Time
}

type history struct {
	records      []record
	lastSuccess  time.Time
	lastActivity time.Time
}

// Detector tracks recent actions per conversation.
type Detector struct {
	cfg    Config
	logger *logging.Logger
	now    func() time.Time

	mu    sync.Mutex
	convs map[string]*history

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// New creates a detector. Zero config fields take defaults.
func New(cfg Config, opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Threshold < 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	d := &Detector{
		cfg:    cfg,
		logger: logging.Nop(),
		now:    time.Now,
		convs:  make(map[string]*history),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("loop")
	return d
}

func (d *Detector) historyFor(conversationID string, now time.Time) *history {
	h, ok := d.convs[conversationID]
	if !ok {
		h = &history{lastSuccess: now, lastActivity: now}
		d.convs[conversationID] = h
	}
	return h
}

// RecordAction appends action to the conversation's history and reports
// whether the action looks like a loop.
func (d *Detector) RecordAction(conversationID, action string) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.historyFor(conversationID, now)
	if len(h.records) > 0 && now.Sub(h.lastSuccess) > d.cfg.Cooldown {
		h.records = h.records[:0]
		h.lastSuccess = now
	}

	kept := h.records[:0]
	for _, r := range h.records {
		if now.Sub(r.at) <= d.cfg.Window {
			kept = append(kept, r)
		}
	}
	h.records = kept

	count := 0
	for _, r := range h.records {
		if r.action == action {
			count++
		}
	}
	h.records = append(h.records, record{action: action, at: now})
	h.lastActivity = now

	return count+1 >= d.cfg.Threshold
}

// MarkWorkflowSuccess records forward progress. A non-empty action clears
// only that action's records; an empty action clears the whole history.
func (d *Detector) MarkWorkflowSuccess(conversationID, action string) {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.historyFor(conversationID, now)
	if action == "" {
		h.records = h.records[:0]
	} else {
		kept := h.records[:0]
		for _, r := range h.records {
			if r.action != action {
				kept = append(kept, r)
			}
		}
		h.records = kept
	}
	h.lastSuccess = now
	h.lastActivity = now
}

// Count returns how many records of action are currently held for the
// conversation, without pruning.
func (d *Detector) Count(conversationID, action string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.convs[conversationID]
	if !ok {
		return 0
	}
	n := 0
	for _, r := range h.records {
		if r.action == action {
			n++
		}
	}
	return n
}

// Reset forgets the conversation.
func (d *Detector) Reset(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.convs, conversationID)
}

// Len returns the number of tracked conversations.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.convs)
}

// Sweep evicts conversations idle for more than twice the window and
// returns how many were removed.
func (d *Detector) Sweep() int {
	now := d.now()
	idle := 2 * d.cfg.Window

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id, h := range d.convs {
		if now.Sub(h.lastActivity) > idle {
			delete(d.convs, id)
			removed++
		}
	}
	return removed
}

// Start runs the periodic sweep until ctx is done or Stop is called.
// Calling Start more than once has no effect.
func (d *Detector) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.sweepLoop(ctx)
	})
}

func (d *Detector) sweepLoop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			if n := d.Sweep(); n > 0 {
				d.logger.Debug(ctx, "evicted idle conversations", zap.Int("count", n))
			}
		}
	}
}

// Stop ends the sweep and waits for it to exit. It is safe to call when
// Start was never called.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	started := true
	d.startOnce.Do(func() { started = false })
	if started {
		<-d.done
	}
}
