package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
)

// Envelope is the JSON document published for every event.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Event     `json:"data"`
}

// NATSSink publishes events to NATS subjects of the form
//
//	{prefix}.{event_type}.{channel_id}
//
// Events without a conversation use "_" as the channel token.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
	now    func() time.Time
}

// NewNATSSink creates a sink. Subscribe its Handle method on a Bus.
func NewNATSSink(nc *nats.Conn, prefix string, logger *logging.Logger) *NATSSink {
	if logger == nil {
		logger = logging.Nop()
	}
	return &NATSSink{nc: nc, prefix: prefix, logger: logger.Named("events.nats"), now: time.Now}
}

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(event Event) string {
	return s.prefix + "." + event.Type() + "." + SubjectToken(event.Conversation().ChannelID)
}

// Handle publishes event. Failures are logged, never returned.
func (s *NATSSink) Handle(event Event) {
	env := Envelope{
		ID:        uuid.New().String(),
		Type:      event.Type(),
		Timestamp: s.now(),
		Data:      event,
	}
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error(context.Background(), "marshal event failed",
			zap.String("event_type", event.Type()), zap.Error(err))
		return
	}
	if err := s.nc.Publish(s.Subject(event), data); err != nil {
		s.logger.Warn(context.Background(), "publish event failed",
			zap.String("event_type", event.Type()), zap.Error(err))
	}
}

// SubjectToken makes s safe to use as a single NATS subject token.
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
