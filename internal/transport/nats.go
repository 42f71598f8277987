// Package transport connects the coordinator to chat traffic over NATS.
//
// Inbound MessageReceived events arrive as JSON on a single subject and are
// handed to the orchestrator. Replies are published as JSON chat.Outbound
// documents on {prefix}.{channel_id}. A chat bridge (Slack, Discord, ...)
// sits on the other side of both subjects.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
	"github.com/deeplifeai/swarmweaver-sub001/internal/events"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
)

// QueueGroup load-balances inbound messages across coordinator replicas.
const QueueGroup = "swarmweaver"

// ErrNotStarted is returned by Stop before Start.
var ErrNotStarted = errors.New("subscriber not started")

// Connect dials NATS with reconnect handling that logs connection changes.
func Connect(cfg config.NATSConfig, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("nats")
	ctx := context.Background()

	nc, err := nats.Connect(cfg.URL,
		nats.Name("swarmweaver"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn(ctx, "nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(ctx, "nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error(ctx, "nats async error", zap.String("subject", subject), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// StartEmbedded runs an in-process NATS server listening on the host and
// port of rawURL. Port 0 picks a free port; ClientURL reports the result.
func StartEmbedded(rawURL string) (*natsserver.Server, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid nats url %q: %w", rawURL, err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid nats url %q: %w", rawURL, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid nats port %q: %w", portStr, err)
	}
	if port == 0 {
		port = -1
	}

	ns, err := natsserver.NewServer(&natsserver.Options{
		ServerName: "swarmweaver_embedded",
		Host:       host,
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server failed to start in time")
	}
	return ns, nil
}

// Dispatcher accepts inbound messages for processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg chat.MessageReceived) error
}

// Ack is the reply sent to inbound messages published with a reply subject.
type Ack struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Subscriber feeds inbound chat messages to a Dispatcher.
type Subscriber struct {
	nc       *nats.Conn
	subject  string
	dispatch Dispatcher
	emitter  events.Emitter
	logger   *logging.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the logger.
func WithSubscriberLogger(l *logging.Logger) SubscriberOption {
	return func(s *Subscriber) { s.logger = l }
}

// WithSubscriberEmitter sets the emitter used for undecodable messages.
func WithSubscriberEmitter(e events.Emitter) SubscriberOption {
	return func(s *Subscriber) { s.emitter = e }
}

// NewSubscriber creates a subscriber for subject.
func NewSubscriber(nc *nats.Conn, subject string, d Dispatcher, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		nc:       nc,
		subject:  subject,
		dispatch: d,
		emitter:  events.Nop{},
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("transport")
	return s
}

// Start subscribes in the coordinator queue group.
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.nc.QueueSubscribe(s.subject, QueueGroup, func(m *nats.Msg) {
		s.handle(ctx, m)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	if err := s.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("failed to flush subscription: %w", err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	s.logger.Info(ctx, "listening for chat messages", zap.String("subject", s.subject))
	return nil
}

// Stop drains the subscription so in-flight deliveries are dispatched.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub == nil {
		return ErrNotStarted
	}
	return sub.Drain()
}

func (s *Subscriber) handle(ctx context.Context, m *nats.Msg) {
	var msg chat.MessageReceived
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		err = apperr.New(apperr.Validation, "transport.decode", err)
		s.logger.Warn(ctx, "dropping undecodable chat message",
			zap.String("subject", m.Subject),
			zap.Int("bytes", len(m.Data)),
			zap.Error(err),
		)
		s.emitter.Emit(events.ErrorEvent{
			Source:    "transport",
			Category:  string(apperr.Validation),
			Error:     err.Error(),
			Message:   "inbound message is not valid JSON",
			Timestamp: time.Now(),
		})
		s.ack(ctx, m, err)
		return
	}

	err := s.dispatch.Dispatch(ctx, msg)
	if err != nil {
		s.logger.Warn(ctx, "inbound message not accepted",
			zap.String("channel", msg.ChannelID),
			zap.Error(err),
		)
	}
	s.ack(ctx, m, err)
}

func (s *Subscriber) ack(ctx context.Context, m *nats.Msg, err error) {
	if m.Reply == "" {
		return
	}
	ack := Ack{Accepted: err == nil}
	if err != nil {
		ack.Error = err.Error()
	}
	data, _ := json.Marshal(ack)
	if rerr := m.Respond(data); rerr != nil {
		s.logger.Debug(ctx, "failed to acknowledge message", zap.Error(rerr))
	}
}

// Publisher delivers replies. It implements the orchestrator's Sender.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher creates a publisher for subjects under prefix.
func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	return &Publisher{nc: nc, prefix: prefix}
}

// Subject returns the subject a reply for channelID is published on.
func (p *Publisher) Subject(channelID string) string {
	return p.prefix + "." + events.SubjectToken(channelID)
}

// Send publishes out as JSON.
func (p *Publisher) Send(_ context.Context, out chat.Outbound) error {
	data, err := json.Marshal(out)
	if err != nil {
		return apperr.New(apperr.Internal, "transport.send", err)
	}
	if err := p.nc.Publish(p.Subject(out.ChannelID), data); err != nil {
		return apperr.New(apperr.Network, "transport.send", err)
	}
	return nil
}
