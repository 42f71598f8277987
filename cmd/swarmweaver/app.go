package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/deeplifeai/swarmweaver-sub001/internal/agent"
	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
	"github.com/deeplifeai/swarmweaver-sub001/internal/conversation"
	"github.com/deeplifeai/swarmweaver-sub001/internal/events"
	"github.com/deeplifeai/swarmweaver-sub001/internal/functions"
	"github.com/deeplifeai/swarmweaver-sub001/internal/handoff"
	httpapi "github.com/deeplifeai/swarmweaver-sub001/internal/http"
	"github.com/deeplifeai/swarmweaver-sub001/internal/llm"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
	"github.com/deeplifeai/swarmweaver-sub001/internal/loop"
	"github.com/deeplifeai/swarmweaver-sub001/internal/metrics"
	"github.com/deeplifeai/swarmweaver-sub001/internal/orchestrator"
	"github.com/deeplifeai/swarmweaver-sub001/internal/retry"
	"github.com/deeplifeai/swarmweaver-sub001/internal/telemetry"
	"github.com/deeplifeai/swarmweaver-sub001/internal/transport"
	"github.com/deeplifeai/swarmweaver-sub001/internal/workflow"
)

const (
	instrumentationName = "github.com/deeplifeai/swarmweaver-sub001"
	sandboxRepository   = "swarmweaver-sandbox"
)

// appOptions carries what serve builds before the components, plus test
// overrides.
type appOptions struct {
	telemetry *telemetry.Telemetry
	logger    *logging.Logger
	// client replaces the configured provider when set.
	client llm.Client
}

// app holds every running component.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry

	bus        *events.Bus
	embedded   *natsserver.Server
	nc         *nats.Conn
	subscriber *transport.Subscriber
	loops      *loop.Detector
	orch       *orchestrator.Orchestrator
	server     *httpapi.Server
}

// buildApp wires the coordinator. On error every component created so far
// is released.
func buildApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	if opts.logger == nil {
		opts.logger = logging.Nop()
	}
	a = &app{cfg: cfg, logger: opts.logger, tel: opts.telemetry}
	defer func() {
		if err != nil {
			a.closeTransport()
		}
	}()
	logger := a.logger
	tracer := a.tel.Tracer(instrumentationName)
	meter := a.tel.Meter(instrumentationName)

	// Events fan out to Prometheus and, when connected, NATS.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.bus = events.NewBus(logger)
	a.bus.Subscribe(metrics.New(reg).Handle)

	if cfg.NATS.Enabled {
		if err := a.connectNATS(ctx); err != nil {
			return nil, err
		}
		a.bus.Subscribe(events.NewNATSSink(a.nc, cfg.NATS.EventsPrefix, logger).Handle)
	}

	roster, err := agent.FromConfig(cfg.Agents)
	if err != nil {
		return nil, fmt.Errorf("invalid agent roster: %w", err)
	}

	client := opts.client
	if client == nil {
		client, err = llm.New(cfg.LLM, retry.FromAppConfig(cfg.Retry), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create llm client: %w", err)
		}
	}

	wf := workflow.NewManager(workflow.WithEmitter(a.bus), workflow.WithLogger(logger))
	mediator := handoff.NewMediator(roster, wf, handoff.FromAppConfig(cfg.Routing),
		handoff.WithEmitter(a.bus), handoff.WithLogger(logger))
	a.loops = loop.New(loop.FromAppConfig(cfg.Loop), loop.WithLogger(logger))
	memory := conversation.NewManager(conversation.FromAppConfig(cfg.Conversation),
		conversation.WithSummarizer(conversation.NewLLMSummarizer(client, cfg.Conversation.SummaryMaxWords)),
		conversation.WithEmitter(a.bus),
		conversation.WithLogger(logger),
	)

	fnOpts := append(functions.FromAppConfig(cfg.Functions),
		functions.WithAgents(roster),
		functions.WithEmitter(a.bus),
		functions.WithLogger(logger),
		functions.WithTracer(tracer),
		functions.WithMetrics(functions.NewMetrics(meter, logger)),
	)
	fns := functions.NewRegistry(fnOpts...)
	if err := functions.NewSandbox(sandboxRepository).Register(fns); err != nil {
		return nil, fmt.Errorf("failed to register functions: %w", err)
	}
	for _, ag := range roster.All() {
		for _, name := range ag.Functions {
			if !fns.Has(name) {
				return nil, fmt.Errorf("agent %q lists unknown function %q", ag.ID, name)
			}
		}
	}

	var sender orchestrator.Sender = logSender{logger: logger.Named("outbound")}
	if a.nc != nil {
		sender = transport.NewPublisher(a.nc, cfg.NATS.OutboundPrefix)
	}

	a.orch, err = orchestrator.New(orchestrator.Deps{
		Mediator:  mediator,
		Workflow:  wf,
		Loops:     a.loops,
		Memory:    memory,
		Generator: client,
		Functions: fns,
		Sender:    sender,
	}, orchestrator.FromAppConfig(cfg.Orchestrator),
		orchestrator.WithEmitter(a.bus),
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(tracer),
		orchestrator.WithMetrics(orchestrator.NewMetrics(meter, logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if a.nc != nil {
		a.subscriber = transport.NewSubscriber(a.nc, cfg.NATS.InboundSubject, a.orch,
			transport.WithSubscriberEmitter(a.bus),
			transport.WithSubscriberLogger(logger),
		)
	}

	a.server, err = httpapi.NewServer(httpapi.Deps{
		Processor: a.orch,
		Mediator:  mediator,
		Workflow:  wf,
		Memory:    memory,
		Loops:     a.loops,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Telemetry: a.tel,
	}, logger, &httpapi.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ProcessTimeout: cfg.LLM.Timeout * 2,
	})
	if err != nil {
		_ = a.orch.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to create http server: %w", err)
	}
	return a, nil
}

func (a *app) connectNATS(ctx context.Context) error {
	ncfg := a.cfg.NATS
	if ncfg.Embedded {
		ns, err := transport.StartEmbedded(ncfg.URL)
		if err != nil {
			return fmt.Errorf("failed to start embedded nats: %w", err)
		}
		a.embedded = ns
		ncfg.URL = ns.ClientURL()
		a.logger.Info(ctx, "embedded nats started", zap.String("url", ncfg.URL))
	}
	nc, err := transport.Connect(ncfg, a.logger)
	if err != nil {
		return err
	}
	a.nc = nc
	return nil
}

// start launches background work that does not block.
func (a *app) start(ctx context.Context) error {
	a.loops.Start(ctx)
	if a.subscriber != nil {
		if err := a.subscriber.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// run starts every component and blocks until ctx is done or the HTTP
// server fails, then shuts down.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if err := a.start(gctx); err != nil {
		a.shutdown(ctx)
		return err
	}

	g.Go(func() error {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown(ctx)
		return nil
	})
	return g.Wait()
}

// shutdown stops intake first, then lets in-flight turns finish within the
// configured timeout.
func (a *app) shutdown(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.subscriber != nil {
		if err := a.subscriber.Stop(); err != nil && !errors.Is(err, transport.ErrNotStarted) {
			a.logger.Warn(sctx, "failed to drain subscriber", zap.Error(err))
		}
	}
	if err := a.server.Shutdown(sctx); err != nil {
		a.logger.Warn(sctx, "http shutdown failed", zap.Error(err))
	}
	if err := a.orch.Close(sctx); err != nil {
		a.logger.Warn(sctx, "in-flight turns abandoned", zap.Error(err))
	}
	a.loops.Stop()
	a.closeTransport()
	if err := a.tel.Shutdown(sctx); err != nil {
		a.logger.Warn(sctx, "telemetry shutdown failed", zap.Error(err))
	}
}

func (a *app) closeTransport() {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
		a.nc = nil
	}
	if a.embedded != nil {
		a.embedded.Shutdown()
		a.embedded.WaitForShutdown()
		a.embedded = nil
	}
}

// logSender records replies when no chat transport is configured. Callers
// of the synchronous HTTP API read the reply from the response instead.
type logSender struct {
	logger *logging.Logger
}

func (s logSender) Send(ctx context.Context, msg chat.Outbound) error {
	s.logger.Info(ctx, "reply",
		zap.String("channel", msg.ChannelID),
		zap.String("thread", msg.ThreadID),
		zap.String("agent", msg.SenderID),
		zap.Int("length", len(msg.Text)),
	)
	return nil
}
