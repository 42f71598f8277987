// Package logging wraps zap for the coordinator.
//
// Every method takes a context; trace ids from OpenTelemetry and the
// conversation, agent and request ids set with WithConversation, WithAgent
// and WithRequestID are added to each entry. Below Debug sits TraceLevel,
// used for prompts and raw completions.
//
// Stdout output passes through a RedactingEncoder that masks sensitive
// keys (api_key, authorization, ...) and values that look like bearer
// tokens or provider keys. Repeated messages are sampled per level;
// errors never are.
//
//	cfg, err := logging.FromAppConfig(appCfg.Logging)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithConversation(ctx, "C123:1700000000.1")
//	logger.Named("handoff").Info(ctx, "agent selected", zap.String("reason", "mention"))
//
// Tests use NewTestLogger and its Assert helpers.
package logging
