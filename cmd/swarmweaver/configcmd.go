package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deeplifeai/swarmweaver-sub001/internal/agent"
	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Long: `Load the configuration file and SWARMWEAVER_* environment overrides,
validate them and print the effective settings. Secrets are never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithFile(configPath)
			if err != nil {
				return err
			}
			if _, err := agent.FromConfig(cfg.Agents); err != nil {
				return fmt.Errorf("invalid agent roster: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration is valid")
			fmt.Fprintf(out, "  http:     %s:%d\n", cfg.Server.Host, cfg.Server.Port)
			fmt.Fprintf(out, "  llm:      %s (%s) key=%s\n", cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.APIKey)
			if cfg.NATS.Enabled {
				fmt.Fprintf(out, "  nats:     %s embedded=%t inbound=%s\n", cfg.NATS.URL, cfg.NATS.Embedded, cfg.NATS.InboundSubject)
			} else {
				fmt.Fprintln(out, "  nats:     disabled")
			}
			fmt.Fprintf(out, "  loop:     threshold=%d window=%s cooldown=%s\n", cfg.Loop.Threshold, cfg.Loop.Window, cfg.Loop.Cooldown)
			fmt.Fprintf(out, "  memory:   recent=%d summary_threshold=%d\n", cfg.Conversation.MaxRecentMessages, cfg.Conversation.SummaryThreshold)
			return nil
		},
	})
	return cmd
}
