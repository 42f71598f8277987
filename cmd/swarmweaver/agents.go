package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/deeplifeai/swarmweaver-sub001/internal/agent"
	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
)

type agentView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Functions []string `json:"functions"`
}

func newAgentsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the configured agent roster",
		Long: `List the agents the coordinator routes between. The built-in roster is
used when the configuration declares no agents.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithFile(configPath)
			if err != nil {
				return err
			}
			reg, err := agent.FromConfig(cfg.Agents)
			if err != nil {
				return fmt.Errorf("invalid agent roster: %w", err)
			}

			views := make([]agentView, 0, reg.Len())
			for _, a := range reg.All() {
				views = append(views, agentView{ID: a.ID, Name: a.Name, Role: string(a.Role), Functions: a.Functions})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tROLE\tFUNCTIONS")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.ID, v.Name, v.Role, strings.Join(v.Functions, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the roster as JSON")
	return cmd
}
