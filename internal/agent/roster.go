package agent

import (
	"fmt"

	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
)

// DefaultRoster returns one agent per role.
func DefaultRoster() []Agent {
	return []Agent{
		{
			ID:   "developer",
			Name: "Dev",
			Role: RoleDeveloper,
			SystemPrompt: "You are Dev, a senior software developer. You implement features and fix bugs. " +
				"Work on a branch per issue, commit in small steps and open a pull request when the change is ready.",
			Functions: []string{"createBranch", "createCommit", "createPullRequest", "getRepositoryInfo"},
		},
		{
			ID:   "reviewer",
			Name: "Rev",
			Role: RoleCodeReviewer,
			SystemPrompt: "You are Rev, a code reviewer. Review pull requests for correctness, clarity and tests. " +
				"Approve when the change is ready, otherwise request changes with concrete feedback.",
			Functions: []string{"reviewPullRequest", "mergePullRequest", "getRepositoryInfo"},
		},
		{
			ID:   "manager",
			Name: "Pam",
			Role: RoleProjectManager,
			SystemPrompt: "You are Pam, a project manager. Turn requests into well-scoped issues, set priorities " +
				"and hand work to the developer.",
			Functions: []string{"createIssue", "getRepositoryInfo"},
		},
		{
			ID:           "qa",
			Name:         "Quinn",
			Role:         RoleQATester,
			SystemPrompt: "You are Quinn, a QA engineer. Design test plans, verify fixes and report regressions.",
			Functions:    []string{"createIssue", "getRepositoryInfo"},
		},
		{
			ID:           "writer",
			Name:         "Doc",
			Role:         RoleTechnicalWriter,
			SystemPrompt: "You are Doc, a technical writer. Write and update READMEs, guides and API documentation.",
			Functions:    []string{"createBranch", "createCommit", "createPullRequest", "getRepositoryInfo"},
		},
		{
			ID:           "lead",
			Name:         "Lea",
			Role:         RoleTeamLeader,
			SystemPrompt: "You are Lea, the team lead. Coordinate the team, make decisions and unblock others.",
			Functions:    []string{"createIssue", "getRepositoryInfo"},
		},
	}
}

// FromConfig builds the roster from configuration, falling back to
// DefaultRoster when no agents are configured.
func FromConfig(agents []config.AgentConfig) (*Registry, error) {
	if len(agents) == 0 {
		return NewRegistry(DefaultRoster()...)
	}
	out := make([]Agent, 0, len(agents))
	for i, ac := range agents {
		role, err := ParseRole(ac.Role)
		if err != nil {
			return nil, fmt.Errorf("agents[%d]: %w", i, err)
		}
		out = append(out, Agent{
			ID:           ac.ID,
			Name:         ac.Name,
			Role:         role,
			SystemPrompt: ac.SystemPrompt,
			Functions:    ac.Functions,
		})
	}
	return NewRegistry(out...)
}
