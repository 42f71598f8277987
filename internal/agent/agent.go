// Package agent holds the immutable agent roster.
package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Role is an agent specialization.
type Role string

// Roles.
const (
	RoleDeveloper       Role = "DEVELOPER"
	RoleCodeReviewer    Role = "CODE_REVIEWER"
	RoleProjectManager  Role = "PROJECT_MANAGER"
	RoleQATester        Role = "QA_TESTER"
	RoleTechnicalWriter Role = "TECHNICAL_WRITER"
	RoleTeamLeader      Role = "TEAM_LEADER"
)

// Roles lists every role in declaration order.
var Roles = []Role{
	RoleDeveloper,
	RoleCodeReviewer,
	RoleProjectManager,
	RoleQATester,
	RoleTechnicalWriter,
	RoleTeamLeader,
}

// ParseRole parses a role name case-insensitively. Hyphens and spaces are
// accepted in place of underscores.
func ParseRole(s string) (Role, error) {
	norm := strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(s)))
	for _, r := range Roles {
		if string(r) == norm {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Registry errors.
var (
	ErrUnknownRole    = errors.New("unknown role")
	ErrDuplicateAgent = errors.New("duplicate agent id")
	ErrInvalidAgent   = errors.New("agent id and name are required")
)

// Agent is a registered persona. Agents are immutable after registration.
type Agent struct {
	ID           string
	Name         string
	Role         Role
	SystemPrompt string
	Functions    []string
}

// HasFunction reports whether name is in the agent's capability list.
func (a *Agent) HasFunction(name string) bool {
	for _, f := range a.Functions {
		if f == name {
			return true
		}
	}
	return false
}
