package handoff

import (
	"regexp"
	"strings"

	"github.com/deeplifeai/swarmweaver-sub001/internal/agent"
	"github.com/deeplifeai/swarmweaver-sub001/internal/workflow"
)

// RoleForState maps a workflow state to the role that acts next.
func RoleForState(s workflow.State) agent.Role {
	switch v := s.(type) {
	case workflow.IssueCreated, workflow.BranchCreated, workflow.CodeCommitted:
		return agent.RoleDeveloper
	case workflow.PRCreated:
		return agent.RoleCodeReviewer
	case workflow.PRReviewed:
		if v.Approved {
			return agent.RoleDeveloper
		}
		return agent.RoleProjectManager
	case workflow.PRMerged:
		return agent.RoleProjectManager
	}
	return ""
}

type keywordRule struct {
	role agent.Role
	re   *regexp.Regexp
}

// keywordRules are evaluated in order.
var keywordRules = []keywordRule{
	newKeywordRule(agent.RoleDeveloper, "code", "bug", "implement", "fix", "commit", "branch", "develop", "refactor"),
	newKeywordRule(agent.RoleCodeReviewer, "review", "pull request", "pr", "feedback", "approve"),
	newKeywordRule(agent.RoleProjectManager, "plan", "issue", "task", "priority", "roadmap", "schedule", "project"),
	newKeywordRule(agent.RoleQATester, "test", "qa", "quality", "regression", "verify"),
	newKeywordRule(agent.RoleTechnicalWriter, "document", "documentation", "docs", "readme", "guide"),
	newKeywordRule(agent.RoleTeamLeader, "team", "lead", "decision", "strategy", "coordinate"),
}

func newKeywordRule(role agent.Role, words ...string) keywordRule {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return keywordRule{role: role, re: regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)}
}

// KeywordRoles returns the roles whose keywords appear in content, in
// evaluation order.
func KeywordRoles(content string) []agent.Role {
	var out []agent.Role
	for _, r := range keywordRules {
		if r.re.MatchString(content) {
			out = append(out, r.role)
		}
	}
	return out
}

var (
	idMentionRE   = regexp.MustCompile(`<@([A-Za-z0-9_.-]+)>`)
	nameMentionRE = regexp.MustCompile(`(?:^|[^\w<])@([A-Za-z0-9_.-]+)`)
)

// ResolveMentions finds agents referenced in text as <@ID> or @Name, in
// order of appearance and without duplicates.
func ResolveMentions(reg *agent.Registry, text string) []*agent.Agent {
	type hit struct {
		pos int
		a   *agent.Agent
	}
	var hits []hit
	for _, m := range idMentionRE.FindAllStringSubmatchIndex(text, -1) {
		if a, ok := reg.Get(text[m[2]:m[3]]); ok {
			hits = append(hits, hit{m[0], a})
		}
	}
	for _, m := range nameMentionRE.FindAllStringSubmatchIndex(text, -1) {
		token := strings.TrimRight(text[m[2]:m[3]], ".-")
		if a, ok := reg.ByName(token); ok {
			hits = append(hits, hit{m[2], a})
		} else if a, ok := reg.Get(token); ok {
			hits = append(hits, hit{m[2], a})
		}
	}

	// insertion sort by position; mention lists are tiny
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	seen := make(map[string]bool, len(hits))
	var out []*agent.Agent
	for _, h := range hits {
		if !seen[h.a.ID] {
			seen[h.a.ID] = true
			out = append(out, h.a)
		}
	}
	return out
}
