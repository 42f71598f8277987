package orchestrator

import (
	"encoding/json"

	"github.com/deeplifeai/swarmweaver-sub001/internal/functions"
	"github.com/deeplifeai/swarmweaver-sub001/internal/workflow"
)

// actionFields collects the identifiers a workflow function reports, from
// its arguments and its result.
type actionFields struct {
	IssueNumber int    `json:"issueNumber"`
	BranchName  string `json:"branchName"`
	Branch      string `json:"branch"`
	Name        string `json:"name"`
	Head        string `json:"head"`
	CommitSHA   string `json:"commitSha"`
	PRNumber    int    `json:"prNumber"`
	Approved    *bool  `json:"approved"`
}

func (f actionFields) branch() string {
	for _, b := range []string{f.BranchName, f.Branch, f.Head, f.Name} {
		if b != "" {
			return b
		}
	}
	return ""
}

// merge overlays non-zero fields of o onto f.
func (f actionFields) merge(o actionFields) actionFields {
	if o.IssueNumber != 0 {
		f.IssueNumber = o.IssueNumber
	}
	if o.BranchName != "" {
		f.BranchName = o.BranchName
	}
	if o.Branch != "" {
		f.Branch = o.Branch
	}
	if o.Name != "" {
		f.Name = o.Name
	}
	if o.Head != "" {
		f.Head = o.Head
	}
	if o.CommitSHA != "" {
		f.CommitSHA = o.CommitSHA
	}
	if o.PRNumber != 0 {
		f.PRNumber = o.PRNumber
	}
	if o.Approved != nil {
		f.Approved = o.Approved
	}
	return f
}

func decodeFields(args json.RawMessage, data any) actionFields {
	var fromArgs, fromData actionFields
	if len(args) > 0 {
		_ = json.Unmarshal(args, &fromArgs)
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			_ = json.Unmarshal(raw, &fromData)
		}
	}
	return fromArgs.merge(fromData)
}

// NextState returns the workflow state a successful call of fn produces from
// current, or false when fn does not advance the workflow from current.
// Identifiers missing from the call are carried over from current.
func NextState(fn string, current workflow.State, args json.RawMessage, data any) (workflow.State, bool) {
	f := decodeFields(args, data)

	issue := f.IssueNumber
	if issue == 0 && current != nil {
		issue = current.Issue()
	}
	branch := f.branch()
	if branch == "" {
		branch = workflow.BranchOf(current)
	}
	pr := f.PRNumber
	if pr == 0 {
		pr = workflow.PRNumberOf(current)
	}

	switch fn {
	case functions.CreateIssue:
		switch current.(type) {
		case nil, workflow.PRMerged:
			return workflow.IssueCreated{IssueNumber: f.IssueNumber}, true
		}
	case functions.CreateBranch:
		if _, ok := current.(workflow.IssueCreated); ok {
			return workflow.BranchCreated{IssueNumber: issue, BranchName: branch}, true
		}
	case functions.CreateCommit:
		switch current.(type) {
		case workflow.BranchCreated, workflow.CodeCommitted, workflow.PRReviewed:
			return workflow.CodeCommitted{IssueNumber: issue, BranchName: branch, CommitSHA: f.CommitSHA}, true
		}
	case functions.CreatePullRequest:
		if _, ok := current.(workflow.CodeCommitted); ok {
			return workflow.PRCreated{IssueNumber: issue, BranchName: branch, PRNumber: pr}, true
		}
	case functions.ReviewPullRequest:
		if _, ok := current.(workflow.PRCreated); ok && f.Approved != nil {
			return workflow.PRReviewed{IssueNumber: issue, PRNumber: pr, Approved: *f.Approved}, true
		}
	case functions.MergePullRequest:
		if rv, ok := current.(workflow.PRReviewed); ok && rv.Approved {
			return workflow.PRMerged{IssueNumber: issue, PRNumber: pr}, true
		}
	}
	return nil, false
}
