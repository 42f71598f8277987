// Package workflow tracks each conversation's position in the
// issue → branch → commit → pull request → review → merge lifecycle.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Stage names a workflow milestone.
type Stage string

// Stages.
const (
	StageIssueCreated  Stage = "issue_created"
	StageBranchCreated Stage = "branch_created"
	StageCodeCommitted Stage = "code_committed"
	StagePRCreated     Stage = "pr_created"
	StagePRReviewed    Stage = "pr_reviewed"
	StagePRMerged      Stage = "pr_merged"
)

// Stages lists every stage in lifecycle order.
var Stages = []Stage{
	StageIssueCreated,
	StageBranchCreated,
	StageCodeCommitted,
	StagePRCreated,
	StagePRReviewed,
	StagePRMerged,
}

// State is the current workflow position of a conversation. Each stage has
// its own variant carrying only the fields relevant to it.
type State interface {
	Stage() Stage
	Issue() int
	isState()
}

// IssueCreated is the state after an issue is opened.
type IssueCreated struct {
	IssueNumber int `json:"issue_number"`
}

// BranchCreated is the state after a working branch is created.
type BranchCreated struct {
	IssueNumber int    `json:"issue_number"`
	BranchName  string `json:"branch_name"`
}

// CodeCommitted is the state after a commit lands on the branch.
type CodeCommitted struct {
	IssueNumber int    `json:"issue_number"`
	BranchName  string `json:"branch_name"`
	CommitSHA   string `json:"commit_sha"`
}

// PRCreated is the state after a pull request is opened.
type PRCreated struct {
	IssueNumber int    `json:"issue_number"`
	BranchName  string `json:"branch_name"`
	PRNumber    int    `json:"pr_number"`
}

// PRReviewed is the state after a review is submitted.
type PRReviewed struct {
	IssueNumber int  `json:"issue_number"`
	PRNumber    int  `json:"pr_number"`
	Approved    bool `json:"approved"`
}

// PRMerged is the state after the pull request is merged.
type PRMerged struct {
	IssueNumber int `json:"issue_number"`
	PRNumber    int `json:"pr_number"`
}

func (IssueCreated) Stage() Stage  { return StageIssueCreated }
func (BranchCreated) Stage() Stage { return StageBranchCreated }
func (CodeCommitted) Stage() Stage { return StageCodeCommitted }
func (PRCreated) Stage() Stage     { return StagePRCreated }
func (PRReviewed) Stage() Stage    { return StagePRReviewed }
func (PRMerged) Stage() Stage      { return StagePRMerged }

func (s IssueCreated) Issue() int  { return s.IssueNumber }
func (s BranchCreated) Issue() int { return s.IssueNumber }
func (s CodeCommitted) Issue() int { return s.IssueNumber }
func (s PRCreated) Issue() int     { return s.IssueNumber }
func (s PRReviewed) Issue() int    { return s.IssueNumber }
func (s PRMerged) Issue() int      { return s.IssueNumber }

func (IssueCreated) isState()  {}
func (BranchCreated) isState() {}
func (CodeCommitted) isState() {}
func (PRCreated) isState()     {}
func (PRReviewed) isState()    {}
func (PRMerged) isState()      {}

// PRNumberOf returns the pull request number carried by s, or 0.
func PRNumberOf(s State) int {
	switch v := s.(type) {
	case PRCreated:
		return v.PRNumber
	case PRReviewed:
		return v.PRNumber
	case PRMerged:
		return v.PRNumber
	}
	return 0
}

// BranchOf returns the branch name carried by s, or "".
func BranchOf(s State) string {
	switch v := s.(type) {
	case BranchCreated:
		return v.BranchName
	case CodeCommitted:
		return v.BranchName
	case PRCreated:
		return v.BranchName
	}
	return ""
}

// ErrUnknownStage is returned when decoding a state with an unrecognized stage.
var ErrUnknownStage = errors.New("unknown workflow stage")

type envelope struct {
	Stage Stage           `json:"stage"`
	Data  json.RawMessage `json:"data"`
}

// Marshal encodes s with its stage tag, for durable stores.
func Marshal(s State) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Stage: s.Stage(), Data: data})
}

// Unmarshal decodes a state produced by Marshal.
func Unmarshal(b []byte) (State, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode workflow state: %w", err)
	}
	var s State
	switch env.Stage {
	case StageIssueCreated:
		s = decode[IssueCreated](env.Data)
	case StageBranchCreated:
		s = decode[BranchCreated](env.Data)
	case StageCodeCommitted:
		s = decode[CodeCommitted](env.Data)
	case StagePRCreated:
		s = decode[PRCreated](env.Data)
	case StagePRReviewed:
		s = decode[PRReviewed](env.Data)
	case StagePRMerged:
		s = decode[PRMerged](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, env.Stage)
	}
	if s == nil {
		return nil, fmt.Errorf("decode workflow state %s: malformed data", env.Stage)
	}
	return s, nil
}

func decode[T State](raw json.RawMessage) State {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
