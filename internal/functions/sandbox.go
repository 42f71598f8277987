package functions

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
)

// Workflow function names.
const (
	CreateIssue       = "createIssue"
	CreateBranch      = "createBranch"
	CreateCommit      = "createCommit"
	CreatePullRequest = "createPullRequest"
	ReviewPullRequest = "reviewPullRequest"
	MergePullRequest  = "mergePullRequest"
	GetRepositoryInfo = "getRepositoryInfo"
)

// WorkflowSpecs returns the specs of the repository functions the default
// roster uses.
func WorkflowSpecs() []Spec {
	return []Spec{
		{
			Name:        CreateIssue,
			Description: "Create an issue describing a unit of work.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"body": {"type": "string"},
					"labels": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["title"],
				"additionalProperties": false
			}`),
		},
		{
			Name:        CreateBranch,
			Description: "Create a branch for an issue.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"issueNumber": {"type": "integer", "minimum": 1}
				},
				"required": ["name"],
				"additionalProperties": false
			}`),
		},
		{
			Name:        CreateCommit,
			Description: "Commit file changes to a branch.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"branch": {"type": "string", "minLength": 1},
					"message": {"type": "string", "minLength": 1},
					"files": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"path": {"type": "string", "minLength": 1},
								"content": {"type": "string"}
							},
							"required": ["path", "content"]
						}
					}
				},
				"required": ["branch", "message"],
				"additionalProperties": false
			}`),
		},
		{
			Name:        CreatePullRequest,
			Description: "Open a pull request from a branch.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"body": {"type": "string"},
					"head": {"type": "string", "minLength": 1},
					"base": {"type": "string"}
				},
				"required": ["title", "head"],
				"additionalProperties": false
			}`),
		},
		{
			Name:        ReviewPullRequest,
			Description: "Review a pull request and approve it or request changes.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"prNumber": {"type": "integer", "minimum": 1},
					"approved": {"type": "boolean"},
					"comments": {"type": "string"}
				},
				"required": ["prNumber", "approved"],
				"additionalProperties": false
			}`),
		},
		{
			Name:        MergePullRequest,
			Description: "Merge an approved pull request.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"prNumber": {"type": "integer", "minimum": 1}
				},
				"required": ["prNumber"],
				"additionalProperties": false
			}`),
		},
		{
			Name:        GetRepositoryInfo,
			Description: "Describe the repository: default branch, open issues and pull requests.",
			Parameters:  json.RawMessage(`{"type": "object", "additionalProperties": false}`),
		},
	}
}

type sandboxIssue struct {
	number int
	title  string
	open   bool
}

type sandboxPR struct {
	number   int
	issue    int
	head     string
	base     string
	approved bool
	reviewed bool
	merged   bool
}

// Sandbox is an in-memory repository implementing the workflow functions.
// It is used when no real repository backend is wired and in tests.
type Sandbox struct {
	name string

	mu       sync.Mutex
	issues   map[int]*sandboxIssue
	branches map[string]int // branch -> issue number, 0 when unlinked
	commits  map[string][]string
	prs      map[int]*sandboxPR
	nextNum  int
}

// NewSandbox creates an empty sandbox repository with a main branch.
func NewSandbox(name string) *Sandbox {
	return &Sandbox{
		name:     name,
		issues:   make(map[int]*sandboxIssue),
		branches: map[string]int{"main": 0},
		commits:  make(map[string][]string),
		prs:      make(map[int]*sandboxPR),
		nextNum:  1,
	}
}

// Register adds every workflow function backed by s to r.
func (s *Sandbox) Register(r *Registry) error {
	handlers := map[string]Handler{
		CreateIssue:       s.createIssue,
		CreateBranch:      s.createBranch,
		CreateCommit:      s.createCommit,
		CreatePullRequest: s.createPullRequest,
		ReviewPullRequest: s.reviewPullRequest,
		MergePullRequest:  s.mergePullRequest,
		GetRepositoryInfo: s.repositoryInfo,
	}
	for _, spec := range WorkflowSpecs() {
		if err := r.Register(spec, handlers[spec.Name]); err != nil {
			return err
		}
	}
	return nil
}

func decodeArgs(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return apperr.New(apperr.Validation, "functions.decode", err)
	}
	return nil
}

func (s *Sandbox) createIssue(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Title string `json:"title"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nextNum
	s.nextNum++
	s.issues[n] = &sandboxIssue{number: n, title: in.Title, open: true}
	return map[string]any{
		"issueNumber": n,
		"title":       in.Title,
		"url":         fmt.Sprintf("sandbox://%s/issues/%d", s.name, n),
	}, nil
}

func (s *Sandbox) createBranch(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Name        string `json:"name"`
		IssueNumber int    `json:"issueNumber"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[in.Name]; ok {
		return nil, apperr.Newf(apperr.Validation, "functions.createBranch", "branch %q already exists", in.Name)
	}
	if in.IssueNumber != 0 {
		if _, ok := s.issues[in.IssueNumber]; !ok {
			return nil, apperr.Newf(apperr.NotFound, "functions.createBranch", "issue #%d not found", in.IssueNumber)
		}
	}
	s.branches[in.Name] = in.IssueNumber
	return map[string]any{"branchName": in.Name, "issueNumber": in.IssueNumber}, nil
}

func (s *Sandbox) createCommit(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Branch  string `json:"branch"`
		Message string `json:"message"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.branches[in.Branch]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "functions.createCommit", "branch %q not found", in.Branch)
	}
	h := sha1.Sum([]byte(fmt.Sprintf("%s\x00%s\x00%d", in.Branch, in.Message, len(s.commits[in.Branch]))))
	sha := hex.EncodeToString(h[:])
	s.commits[in.Branch] = append(s.commits[in.Branch], sha)
	return map[string]any{"commitSha": sha, "branchName": in.Branch, "issueNumber": issue}, nil
}

func (s *Sandbox) createPullRequest(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Head string `json:"head"`
		Base string `json:"base"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Base == "" {
		in.Base = "main"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.branches[in.Head]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "functions.createPullRequest", "branch %q not found", in.Head)
	}
	if len(s.commits[in.Head]) == 0 {
		return nil, apperr.Newf(apperr.Validation, "functions.createPullRequest", "branch %q has no commits", in.Head)
	}
	n := s.nextNum
	s.nextNum++
	s.prs[n] = &sandboxPR{number: n, issue: issue, head: in.Head, base: in.Base}
	return map[string]any{
		"prNumber":    n,
		"branchName":  in.Head,
		"issueNumber": issue,
		"url":         fmt.Sprintf("sandbox://%s/pull/%d", s.name, n),
	}, nil
}

func (s *Sandbox) reviewPullRequest(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		PRNumber int  `json:"prNumber"`
		Approved bool `json:"approved"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.prs[in.PRNumber]
	if !ok || pr.merged {
		return nil, apperr.Newf(apperr.NotFound, "functions.reviewPullRequest", "open pull request #%d not found", in.PRNumber)
	}
	pr.reviewed = true
	pr.approved = in.Approved
	return map[string]any{"prNumber": pr.number, "approved": pr.approved, "issueNumber": pr.issue}, nil
}

func (s *Sandbox) mergePullRequest(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		PRNumber int `json:"prNumber"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.prs[in.PRNumber]
	if !ok || pr.merged {
		return nil, apperr.Newf(apperr.NotFound, "functions.mergePullRequest", "open pull request #%d not found", in.PRNumber)
	}
	if !pr.approved {
		return nil, apperr.Newf(apperr.Validation, "functions.mergePullRequest", "pull request #%d is not approved", in.PRNumber)
	}
	pr.merged = true
	if is, ok := s.issues[pr.issue]; ok {
		is.open = false
	}
	return map[string]any{"prNumber": pr.number, "merged": true, "issueNumber": pr.issue}, nil
}

func (s *Sandbox) repositoryInfo(_ context.Context, _ json.RawMessage) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	openIssues, openPRs := 0, 0
	for _, is := range s.issues {
		if is.open {
			openIssues++
		}
	}
	for _, pr := range s.prs {
		if !pr.merged {
			openPRs++
		}
	}
	return map[string]any{
		"name":             s.name,
		"defaultBranch":    "main",
		"branches":         len(s.branches),
		"openIssues":       openIssues,
		"openPullRequests": openPRs,
	}, nil
}
