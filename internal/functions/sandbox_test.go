package functions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
)

func newSandboxRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, NewSandbox("demo").Register(r))
	return r
}

func call(t *testing.T, r *Registry, name, args string) Result {
	t.Helper()
	return r.Execute(context.Background(), key, name, json.RawMessage(args), "dev")
}

func field(t *testing.T, res Result, name string) any {
	t.Helper()
	require.True(t, res.Success, res.Error)
	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	return data[name]
}

func TestSandbox_FullWorkflow(t *testing.T) {
	r := newSandboxRegistry(t)

	issue := field(t, call(t, r, CreateIssue, `{"title":"Add login"}`), "issueNumber").(int)
	assert.Equal(t, 1, issue)

	branch := call(t, r, CreateBranch, `{"name":"feature/login","issueNumber":1}`)
	assert.Equal(t, "feature/login", field(t, branch, "branchName"))

	sha := field(t, call(t, r, CreateCommit, `{"branch":"feature/login","message":"add form"}`), "commitSha").(string)
	assert.Len(t, sha, 40)
	sha2 := field(t, call(t, r, CreateCommit, `{"branch":"feature/login","message":"add form"}`), "commitSha").(string)
	assert.NotEqual(t, sha, sha2)

	pr := field(t, call(t, r, CreatePullRequest, `{"title":"Login","head":"feature/login"}`), "prNumber").(int)
	assert.Equal(t, 2, pr)

	res := call(t, r, MergePullRequest, `{"prNumber":2}`)
	assert.False(t, res.Success)
	assert.Equal(t, apperr.Validation, res.Category)

	assert.Equal(t, false, field(t, call(t, r, ReviewPullRequest, `{"prNumber":2,"approved":false}`), "approved"))
	assert.Equal(t, true, field(t, call(t, r, ReviewPullRequest, `{"prNumber":2,"approved":true}`), "approved"))
	assert.Equal(t, true, field(t, call(t, r, MergePullRequest, `{"prNumber":2}`), "merged"))

	info := call(t, r, GetRepositoryInfo, `{}`)
	assert.Equal(t, 0, field(t, info, "openIssues"))
	assert.Equal(t, 0, field(t, info, "openPullRequests"))
	assert.Equal(t, 2, field(t, info, "branches"))
}

func TestSandbox_Errors(t *testing.T) {
	r := newSandboxRegistry(t)

	tests := []struct {
		name string
		fn   string
		args string
		want apperr.Category
	}{
		{"branch for missing issue", CreateBranch, `{"name":"x","issueNumber":9}`, apperr.NotFound},
		{"duplicate branch", CreateBranch, `{"name":"main"}`, apperr.Validation},
		{"commit to missing branch", CreateCommit, `{"branch":"nope","message":"m"}`, apperr.NotFound},
		{"pr without commits", CreatePullRequest, `{"title":"t","head":"main"}`, apperr.Validation},
		{"review missing pr", ReviewPullRequest, `{"prNumber":7,"approved":true}`, apperr.NotFound},
		{"review without approved", ReviewPullRequest, `{"prNumber":7}`, apperr.Validation},
		{"unexpected property", CreateIssue, `{"title":"t","assignee":"me"}`, apperr.Validation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(t, r, tt.fn, tt.args)
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Category, res.Error)
		})
	}
}

func TestWorkflowSpecs_Compile(t *testing.T) {
	r := NewRegistry()
	for _, spec := range WorkflowSpecs() {
		require.NoError(t, r.Register(spec, echo), spec.Name)
	}
	assert.Len(t, r.Specs(), 7)
}
