package uploader

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pixrelay/pixrelay/internal/remote"
)

func TestSummarize_AllSucceeded(t *testing.T) {
	primary, overall := Summarize([]UploadOutcome{
		{Backend: "weibo", Status: StatusSuccess},
		{Backend: "smms", Status: StatusSuccess},
	})
	assert.Equal(t, "weibo", primary)
	assert.Equal(t, AllSucceeded, overall)
}

func TestSummarize_PartialSuccess(t *testing.T) {
	// primary is the first success in request order, even when a later
	// backend finished first
	primary, overall := Summarize([]UploadOutcome{
		{Backend: "weibo", Status: StatusFailed},
		{Backend: "smms", Status: StatusSuccess},
		{Backend: "github", Status: StatusSuccess},
	})
	assert.Equal(t, "smms", primary)
	assert.Equal(t, PartialSuccess, overall)
}

func TestSummarize_AllFailed(t *testing.T) {
	primary, overall := Summarize([]UploadOutcome{
		{Backend: "weibo", Status: StatusFailed},
		{Backend: "smms", Status: StatusFailed},
	})
	assert.Empty(t, primary)
	assert.Equal(t, AllFailed, overall)
}

func TestAggregateResult_Failed(t *testing.T) {
	res := &AggregateResult{
		Outcomes: []UploadOutcome{
			{Backend: "weibo", Status: StatusSuccess},
			{Backend: "smms", Status: StatusFailed},
			{Backend: "github", Status: StatusFailed},
		},
	}

	failed := res.Failed()
	assert.Len(t, failed, 2)
	assert.Equal(t, "smms", failed[0].Backend)
	assert.Equal(t, "github", failed[1].Backend)
}

func TestAggregateResult_PrimaryURL(t *testing.T) {
	res := &AggregateResult{
		Primary: "smms",
		Outcomes: []UploadOutcome{
			{Backend: "weibo", Status: StatusFailed},
			{Backend: "smms", Status: StatusSuccess, URL: "https://s2.loli.net/abc.png"},
		},
	}
	assert.Equal(t, "https://s2.loli.net/abc.png", res.PrimaryURL())

	assert.Empty(t, (&AggregateResult{}).PrimaryURL())
}

func TestUploadRequest_BackendParams(t *testing.T) {
	req := &UploadRequest{
		Params: map[string]remote.Params{
			"github": {"branch": "main"},
		},
	}

	p := req.BackendParams("github")
	branch, ok := p.String("branch")
	assert.True(t, ok)
	assert.Equal(t, "main", branch)

	assert.Nil(t, req.BackendParams("weibo"))
	assert.Nil(t, (&UploadRequest{}).BackendParams("weibo"))
}
