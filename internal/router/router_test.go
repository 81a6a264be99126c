package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teamscope/teamscope/internal/config"
	"github.com/teamscope/teamscope/internal/models"
)

func testRouter() *Router {
	return New(config.RouterConfig{
		ConfidenceThreshold: 0.6,
		Epsilon:             0.05,
		MaxCandidates:       2,
	})
}

func TestRoute(t *testing.T) {
	r := testRouter()

	tests := []struct {
		query     string
		wantFirst models.NodeType
		wantAll   bool
	}{
		{query: "who owns the auth service?", wantFirst: models.NodeTypePerson},
		{query: "who is the maintainer of the payments repo", wantFirst: models.NodeTypePerson},
		{query: "which PRs were merged last week", wantFirst: models.NodeTypePullRequest},
		{query: "open bugs in the billing ticket queue", wantFirst: models.NodeTypeIssue},
		{query: "commits that touched the login flow", wantFirst: models.NodeTypeCommit},
		{query: "what was discussed in the slack channel", wantFirst: models.NodeTypeMessage},
		{query: "tell me about the weather", wantAll: true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			sel := r.Route(tt.query)
			if tt.wantAll {
				assert.Equal(t, models.SearchableTypes, sel.Types)
				return
			}
			assert.NotEmpty(t, sel.Types)
			assert.Equal(t, tt.wantFirst, sel.Types[0])
			assert.GreaterOrEqual(t, sel.Confidence, 0.6)
		})
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	r := testRouter()

	first := r.Route("who reviewed the auth PR?")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Route("who reviewed the auth PR?"))
	}
}

func TestRouteCapsCandidates(t *testing.T) {
	r := testRouter()

	sel := r.Route("who reviewed the pr")
	assert.LessOrEqual(t, len(sel.Types), 2)
}

func TestRouteReasonIsAlwaysSet(t *testing.T) {
	r := testRouter()
	for _, q := range []string{"who owns auth", "random words entirely", ""} {
		assert.NotEmpty(t, r.Route(q).Reason)
	}
}
