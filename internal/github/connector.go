package github

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gh "github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/teamscope/teamscope/internal/config"
)

// Connector pulls activity for a repository from the GitHub API and
// renders it as an ingestion payload. It never writes to the graph
// itself; the ingestion service owns all canonicalization, so API
// pulls and externally pushed payloads take the same path.
type Connector struct {
	client  *gh.Client
	limiter *rate.Limiter
	log     *logrus.Entry
}

// NewConnector creates an authenticated connector. GitHub allows
// 5,000 requests/hour; the default limiter stays well under that.
func NewConnector(cfg config.GitHubConfig) (*Connector, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 1
	}

	return &Connector{
		client:  gh.NewClient(nil).WithAuthToken(cfg.Token),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     logrus.WithField("component", "github_connector"),
	}, nil
}

// payload mirrors the ingestion schema for POST /api/ingest/github.
type payload struct {
	Repository   repoSection     `json:"repository"`
	PullRequests []prSection     `json:"pull_requests,omitempty"`
	Issues       []issueSection  `json:"issues,omitempty"`
	Commits      []commitSection `json:"commits,omitempty"`
}

type repoSection struct {
	FullName    string `json:"full_name"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
}

type actorSection struct {
	Login string `json:"login"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type prSection struct {
	Number    int          `json:"number"`
	Title     string       `json:"title"`
	Body      string       `json:"body,omitempty"`
	State     string       `json:"state"`
	Author    actorSection `json:"author"`
	CreatedAt time.Time    `json:"created_at"`
	MergedAt  *time.Time   `json:"merged_at,omitempty"`
}

type issueSection struct {
	Number    int          `json:"number"`
	Title     string       `json:"title"`
	Body      string       `json:"body,omitempty"`
	State     string       `json:"state"`
	Author    actorSection `json:"author"`
	CreatedAt time.Time    `json:"created_at"`
}

type commitSection struct {
	SHA       string       `json:"sha"`
	Message   string       `json:"message"`
	Author    actorSection `json:"author"`
	Timestamp time.Time    `json:"timestamp"`
}

// Pull fetches repository activity since the given time and returns
// it as an ingestion payload.
func (c *Connector) Pull(ctx context.Context, owner, repo string, since time.Time) ([]byte, error) {
	p := payload{}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	repository, _, err := c.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("fetch repository failed: %w", err)
	}
	p.Repository = repoSection{
		FullName:    repository.GetFullName(),
		Description: repository.GetDescription(),
		Language:    repository.GetLanguage(),
	}

	if p.PullRequests, err = c.pullRequests(ctx, owner, repo, since); err != nil {
		return nil, err
	}
	if p.Issues, err = c.issues(ctx, owner, repo, since); err != nil {
		return nil, err
	}
	if p.Commits, err = c.commits(ctx, owner, repo, since); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"repository": p.Repository.FullName,
		"prs":        len(p.PullRequests),
		"issues":     len(p.Issues),
		"commits":    len(p.Commits),
	}).Info("Pulled repository activity")

	return json.Marshal(p)
}

func (c *Connector) pullRequests(ctx context.Context, owner, repo string, since time.Time) ([]prSection, error) {
	opts := &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var out []prSection
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		prs, resp, err := c.client.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list pull requests failed: %w", err)
		}

		done := false
		for _, pr := range prs {
			if pr.GetUpdatedAt().Time.Before(since) {
				done = true
				break
			}
			section := prSection{
				Number:    pr.GetNumber(),
				Title:     pr.GetTitle(),
				Body:      pr.GetBody(),
				State:     pr.GetState(),
				Author:    actorSection{Login: pr.GetUser().GetLogin()},
				CreatedAt: pr.GetCreatedAt().Time,
			}
			if pr.MergedAt != nil {
				t := pr.GetMergedAt().Time
				section.MergedAt = &t
			}
			out = append(out, section)
		}

		if done || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *Connector) issues(ctx context.Context, owner, repo string, since time.Time) ([]issueSection, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "all",
		Since:       since,
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var out []issueSection
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		issues, resp, err := c.client.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list issues failed: %w", err)
		}

		for _, issue := range issues {
			// PRs show up in the issues listing too; skip them here.
			if issue.IsPullRequest() {
				continue
			}
			out = append(out, issueSection{
				Number:    issue.GetNumber(),
				Title:     issue.GetTitle(),
				Body:      issue.GetBody(),
				State:     issue.GetState(),
				Author:    actorSection{Login: issue.GetUser().GetLogin()},
				CreatedAt: issue.GetCreatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *Connector) commits(ctx context.Context, owner, repo string, since time.Time) ([]commitSection, error) {
	opts := &gh.CommitsListOptions{
		Since:       since,
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var out []commitSection
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		commits, resp, err := c.client.Repositories.ListCommits(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list commits failed: %w", err)
		}

		for _, commit := range commits {
			login := commit.GetAuthor().GetLogin()
			if login == "" {
				// Commits without a linked GitHub account resolve by email.
				login = commit.GetCommit().GetAuthor().GetEmail()
			}
			if login == "" {
				continue
			}
			out = append(out, commitSection{
				SHA:     commit.GetSHA(),
				Message: commit.GetCommit().GetMessage(),
				Author: actorSection{
					Login: login,
					Name:  commit.GetCommit().GetAuthor().GetName(),
					Email: commit.GetCommit().GetAuthor().GetEmail(),
				},
				Timestamp: commit.GetCommit().GetAuthor().GetDate().Time,
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}
